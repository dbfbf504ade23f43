package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsTasks(t *testing.T) {
	s := New()
	var n1, n2 int32
	s.Register("fast", 10*time.Millisecond, func() { atomic.AddInt32(&n1, 1) })
	s.Register("slow", 50*time.Millisecond, func() { atomic.AddInt32(&n2, 1) })

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&n1), int32(5), "fast task should fire repeatedly")
	assert.GreaterOrEqual(t, atomic.LoadInt32(&n2), int32(1), "slow task should fire at least once")
	assert.Greater(t, atomic.LoadInt32(&n1), atomic.LoadInt32(&n2))
}

func TestScheduler_PanicDoesNotStopLoop(t *testing.T) {
	s := New()
	var ok int32
	s.Register("boom", 10*time.Millisecond, func() { panic("oh no") })
	s.Register("fine", 10*time.Millisecond, func() { atomic.AddInt32(&ok, 1) })

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&ok), int32(2), "other tasks keep running after a panic")
}

func TestScheduler_RejectsBadInterval(t *testing.T) {
	s := New()
	s.Register("bad", 0, func() { t.Fatal("should never run") })
	require.Empty(t, s.tasks)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.Run(ctx) // returns on ctx without tasks
}
