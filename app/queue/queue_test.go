package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PriorityOrder(t *testing.T) {
	q := New[string]()
	q.Put(5, "low")
	q.Put(1, "high")
	q.Put(3, "mid")

	for _, want := range []string{"high", "mid", "low"} {
		v, ok := q.Get()
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
}

func TestQueue_FIFOWithinPriority(t *testing.T) {
	q := New[int]()
	for i := 0; i < 10; i++ {
		q.Put(7, i)
	}
	for i := 0; i < 10; i++ {
		v, ok := q.Get()
		require.True(t, ok)
		assert.Equal(t, i, v, "equal priorities must come out in insertion order")
	}
}

func TestQueue_DeleteTombstones(t *testing.T) {
	q := New[int]()
	for i := 0; i < 6; i++ {
		q.Put(i, i)
	}
	n := q.Delete(func(v int) bool { return v%2 == 0 })
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, q.Len())

	var got []int
	for i := 0; i < 3; i++ {
		v, ok := q.Get()
		require.True(t, ok)
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 3, 5}, got)
}

func TestQueue_GetBlocksUntilPut(t *testing.T) {
	q := New[string]()
	done := make(chan string)
	go func() {
		v, ok := q.Get()
		require.True(t, ok)
		done <- v
	}()

	select {
	case <-done:
		t.Fatal("Get returned before anything was put")
	case <-time.After(20 * time.Millisecond):
	}

	q.Put(1, "wake up")
	select {
	case v := <-done:
		assert.Equal(t, "wake up", v)
	case <-time.After(time.Second):
		t.Fatal("Get did not wake up")
	}
}

func TestQueue_CloseDrains(t *testing.T) {
	q := New[int]()
	q.Put(1, 42)
	q.Close()
	q.Put(1, 43) // discarded after close

	v, ok := q.Get()
	require.True(t, ok, "pending item is still drained")
	assert.Equal(t, 42, v)

	_, ok = q.Get()
	assert.False(t, ok)
}

func TestQueue_ConcurrentProducersConsumers(t *testing.T) {
	q := New[int]()
	const n = 100

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				q.Put(i%10, base+i)
			}
		}(p * 1000)
	}

	var mu sync.Mutex
	seen := map[int]bool{}
	var cg sync.WaitGroup
	for c := 0; c < 4; c++ {
		cg.Add(1)
		go func() {
			defer cg.Done()
			for {
				v, ok := q.Get()
				if !ok {
					return
				}
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	for q.Len() > 0 {
		time.Sleep(time.Millisecond)
	}
	q.Close()
	cg.Wait()
	assert.Len(t, seen, 4*n)
}
