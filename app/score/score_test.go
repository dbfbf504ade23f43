package score

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeeper_Increase(t *testing.T) {
	k := NewKeeper()

	// short messages score just above BaseMessage, three fit under SoftLimit
	n := ForText("hello")
	assert.InDelta(t, 0.76, n, 0.001)
	assert.True(t, k.Increase(1, n))
	assert.True(t, k.Increase(1, n))
	assert.True(t, k.Increase(1, n))

	// the fourth crosses SoftLimit, still fits under HardLimit so it is the
	// grace message, but the score saturates to HardLimit
	assert.True(t, k.Increase(1, n))

	// from here everything is rejected until decay brings the score down
	assert.False(t, k.Increase(1, n))
	assert.False(t, k.Increase(1, 0.01))
}

func TestKeeper_HardLimitOvershoot(t *testing.T) {
	k := NewKeeper()
	// a single huge message crosses both limits at once and is rejected,
	// no grace for it
	assert.False(t, k.Increase(1, Reject))
	assert.False(t, k.Increase(1, 0.1))
}

func TestKeeper_Decay(t *testing.T) {
	k := NewKeeper()
	k.Increase(1, 2.5)
	k.Increase(2, 0.8)
	assert.Equal(t, 2, k.Tracked())

	k.Decay()
	assert.Equal(t, 1, k.Tracked(), "scores at or below zero are dropped")

	k.Decay()
	k.Decay()
	assert.Equal(t, 0, k.Tracked())
	assert.True(t, k.Increase(1, 0.76), "fully decayed user accepted again")
}

func TestKeeper_IndependentUsers(t *testing.T) {
	k := NewKeeper()
	for i := 0; i < 10; i++ {
		k.Increase(1, 1)
	}
	assert.False(t, k.Increase(1, 0.76))
	assert.True(t, k.Increase(2, 0.76), "one user's spam doesn't affect another")
}

func TestForText(t *testing.T) {
	assert.InDelta(t, BaseMessage, ForText(""), 0.0001)
	assert.InDelta(t, 0.75+5*0.002, ForText("hello"), 0.0001)
	assert.InDelta(t, 0.75+11*0.002+0.1, ForText("hello\nworld"), 0.0001)

	// rune count, not byte count
	assert.InDelta(t, 0.75+3*0.002, ForText("привет"[:6]), 0.0001)

	long := strings.Repeat("a", 1000)
	assert.InDelta(t, 0.75+2.0, ForText(long), 0.0001)
}

func TestTextAllowed(t *testing.T) {
	assert.True(t, TextAllowed("regular text, даже unicode"))
	assert.False(t, TextAllowed("look 𝐛𝐨𝐥𝐝 fake-formatting"), "mathematical alphanumerics are spam markers")
	assert.Equal(t, float64(Reject), ForText("𝐬𝐩𝐚𝐦"))
}
