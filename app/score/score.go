// Package score tracks per-user spam scores with two-tier saturation and
// periodic decay, and provides the scoring constants for relayed messages.
package score

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// spam limits: Soft is the cap above which messages are rejected, a single
// message may overshoot into Hard once (one grace message).
const (
	SoftLimit = 3
	HardLimit = 6

	// DecayInterval is how often every tracked score drops by one
	DecayInterval = 5 * time.Second
)

// per-message scoring constants
const (
	BaseMessage  = 0.75
	BaseForward  = 1.25
	Sticker      = 1.5
	PerCharacter = 0.002
	PerLineBreak = 0.1
	Reject       = 999 // always pushes past HardLimit
)

// Keeper holds the in-memory spam scores
type Keeper struct {
	mu     sync.Mutex
	scores map[int64]float64
}

// NewKeeper creates an empty score keeper
func NewKeeper() *Keeper {
	return &Keeper{scores: make(map[int64]float64)}
}

// Increase adds n to the user's score and reports if the message should be
// accepted. A score already above SoftLimit rejects outright; crossing
// SoftLimit saturates the score to HardLimit and accepts only if the sum
// still fits under HardLimit.
func (k *Keeper) Increase(uid int64, n float64) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	s := k.scores[uid]
	if s > SoftLimit {
		return false
	}
	if s+n > SoftLimit {
		k.scores[uid] = HardLimit
		return s+n <= HardLimit
	}
	k.scores[uid] = s + n
	return true
}

// Decay decrements every tracked score by one, dropping entries at zero.
// Meant to run every DecayInterval from the scheduler.
func (k *Keeper) Decay() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for uid, s := range k.scores {
		s--
		if s <= 0 {
			delete(k.scores, uid)
			continue
		}
		k.scores[uid] = s
	}
}

// Tracked returns the number of users with a non-zero score
func (k *Keeper) Tracked() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.scores)
}

// TextAllowed rejects text containing Mathematical Alphanumeric Symbols
// (U+1D400..U+1D7FF), used for convincing looking fake-bold spam.
func TextAllowed(text string) bool {
	for _, r := range text {
		if r >= 0x1D400 && r <= 0x1D7FF {
			return false
		}
	}
	return true
}

// ForText scores a plain text message
func ForText(text string) float64 {
	if !TextAllowed(text) {
		return Reject
	}
	return BaseMessage + float64(utf8.RuneCountInString(text))*PerCharacter +
		float64(strings.Count(text, "\n"))*PerLineBreak
}
