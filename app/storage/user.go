package storage

import (
	"fmt"
	"time"
)

// user ranks, persisted as plain integers. Negative rank means blacklisted.
const (
	RankAdmin  = 100
	RankMod    = 10
	RankUser   = 0
	RankBanned = -10
)

// MaxRank is the highest rank, used for delivery priority encoding
const MaxRank = RankAdmin

// cooldown ladder: minutes for warnings 0..5, then linear continuation
// 7d, 10d, 13d, ...
var cooldownLadder = []int{1, 5, 25, 120, 720, 4320}

const (
	cooldownLinearM = 4320  // minutes added per extra warning
	cooldownLinearB = 10080 // minutes base of the linear continuation
	warnExpireHours = 7 * 24
)

// RankName returns the human name of a rank
func RankName(rank int) string {
	switch {
	case rank >= RankAdmin:
		return "admin"
	case rank >= RankMod:
		return "mod"
	case rank >= RankUser:
		return "user"
	}
	return "banned"
}

// User is a lounge participant as persisted by the store. A row is never
// deleted, blacklisting keeps it around with a negative rank.
type User struct {
	ID              int64
	Username        string // optional handle, empty if none
	Realname        string
	Rank            int
	Joined          time.Time
	Left            *time.Time // joined iff nil
	LastActive      time.Time
	CooldownUntil   *time.Time
	BlacklistReason string
	Warnings        int
	WarnExpiry      *time.Time
	Karma           int
	HideKarma       bool
	DebugEnabled    bool
	Tripcode        string // "name#password", empty if unset
}

// NewUser creates a user with defaults, joined now
func NewUser(id int64) *User {
	now := time.Now()
	return &User{ID: id, Rank: RankUser, Joined: now, LastActive: now}
}

func (u *User) String() string {
	return fmt.Sprintf("<user #%d aka %s>", u.ID, u.FormattedName())
}

// IsJoined reports if the user currently participates in the lounge
func (u *User) IsJoined() bool { return u.Left == nil && u.Rank >= 0 }

// IsBlacklisted reports if the user has been blacklisted
func (u *User) IsBlacklisted() bool { return u.Rank < 0 }

// IsInCooldown reports if the user is cooled down at this instant
func (u *User) IsInCooldown() bool {
	return u.CooldownUntil != nil && !u.CooldownUntil.Before(time.Now())
}

// FormattedName returns "@username" or the real name if no handle is set
func (u *User) FormattedName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return u.Realname
}

// SetLeft marks the user as left (or re-joined with v=false)
func (u *User) SetLeft(v bool) {
	if v {
		now := time.Now()
		u.Left = &now
		return
	}
	u.Left = nil
}

// SetBlacklisted bans the user: negative rank, left set, reason kept
func (u *User) SetBlacklisted(reason string) {
	u.SetLeft(true)
	u.Rank = RankBanned
	u.BlacklistReason = reason
}

// AddWarning increments the warning counter, applies the next cooldown from
// the ladder and returns its duration. The warn expiry is pushed 7 days out.
func (u *User) AddWarning() time.Duration {
	var minutes int
	if u.Warnings < len(cooldownLadder) {
		minutes = cooldownLadder[u.Warnings]
	} else {
		minutes = cooldownLinearM*(u.Warnings-len(cooldownLadder)) + cooldownLinearB
	}
	d := time.Duration(minutes) * time.Minute
	until := time.Now().Add(d)
	u.CooldownUntil = &until
	u.Warnings++
	expiry := time.Now().Add(warnExpireHours * time.Hour)
	u.WarnExpiry = &expiry
	return d
}

// RemoveWarning forgives one warning, keeping the expiry alive while any remain
func (u *User) RemoveWarning() {
	if u.Warnings > 0 {
		u.Warnings--
	}
	if u.Warnings > 0 {
		expiry := time.Now().Add(warnExpireHours * time.Hour)
		u.WarnExpiry = &expiry
		return
	}
	u.WarnExpiry = nil
}

// MessagePriority encodes delivery priority, lower is sooner: rank class in
// the high bits, minutes of inactivity in the low 16 bits.
func (u *User) MessagePriority() int {
	inactive := int(time.Since(u.LastActive) / time.Minute)
	if inactive > 0xffff {
		inactive = 0xffff
	}
	if inactive < 0 {
		inactive = 0
	}
	rank := u.Rank
	if rank < 0 {
		rank = 0
	}
	return (MaxRank-rank)<<16 | inactive
}

// ObfuscatedKarma buckets karma to the nearest cutoff so mods can gauge a
// user without identifying them by an exact number
func (u *User) ObfuscatedKarma() int {
	for _, cutoff := range []int{100, 50, 10} {
		if u.Karma >= cutoff || -u.Karma >= cutoff {
			if u.Karma > cutoff {
				return cutoff
			}
			if u.Karma < -cutoff {
				return -cutoff
			}
			return u.Karma
		}
	}
	return 0
}

// ObfuscatedID returns the user's 4-character base-32 daily id
func (u *User) ObfuscatedID() string {
	return obfuscatedID(u.ID, time.Now(), obfuscationSalt)
}

var obfuscationSalt []byte

// SetObfuscationSalt installs the optional secret salt mixed into obfuscated
// ids, making them unlinkable to raw user ids even across operators
func SetObfuscationSalt(salt []byte) { obfuscationSalt = salt }

// dayOrdinal counts days since 0001-01-01, first day is 1
func dayOrdinal(t time.Time) int64 {
	epoch := time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	y, m, d := t.UTC().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return int64(day.Sub(epoch)/(24*time.Hour)) + 1
}

func obfuscatedID(id int64, day time.Time, salt []byte) string {
	ord := dayOrdinal(day)
	if ord&0xff == 0 { // zero bits are bad for multiplicative hashing
		ord >>= 8
	}
	var value uint32
	if len(salt) > 0 {
		value = fnv32a([]int64{id, ord}, salt) & 0xffffff
	} else {
		value = uint32(id*ord) & 0xffffff
	}
	const alpha = "0123456789abcdefghijklmnopqrstuv"
	out := make([]byte, 4)
	for i, shift := range []uint{0, 5, 10, 15} {
		out[i] = alpha[(value>>shift)%32]
	}
	return string(out)
}

// fnv32a hashes integer parts (trivial little endian, absolute value) and
// byte parts with 32-bit FNV-1a
func fnv32a(intParts []int64, byteParts ...[]byte) uint32 {
	h := uint32(0x811c9dc5)
	const p = uint32(0x01000193)
	for _, i := range intParts {
		if i < 0 {
			i = -i
		}
		for i != 0 {
			h = (h ^ uint32(i&0xff)) * p
			i >>= 8
		}
	}
	for _, bs := range byteParts {
		for _, b := range bs {
			h = (h ^ uint32(b)) * p
		}
	}
	return h
}

// SystemConfig is the persisted singleton of operator-editable texts
type SystemConfig struct {
	MOTD    string `db:"motd" json:"motd"`
	Privacy string `db:"privacy" json:"privacy"`
}
