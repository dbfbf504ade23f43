package core

import (
	"log"

	"github.com/tg-lounge/tg-lounge/app/msgcache"
	"github.com/tg-lounge/tg-lounge/app/replies"
	"github.com/tg-lounge/tg-lounge/app/score"
	"github.com/tg-lounge/tg-lounge/app/storage"
)

// Kind classifies an incoming message for scoring and media limits
type Kind int

// message kinds
const (
	KindText Kind = iota
	KindMedia
	KindSticker
	KindForward
)

// Incoming describes a message a user wants relayed
type Incoming struct {
	Kind        Kind
	Text        string // text or caption, used for scoring
	Signed      bool   // sent via /sign
	UseTripcode bool   // sent via /tsign
	Username    string // current profile, refreshed on every message
	Realname    string
}

// scoreFor prices a message for the spam gate. Fake-bold text rejects
// regardless of kind. Only plain text pays for its length; media scores a
// flat base no matter how long the caption is.
func scoreFor(in Incoming) float64 {
	if !score.TextAllowed(in.Text) {
		return score.Reject
	}
	switch in.Kind {
	case KindForward:
		return score.BaseForward
	case KindSticker:
		return score.Sticker
	case KindText:
		return score.ForText(in.Text)
	default:
		return score.BaseMessage
	}
}

// PrepareUserMessage runs the admission gate for a user message. On success
// it returns the allocated msid and the author record, otherwise the reply
// explaining the rejection. LastActive is refreshed either way the user is
// still joined.
func (c *Core) PrepareUserMessage(uid int64, in Incoming) (msid int, author *storage.User, rep replies.Reply, ok bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	u, found := c.getUser(uid)
	if !found || u.IsBlacklisted() {
		if found && u.IsBlacklisted() {
			return 0, nil, replies.Reply{Type: replies.ErrBlacklisted, Reason: u.BlacklistReason, Contact: c.cfg.BlacklistContact}, false
		}
		return 0, nil, replies.Reply{Type: replies.UserNotInChat}, false
	}
	if !u.IsJoined() {
		return 0, nil, replies.Reply{Type: replies.UserNotInChat}, false
	}
	if u.IsInCooldown() {
		return 0, nil, replies.Reply{Type: replies.ErrCooldown, Until: *u.CooldownUntil}, false
	}
	if (in.Signed || in.UseTripcode) && !c.cfg.EnableSigning {
		return 0, nil, replies.Reply{Type: replies.ErrCommandDisabled}, false
	}
	if in.UseTripcode && u.Tripcode == "" {
		return 0, nil, replies.Reply{Type: replies.ErrNoTripcode}, false
	}
	if in.Kind != KindText && c.cfg.MediaLimitPeriod > 0 && u.Rank < storage.RankMod &&
		c.now().Sub(u.Joined) < c.cfg.MediaLimitPeriod {
		return 0, nil, replies.Reply{Type: replies.ErrMediaLimit}, false
	}
	if !c.scores.Increase(uid, scoreFor(in)) {
		if c.rejected != nil {
			c.rejected.Inc()
		}
		return 0, nil, replies.Reply{Type: replies.ErrSpammy}, false
	}
	if in.Signed || in.UseTripcode {
		if _, recent := c.signLast.Get(uid); recent {
			return 0, nil, replies.Reply{Type: replies.ErrSpammySign}, false
		}
		c.signLast.Set(uid, c.now(), 0)
	}

	// remind long-absent users of the motd before marking them active again
	if c.now().Sub(u.LastActive) > MotdRemindAfter {
		c.sendMotd(uid)
	}
	u.LastActive = c.now()
	if in.Username != "" || in.Realname != "" {
		u.Username = in.Username
		u.Realname = in.Realname
	}
	if err := c.store.UpdateUser(u); err != nil {
		log.Printf("[ERROR] failed to save %s: %v", u, err)
	}
	c.touchActivity(uid)
	if c.relayed != nil {
		c.relayed.Inc()
	}
	msid = c.cache.Assign(msgcache.NewMessage(uid))
	return msid, u, replies.Reply{}, true
}

// Recipients returns everyone a message from the author fans out to. The
// author is included only with debug mode on, which makes the bot echo your
// own messages back.
func (c *Core) Recipients(author *storage.User) []*storage.User {
	var res []*storage.User
	_ = c.store.IterateUsers(func(u *storage.User) bool {
		if !u.IsJoined() {
			return true
		}
		if u.ID == author.ID && !u.DebugEnabled {
			return true
		}
		res = append(res, u)
		return true
	})
	return res
}

// JoinedUsers returns all current lounge members, for system broadcasts
func (c *Core) JoinedUsers() []*storage.User {
	var res []*storage.User
	_ = c.store.IterateUsers(func(u *storage.User) bool {
		if u.IsJoined() {
			res = append(res, u)
		}
		return true
	})
	return res
}

// GetUser returns the stored record of a user
func (c *Core) GetUser(uid int64) (*storage.User, error) {
	return c.store.GetUser(uid)
}

// UserRank returns the rank of a user, RankBanned if unknown
func (c *Core) UserRank(uid int64) (rank int, joined bool) {
	u, ok := c.getUser(uid)
	if !ok {
		return storage.RankBanned, false
	}
	return u.Rank, u.IsJoined()
}

// ForceUserLeave removes a user the transport can no longer reach
func (c *Core) ForceUserLeave(uid int64) {
	c.lock.Lock()
	defer c.lock.Unlock()

	u, ok := c.getUser(uid)
	if !ok || !u.IsJoined() {
		return
	}
	u.SetLeft(true)
	if err := c.store.UpdateUser(u); err != nil {
		log.Printf("[ERROR] failed to save %s: %v", u, err)
	}
	c.sender.StopInvoked(uid, false)
	log.Printf("[WARN] force leaving %s, can't deliver to them anymore", u)
}
