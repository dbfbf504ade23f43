// Package core implements the lounge engine: membership, ranks, warnings,
// karma and the relay admission gate. It owns the store, the message cache
// and the spam scores, and talks to telegram only through the Sender
// interface, so everything here is testable with a recording fake.
package core

import (
	"log"
	"strings"
	"sync"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"

	"github.com/tg-lounge/tg-lounge/app/msgcache"
	"github.com/tg-lounge/tg-lounge/app/replies"
	"github.com/tg-lounge/tg-lounge/app/scheduler"
	"github.com/tg-lounge/tg-lounge/app/score"
	"github.com/tg-lounge/tg-lounge/app/stats"
	"github.com/tg-lounge/tg-lounge/app/storage"
)

// engine timing constants
const (
	DefaultSignInterval = 10 * time.Minute     // min distance between signed messages per user
	MotdRemindAfter     = 181 * 24 * time.Hour // returning after this long gets the motd again
	ActiveWindow        = 7 * 24 * time.Hour   // lastActive cutoff for the extended /users count
	WarnSweepInterval   = 15 * time.Minute

	KarmaAmount      = 1  // karma given by one +1
	KarmaWarnPenalty = 10 // karma taken by one warning
)

// Sender is the transport side of the engine. Implemented by the relay, all
// methods enqueue and return quickly.
type Sender interface {
	Reply(uid int64, r replies.Reply) // direct message to one user, not cached
	Broadcast(msid int, html string)  // html fan-out to all joined users, recorded under msid
	Delete(msids []int)               // remove the delivered copies of cached messages

	// StopInvoked drops queued deliveries to a user who left. With deleteOut
	// it also drops their authored messages still waiting in the queue.
	StopInvoked(uid int64, deleteOut bool)
}

// Config is the engine part of the bot configuration
type Config struct {
	BlacklistContact string        // shown to blacklisted users, optional
	EnableSigning    bool          // /sign and /tsign
	MediaLimitPeriod time.Duration // new users can't post media or forwards for this long, 0 disables
	SignInterval     time.Duration // min distance between signed messages, DefaultSignInterval if 0
	SecretSalt       string        // mixed into obfuscated ids and tripcodes
	Version          string
}

// Core is the engine. One instance per bot, all exported methods are safe for
// concurrent use.
type Core struct {
	store  storage.Store
	cache  *msgcache.Cache
	scores *score.Keeper
	sender Sender
	cfg    Config

	lock     sync.Mutex
	signLast cache.Cache[int64, time.Time]

	// sliding activity windows feeding the stats snapshot
	active15m cache.Cache[int64, struct{}]
	active2h  cache.Cache[int64, struct{}]
	active12h cache.Cache[int64, struct{}]

	relayed    *stats.Counter
	rejected   *stats.Counter
	warnsGiven *stats.Counter
	karmaGiven *stats.Counter

	now func() time.Time // time source, replaced in tests
}

// New creates the engine
func New(store storage.Store, mc *msgcache.Cache, sender Sender, cfg Config) *Core {
	if cfg.SignInterval <= 0 {
		cfg.SignInterval = DefaultSignInterval
	}
	return &Core{
		store:     store,
		cache:     mc,
		scores:    score.NewKeeper(),
		sender:    sender,
		cfg:       cfg,
		signLast:  cache.NewCache[int64, time.Time]().WithTTL(cfg.SignInterval),
		active15m: cache.NewCache[int64, struct{}]().WithTTL(15 * time.Minute),
		active2h:  cache.NewCache[int64, struct{}]().WithTTL(2 * time.Hour),
		active12h: cache.NewCache[int64, struct{}]().WithTTL(12 * time.Hour),
		now:       time.Now,
	}
}

// touchActivity refreshes the sliding activity windows for a user
func (c *Core) touchActivity(uid int64) {
	c.active15m.Set(uid, struct{}{}, 0)
	c.active2h.Set(uid, struct{}{}, 0)
	c.active12h.Set(uid, struct{}{}, 0)
}

// Cache exposes the message cache to the relay
func (c *Core) Cache() *msgcache.Cache { return c.cache }

// RegisterTasks installs the periodic engine jobs
func (c *Core) RegisterTasks(sched *scheduler.Scheduler) {
	sched.Register("score decay", score.DecayInterval, c.scores.Decay)
	sched.Register("warning sweep", WarnSweepInterval, c.expireWarnings)
}

// RegisterStats installs engine metrics into the registry
func (c *Core) RegisterStats(reg *stats.Registry) {
	c.relayed = reg.Counter("messages_relayed")
	c.rejected = reg.Counter("messages_rejected")
	c.warnsGiven = reg.Counter("warnings_given")
	c.karmaGiven = reg.Counter("karma_given")
	reg.RegisterSource("cached_messages", func() int64 { return int64(c.cache.Len()) })
	reg.RegisterSource("spammy_users", func() int64 { return int64(c.scores.Tracked()) })
	reg.RegisterSource("active_users_15m", windowLen(c.active15m))
	reg.RegisterSource("active_users_2h", windowLen(c.active2h))
	reg.RegisterSource("active_users_12h", windowLen(c.active12h))
	reg.RegisterSource("joined_users", func() int64 {
		var n int64
		_ = c.store.IterateUsers(func(u *storage.User) bool {
			if u.IsJoined() {
				n++
			}
			return true
		})
		return n
	})
}

func windowLen(w cache.Cache[int64, struct{}]) func() int64 {
	return func() int64 {
		w.DeleteExpired()
		return int64(w.Len())
	}
}

// Authorize resolves the caller for a command, refreshing their profile and
// activity on the way. Commands below minRank get ok=false with an empty
// reply, which callers treat as a silent drop.
func (c *Core) Authorize(uid int64, username, realname string, minRank int) (*storage.User, replies.Reply, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	u, found := c.getUser(uid)
	if !found {
		return nil, replies.Reply{Type: replies.UserNotInChat}, false
	}
	if u.IsBlacklisted() {
		return nil, replies.Reply{Type: replies.ErrBlacklisted, Reason: u.BlacklistReason, Contact: c.cfg.BlacklistContact}, false
	}
	if !u.IsJoined() {
		return nil, replies.Reply{Type: replies.UserNotInChat}, false
	}
	if u.Rank < minRank {
		return nil, replies.Reply{}, false // silent drop, don't leak mod commands
	}
	u.LastActive = c.now()
	if username != "" || realname != "" {
		u.Username = username
		u.Realname = realname
	}
	if err := c.store.UpdateUser(u); err != nil {
		log.Printf("[ERROR] failed to save %s: %v", u, err)
	}
	c.touchActivity(uid)
	return u, replies.Reply{}, true
}

// expireWarnings forgives one warning for every joined user whose expiry
// passed. Holds the engine lock so the sweep can't overwrite a concurrent
// command's update with a stale record.
func (c *Core) expireWarnings() {
	c.lock.Lock()
	defer c.lock.Unlock()

	now := c.now()
	var due []*storage.User
	err := c.store.IterateUsers(func(u *storage.User) bool {
		if u.IsJoined() && u.WarnExpiry != nil && u.WarnExpiry.Before(now) {
			due = append(due, u)
		}
		return true
	})
	if err != nil {
		log.Printf("[WARN] warning sweep failed: %v", err)
		return
	}
	for _, u := range due {
		u.RemoveWarning()
		if err := c.store.UpdateUser(u); err != nil {
			log.Printf("[WARN] failed to save %s after warning expiry: %v", u, err)
		}
	}
}

// getUser loads a user, mapping absence to ErrNoUserByID semantics at call sites
func (c *Core) getUser(uid int64) (*storage.User, bool) {
	u, err := c.store.GetUser(uid)
	if err != nil {
		return nil, false
	}
	return u, true
}

// findByUsername resolves "@name" or "name" case-insensitively
func (c *Core) findByUsername(name string) (*storage.User, bool) {
	name = strings.ToLower(strings.TrimPrefix(name, "@"))
	var found *storage.User
	_ = c.store.IterateUsers(func(u *storage.User) bool {
		if u.Username != "" && strings.ToLower(u.Username) == name {
			found = u
			return false
		}
		return true
	})
	return found, found != nil
}

// findByOID resolves a 4-character obfuscated id valid today
func (c *Core) findByOID(oid string) (*storage.User, bool) {
	var found *storage.User
	_ = c.store.IterateUsers(func(u *storage.User) bool {
		if u.ObfuscatedID() == oid {
			found = u
			return false
		}
		return true
	})
	return found, found != nil
}

// ResolveUser accepts an obfuscated id or a username and finds the user
func (c *Core) ResolveUser(arg string) (*storage.User, replies.Reply, bool) {
	if strings.HasPrefix(arg, "@") || len(arg) != 4 {
		u, ok := c.findByUsername(arg)
		if !ok {
			return nil, replies.Reply{Type: replies.ErrNoUser}, false
		}
		return u, replies.Reply{}, true
	}
	u, ok := c.findByOID(arg)
	if !ok {
		return nil, replies.Reply{Type: replies.ErrNoUserByID}, false
	}
	return u, replies.Reply{}, true
}

// pushSystemMessage broadcasts an italic system text to all joined users,
// recorded in the cache so mods can act on replies to it
func (c *Core) pushSystemMessage(html string) {
	msid := c.cache.Assign(msgcache.NewMessage(0))
	c.sender.Broadcast(msid, "<em>"+html+"</em>")
}

// messageAuthor returns the cached message and its author for a command that
// replies to a relayed message
func (c *Core) messageAuthor(msid int) (*msgcache.Message, *storage.User, replies.Reply, bool) {
	m := c.cache.Message(msid)
	if m == nil {
		return nil, nil, replies.Reply{Type: replies.ErrNotInCache}, false
	}
	if m.UserID == 0 { // system message, nobody to act on
		return nil, nil, replies.Reply{Type: replies.ErrNotInCache}, false
	}
	u, ok := c.getUser(m.UserID)
	if !ok {
		return nil, nil, replies.Reply{Type: replies.ErrNotInCache}, false
	}
	return m, u, replies.Reply{}, true
}
