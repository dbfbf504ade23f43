// Package relay is the telegram side of the bot: it listens for private
// messages, feeds them through the engine, and fans accepted messages out to
// every lounge member through a priority queue of delivery thunks. It is the
// only package that touches the bot API.
package relay

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	tbapi "github.com/OvyFlash/telegram-bot-api"
	"github.com/go-pkgz/repeater"

	"github.com/tg-lounge/tg-lounge/app/core"
	"github.com/tg-lounge/tg-lounge/app/msgcache"
	"github.com/tg-lounge/tg-lounge/app/queue"
	"github.com/tg-lounge/tg-lounge/app/replies"
	"github.com/tg-lounge/tg-lounge/app/scheduler"
	"github.com/tg-lounge/tg-lounge/app/storage"
)

//go:generate moq --out mocks/tb_api.go --pkg mocks --with-resets --skip-ensure . TbAPI

// TbAPI is an interface for telegram bot API, only subset of methods used
type TbAPI interface {
	GetUpdatesChan(config tbapi.UpdateConfig) tbapi.UpdatesChannel
	Send(c tbapi.Chattable) (tbapi.Message, error)
	Request(c tbapi.Chattable) (*tbapi.APIResponse, error)
	GetChat(config tbapi.ChatInfoConfig) (tbapi.ChatFullInfo, error)
}

// delivery timing
const (
	maxRetryAfter   = 30 * time.Second // cap on the server-suggested rate limit sleep
	cacheExpiryTick = 6 * time.Hour
	pollTimeout     = 20 // long poll, seconds
)

// Config is the transport part of the bot configuration
type Config struct {
	AllowContacts   bool
	AllowDocuments  bool
	AllowRemove     bool // enables /remove for mods
	EnableSigning   bool
	HideForwardFrom []string // forwards from these bots are unwrapped, not passed through
	Workers         int      // delivery workers, 1 keeps strict priority order
	AuditLog        string   // json-lines audit file, empty disables
}

// item is one unit of queued transport work. msid is 0 for direct command
// replies, which makes them immune to message deletion sweeps.
type item struct {
	uid   int64 // recipient
	msid  int
	thunk func()
}

// Relay ties the bot API, the engine and the delivery queue together
type Relay struct {
	api   TbAPI
	cache *msgcache.Cache
	cfg   Config
	q     *queue.Queue[item]
	net   *Network
	audit *auditLog

	engineOnce sync.Once
	engine     *core.Core
}

// New creates the relay. The engine is attached later with SetCore since the
// two reference each other.
func New(api TbAPI, mc *msgcache.Cache, net *Network, cfg Config) *Relay {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	r := &Relay{api: api, cache: mc, cfg: cfg, q: queue.New[item](), net: net}
	if cfg.AuditLog != "" {
		r.audit = newAuditLog(cfg.AuditLog)
	}
	return r
}

// SetCore attaches the engine, must be called once before Run
func (r *Relay) SetCore(c *core.Core) {
	r.engineOnce.Do(func() { r.engine = c })
}

// RegisterTasks installs the queue hygiene job: entries whose msid fell out
// of the cache have nowhere to record deliveries, drop them.
func (r *Relay) RegisterTasks(sched *scheduler.Scheduler) {
	sched.Register("cache expiry", cacheExpiryTick, func() {
		expired := r.cache.Expire()
		if len(expired) == 0 {
			return
		}
		gone := make(map[int]bool, len(expired))
		for _, msid := range expired {
			gone[msid] = true
		}
		if n := r.q.Delete(func(it item) bool { return gone[it.msid] }); n > 0 {
			log.Printf("[INFO] dropped %d queued deliveries for expired messages", n)
		}
	})
}

// Run starts the delivery workers and the update listener, blocking until ctx
// is canceled
func (r *Relay) Run(ctx context.Context) error {
	if r.engine == nil {
		return errors.New("relay started without an engine")
	}

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.worker()
		}()
	}

	// the long poll channel closes on transient api failures, restart it
	err := repeater.NewDefault(10, 2*time.Second).Do(ctx, func() error {
		return r.listen(ctx)
	})

	r.q.Close()
	wg.Wait()
	if r.audit != nil {
		_ = r.audit.Close()
	}
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (r *Relay) worker() {
	for {
		it, ok := r.q.Get()
		if !ok {
			return
		}
		r.call(it)
	}
}

func (r *Relay) call(it item) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[ERROR] delivery for user %d panicked: %v", it.uid, p)
		}
	}()
	it.thunk()
}

// priorityFor encodes delivery priority for a recipient, lower is sooner
func (r *Relay) priorityFor(uid int64) int {
	u, err := r.engine.GetUser(uid)
	if err != nil {
		return storage.MaxRank << 16
	}
	return u.MessagePriority()
}

// Reply enqueues a direct message to one user, part of core.Sender
func (r *Relay) Reply(uid int64, rep replies.Reply) {
	html := rep.Render()
	if html == "" {
		return
	}
	r.q.Put(r.priorityFor(uid), item{uid: uid, thunk: func() {
		r.sendHTML(uid, 0, html, 0)
	}})
}

// ReplyTo enqueues a direct message referencing the user's own message
func (r *Relay) ReplyTo(uid int64, rep replies.Reply, replyExtID int) {
	html := rep.Render()
	if html == "" {
		return
	}
	r.q.Put(r.priorityFor(uid), item{uid: uid, thunk: func() {
		r.sendHTML(uid, 0, html, replyExtID)
	}})
}

// Broadcast fans a system message out to every lounge member, part of core.Sender
func (r *Relay) Broadcast(msid int, html string) {
	if r.audit != nil {
		r.audit.record("broadcast", 0, msid)
	}
	for _, u := range r.engine.JoinedUsers() {
		uid := u.ID
		r.q.Put(u.MessagePriority(), item{uid: uid, msid: msid, thunk: func() {
			r.sendHTML(uid, msid, html, 0)
		}})
	}
}

// Delete removes relayed messages everywhere, part of core.Sender. Queued
// sends are tombstoned first so pending fan-out never hits the wire, then a
// delete thunk is enqueued per already-delivered copy.
func (r *Relay) Delete(msids []int) {
	doomed := make(map[int]bool, len(msids))
	for _, msid := range msids {
		doomed[msid] = true
	}
	r.q.Delete(func(it item) bool { return it.msid != 0 && doomed[it.msid] })

	for _, msid := range msids {
		if r.audit != nil {
			r.audit.record("delete", 0, msid)
		}
		// the author's own mapping points at their original message, recorded
		// for reply linkage only. Nothing to delete there.
		var authorID int64
		if m := r.cache.Message(msid); m != nil {
			authorID = m.UserID
		}
		for uid, extID := range r.cache.Mappings(msid) {
			if uid == authorID {
				continue
			}
			uid, extID := uid, extID
			r.q.Put(r.priorityFor(uid), item{uid: uid, thunk: func() {
				if _, err := r.api.Request(tbapi.DeleteMessageConfig{BaseChatMessage: tbapi.BaseChatMessage{ChatConfig: tbapi.ChatConfig{ChatID: uid}, MessageID: extID}}); err != nil {
					log.Printf("[WARN] failed to delete message %d for user %d: %v", extID, uid, err)
				}
			}})
		}
		r.cache.DeleteMappings(msid)
	}
}

// StopInvoked drops queued deliveries to a user, and with deleteOut also the
// queued fan-out of messages they authored, part of core.Sender
func (r *Relay) StopInvoked(uid int64, deleteOut bool) {
	r.q.Delete(func(it item) bool {
		if it.uid == uid {
			return true
		}
		if deleteOut && it.msid != 0 {
			if m := r.cache.Message(it.msid); m != nil && m.UserID == uid {
				return true
			}
		}
		return false
	})
}

// sendHTML delivers one html message, recording the mapping when it belongs
// to a relayed msid
func (r *Relay) sendHTML(uid int64, msid int, html string, replyExtID int) {
	msg := tbapi.NewMessage(uid, html)
	msg.ParseMode = tbapi.ModeHTML
	msg.LinkPreviewOptions = tbapi.LinkPreviewOptions{IsDisabled: true}
	if replyExtID != 0 {
		msg.ReplyParameters = tbapi.ReplyParameters{MessageID: replyExtID}
	}
	sent, ok := r.invoke(uid, msg)
	if ok && msid != 0 {
		r.cache.SaveMapping(uid, msid, sent.MessageID)
	}
}

// invoke sends one Chattable with the full error policy: honor rate limits
// (capped), force-leave unreachable peers, drop on permission errors, give up
// on the rest
func (r *Relay) invoke(uid int64, c tbapi.Chattable) (tbapi.Message, bool) {
	for {
		sent, err := r.api.Send(c)
		if err == nil {
			return sent, true
		}

		var apiErr *tbapi.Error
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			wait := time.Duration(apiErr.RetryAfter) * time.Second
			if wait > maxRetryAfter {
				wait = maxRetryAfter
			}
			log.Printf("[WARN] rate limited sending to %d, sleeping %v", uid, wait)
			time.Sleep(wait)
			continue
		}
		if peerGone(err) {
			r.engine.ForceUserLeave(uid)
			return tbapi.Message{}, false
		}
		if strings.Contains(err.Error(), "VOICE_MESSAGES_FORBIDDEN") {
			log.Printf("[DEBUG] user %d doesn't accept voice messages, dropped", uid)
			return tbapi.Message{}, false
		}
		log.Printf("[ERROR] failed to send to %d: %v", uid, err)
		return tbapi.Message{}, false
	}
}

// peerGone reports errors meaning the private chat is unreachable for good
func peerGone(err error) bool {
	for _, marker := range []string{
		"bot was blocked by the user",
		"user is deactivated",
		"PEER_ID_INVALID",
		"bot can't initiate conversation",
	} {
		if strings.Contains(err.Error(), marker) {
			return true
		}
	}
	return false
}
