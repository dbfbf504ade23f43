// Package msgcache keeps the in-memory identity of relayed messages: the
// mapping between an internal message id (msid) and the per-recipient
// telegram message ids it produced, plus per-message metadata. Entries
// expire 24 hours after creation.
package msgcache

import (
	"log"
	"sync"
	"time"
)

// TTL is how long a message stays in the cache
const TTL = 24 * time.Hour

// Message is the cached metadata of one relayed message
type Message struct {
	UserID      int64 // author, 0 for system messages visible to many recipients
	Time        time.Time
	Warned      bool // a moderator warning has been issued for this message
	CleanupSeen bool // already collected by a cleanup pass
	upvoted     map[int64]struct{}
}

// NewMessage creates a cache entry for a message authored by userID,
// pass 0 for system-generated messages.
func NewMessage(userID int64) *Message {
	return &Message{UserID: userID, Time: time.Now(), upvoted: map[int64]struct{}{}}
}

// Expired reports if the entry passed its TTL at the given instant
func (m *Message) Expired(now time.Time) bool {
	return !now.Before(m.Time.Add(TTL))
}

// HasUpvoted reports if the user already gave karma for this message
func (m *Message) HasUpvoted(uid int64) bool {
	_, ok := m.upvoted[uid]
	return ok
}

// AddUpvote records a karma giver
func (m *Message) AddUpvote(uid int64) {
	if m.upvoted == nil {
		m.upvoted = map[int64]struct{}{}
	}
	m.upvoted[uid] = struct{}{}
}

// Upvotes returns the number of distinct karma givers
func (m *Message) Upvotes() int { return len(m.upvoted) }

// Cache maps msid -> Message and (uid, msid) <-> telegram message id.
// All operations are serialized by one lock. The reverse index makes
// lookup-by-external-id O(1) instead of scanning the per-user submap.
type Cache struct {
	mu       sync.Mutex
	nextMsid int
	msgs     map[int]*Message
	fwd      map[int64]map[int]int // uid -> msid -> external id
	rev      map[int64]map[int]int // uid -> external id -> msid
}

// New creates an empty cache
func New() *Cache {
	return &Cache{
		nextMsid: 1, // keep 0 free to mean "no msid"
		msgs:     make(map[int]*Message),
		fwd:      make(map[int64]map[int]int),
		rev:      make(map[int64]map[int]int),
	}
}

// Assign allocates a fresh msid for the message and stores it.
// Msids are monotonic and never reused within a process lifetime.
func (c *Cache) Assign(m *Message) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	msid := c.nextMsid
	c.nextMsid++
	c.msgs[msid] = m
	return msid
}

// Message returns the cached entry or nil if unknown or expired away
func (c *Cache) Message(msid int) *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msgs[msid]
}

// Iterate calls fn for every cached message under the lock. The visitor may
// mutate the message in place but must not call back into the cache.
func (c *Cache) Iterate(fn func(msid int, m *Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for msid, m := range c.msgs {
		fn(msid, m)
	}
}

// SaveMapping records that msid was delivered to uid as telegram message extID
func (c *Cache) SaveMapping(uid int64, msid, extID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fwd[uid] == nil {
		c.fwd[uid] = make(map[int]int)
		c.rev[uid] = make(map[int]int)
	}
	c.fwd[uid][msid] = extID
	c.rev[uid][extID] = msid
}

// LookupByMsid returns the telegram message id msid produced for uid
func (c *Cache) LookupByMsid(uid int64, msid int) (extID int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	extID, ok = c.fwd[uid][msid]
	return extID, ok
}

// LookupByExternal returns the msid behind a telegram message id seen by uid
func (c *Cache) LookupByExternal(uid int64, extID int) (msid int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msid, ok = c.rev[uid][extID]
	return msid, ok
}

// Mappings returns uid -> external id for every delivery of one msid
func (c *Cache) Mappings(msid int) map[int64]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := make(map[int64]int)
	for uid, byMsid := range c.fwd {
		if extID, ok := byMsid[msid]; ok {
			res[uid] = extID
		}
	}
	return res
}

// DeleteMappings drops msid from every user's mapping, both directions
func (c *Cache) DeleteMappings(msid int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteMappingsLocked(msid)
}

func (c *Cache) deleteMappingsLocked(msid int) {
	for uid, byMsid := range c.fwd {
		extID, ok := byMsid[msid]
		if !ok {
			continue
		}
		delete(byMsid, msid)
		delete(c.rev[uid], extID)
	}
}

// Expire removes all entries past their TTL together with their mappings
// and returns the expired msids so callers can purge queued work.
func (c *Cache) Expire() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	var expired []int
	for msid, m := range c.msgs {
		if !m.Expired(now) {
			continue
		}
		expired = append(expired, msid)
		delete(c.msgs, msid)
		c.deleteMappingsLocked(msid)
	}
	if len(expired) > 0 {
		log.Printf("[DEBUG] expired %d entries from message cache", len(expired))
	}
	return expired
}

// Len returns the number of cached messages
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}
