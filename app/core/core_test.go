package core

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tg-lounge/tg-lounge/app/msgcache"
	"github.com/tg-lounge/tg-lounge/app/replies"
	"github.com/tg-lounge/tg-lounge/app/scheduler"
	"github.com/tg-lounge/tg-lounge/app/storage"
)

// memStore is an in-memory Store for engine tests
type memStore struct {
	mu     sync.Mutex
	users  map[int64]*storage.User
	system *storage.SystemConfig
}

func newMemStore() *memStore {
	return &memStore{users: map[int64]*storage.User{}}
}

func (s *memStore) GetUser(id int64) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) AddUser(u *storage.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("user %d already exists", u.ID)
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *memStore) UpdateUser(u *storage.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *memStore) IterateUsers(fn func(u *storage.User) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		cp := *u
		if !fn(&cp) {
			break
		}
	}
	return nil
}

func (s *memStore) GetSystemConfig() (*storage.SystemConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.system == nil {
		return nil, storage.ErrNotFound
	}
	cp := *s.system
	return &cp, nil
}

func (s *memStore) SetSystemConfig(cfg *storage.SystemConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	s.system = &cp
	return nil
}

func (s *memStore) RegisterTasks(*scheduler.Scheduler) {}
func (s *memStore) Close() error                       { return nil }

// senderMock records everything the engine asks the transport to do
type senderMock struct {
	mu         sync.Mutex
	sent       []sentReply
	broadcasts []broadcast
	deleted    [][]int
	stops      []stopCall
}

type sentReply struct {
	uid int64
	rep replies.Reply
}

type broadcast struct {
	msid int
	html string
}

type stopCall struct {
	uid       int64
	deleteOut bool
}

func (s *senderMock) Reply(uid int64, r replies.Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentReply{uid, r})
}

func (s *senderMock) Broadcast(msid int, html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts = append(s.broadcasts, broadcast{msid, html})
}

func (s *senderMock) Delete(msids []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, append([]int{}, msids...))
}

func (s *senderMock) StopInvoked(uid int64, deleteOut bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops = append(s.stops, stopCall{uid, deleteOut})
}

func (s *senderMock) sentTo(uid int64) []replies.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []replies.Reply
	for _, sr := range s.sent {
		if sr.uid == uid {
			res = append(res, sr.rep)
		}
	}
	return res
}

func prep(t *testing.T, cfg Config) (*Core, *memStore, *senderMock) {
	t.Helper()
	store := newMemStore()
	sender := &senderMock{}
	c := New(store, msgcache.New(), sender, cfg)
	return c, store, sender
}

func TestNew_DefaultSignInterval(t *testing.T) {
	c, _, _ := prep(t, Config{})
	assert.Equal(t, DefaultSignInterval, c.cfg.SignInterval)

	c2, _, _ := prep(t, Config{SignInterval: time.Minute})
	assert.Equal(t, time.Minute, c2.cfg.SignInterval)
}

func TestAuthorize(t *testing.T) {
	c, store, _ := prep(t, Config{BlacklistContact: "@owner"})

	// unknown user
	_, rep, ok := c.Authorize(1, "a", "A", storage.RankUser)
	assert.False(t, ok)
	assert.Equal(t, replies.UserNotInChat, rep.Type)

	c.Join(1, "alice", "Alice")

	// ok, profile refreshed
	u, _, ok := c.Authorize(1, "alice2", "Alice II", storage.RankUser)
	require.True(t, ok)
	assert.Equal(t, "alice2", u.Username)
	got, _ := store.GetUser(1)
	assert.Equal(t, "alice2", got.Username)

	// below required rank gets an empty reply, nothing leaks
	c.Join(2, "bob", "Bob")
	_, rep, ok = c.Authorize(2, "bob", "Bob", storage.RankMod)
	assert.False(t, ok)
	assert.Equal(t, replies.Reply{}, rep, "silent drop for insufficient rank")

	// left user
	c.Leave(2)
	_, rep, ok = c.Authorize(2, "bob", "Bob", storage.RankUser)
	assert.False(t, ok)
	assert.Equal(t, replies.UserNotInChat, rep.Type)

	// blacklisted user
	u3, _ := store.GetUser(1)
	u3.SetBlacklisted("bad")
	require.NoError(t, store.UpdateUser(u3))
	_, rep, ok = c.Authorize(1, "alice", "Alice", storage.RankUser)
	assert.False(t, ok)
	assert.Equal(t, replies.ErrBlacklisted, rep.Type)
	assert.Equal(t, "bad", rep.Reason)
	assert.Equal(t, "@owner", rep.Contact)
}

func TestResolveUser(t *testing.T) {
	c, store, _ := prep(t, Config{})
	c.Join(10, "alice", "Alice")

	u, _, ok := c.ResolveUser("@alice")
	require.True(t, ok)
	assert.Equal(t, int64(10), u.ID)

	u, _, ok = c.ResolveUser("ALICE") // case-insensitive, not 4 chars so username path
	require.True(t, ok)
	assert.Equal(t, int64(10), u.ID)

	_, rep, ok := c.ResolveUser("@nobody")
	assert.False(t, ok)
	assert.Equal(t, replies.ErrNoUser, rep.Type)

	// 4-character args resolve as today's obfuscated id
	stored, _ := store.GetUser(10)
	u, _, ok = c.ResolveUser(stored.ObfuscatedID())
	require.True(t, ok)
	assert.Equal(t, int64(10), u.ID)

	_, rep, ok = c.ResolveUser("zzzz")
	assert.False(t, ok)
	assert.Equal(t, replies.ErrNoUserByID, rep.Type)
}

func TestExpireWarnings(t *testing.T) {
	c, store, _ := prep(t, Config{})
	c.Join(1, "a", "A")

	u, _ := store.GetUser(1)
	u.AddWarning()
	u.AddWarning()
	past := time.Now().Add(-time.Hour)
	u.WarnExpiry = &past
	require.NoError(t, store.UpdateUser(u))

	c.expireWarnings()

	got, _ := store.GetUser(1)
	assert.Equal(t, 1, got.Warnings, "one warning forgiven per sweep")
	assert.NotNil(t, got.WarnExpiry, "expiry renewed while warnings remain")
	assert.True(t, got.WarnExpiry.After(time.Now()))
}

func TestExpireWarnings_SkipsNotJoined(t *testing.T) {
	c, store, _ := prep(t, Config{})
	c.Join(1, "a", "A")
	c.Leave(1)

	u, _ := store.GetUser(1)
	u.AddWarning()
	past := time.Now().Add(-time.Hour)
	u.WarnExpiry = &past
	require.NoError(t, store.UpdateUser(u))

	c.expireWarnings()

	got, _ := store.GetUser(1)
	assert.Equal(t, 1, got.Warnings, "left users keep their warnings")
}

func TestPushSystemMessage(t *testing.T) {
	c, _, sender := prep(t, Config{})
	c.Join(1, "a", "A")
	c.Join(2, "b", "B")

	c.SendModMessage(1, "be <nice>")

	require.Len(t, sender.broadcasts, 1)
	b := sender.broadcasts[0]
	assert.Greater(t, b.msid, 0, "system messages get a msid so mods can act on them")
	assert.Equal(t, "<em>be &lt;nice&gt; ~<b>mods</b></em>", b.html)
	m := c.Cache().Message(b.msid)
	require.NotNil(t, m)
	assert.Equal(t, int64(0), m.UserID)
}

func TestVersion(t *testing.T) {
	c, _, _ := prep(t, Config{Version: "1.2.3"})
	rep := c.Version()
	assert.Equal(t, replies.ProgramVersion, rep.Type)
	assert.Equal(t, "1.2.3", rep.Version)
}
