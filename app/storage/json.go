package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/tg-lounge/tg-lounge/app/scheduler"
)

// JSONStore keeps everything in a single json file, rewritten atomically on
// every mutation. Development backend, loud about it on startup.
type JSONStore struct {
	mu     sync.Mutex
	path   string
	users  map[int64]*User
	system *SystemConfig
}

// jsonUser is the wire form of a user, instants as unix seconds
type jsonUser struct {
	ID              int64  `json:"id"`
	Username        string `json:"username,omitempty"`
	Realname        string `json:"realname"`
	Rank            int    `json:"rank"`
	Joined          int64  `json:"joined"`
	Left            *int64 `json:"left,omitempty"`
	LastActive      int64  `json:"last_active"`
	CooldownUntil   *int64 `json:"cooldown_until,omitempty"`
	BlacklistReason string `json:"blacklist_reason,omitempty"`
	Warnings        int    `json:"warnings"`
	WarnExpiry      *int64 `json:"warn_expiry,omitempty"`
	Karma           int    `json:"karma"`
	HideKarma       bool   `json:"hide_karma"`
	DebugEnabled    bool   `json:"debug_enabled"`
	Tripcode        string `json:"tripcode,omitempty"`
}

// jsonFile is the on-disk layout: the system texts (null until first set) and
// the roster as a list ordered by user id
type jsonFile struct {
	SystemConfig *SystemConfig `json:"systemConfig"`
	Users        []jsonUser    `json:"users"`
}

// NewJSON creates a json store backed by the given file, loading it if present
func NewJSON(path string) (*JSONStore, error) {
	log.Printf("[WARN] json storage is for development only, use sqlite or postgres in production")
	s := &JSONStore{path: path, users: make(map[int64]*User)}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator's config
	if os.IsNotExist(err) {
		return s, s.save()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var f jsonFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for _, ju := range f.Users {
		if ju.ID == 0 {
			return nil, fmt.Errorf("user without an id in %s", path)
		}
		s.users[ju.ID] = ju.toUser()
	}
	s.system = f.SystemConfig
	return s, nil
}

func (ju jsonUser) toUser() *User {
	fromUnix := func(v *int64) *time.Time {
		if v == nil {
			return nil
		}
		t := time.Unix(*v, 0).UTC()
		return &t
	}
	return &User{
		ID:              ju.ID,
		Username:        ju.Username,
		Realname:        ju.Realname,
		Rank:            ju.Rank,
		Joined:          time.Unix(ju.Joined, 0).UTC(),
		Left:            fromUnix(ju.Left),
		LastActive:      time.Unix(ju.LastActive, 0).UTC(),
		CooldownUntil:   fromUnix(ju.CooldownUntil),
		BlacklistReason: ju.BlacklistReason,
		Warnings:        ju.Warnings,
		WarnExpiry:      fromUnix(ju.WarnExpiry),
		Karma:           ju.Karma,
		HideKarma:       ju.HideKarma,
		DebugEnabled:    ju.DebugEnabled,
		Tripcode:        ju.Tripcode,
	}
}

func toJSONUser(u *User) jsonUser {
	toUnix := func(t *time.Time) *int64 {
		if t == nil {
			return nil
		}
		v := t.Unix()
		return &v
	}
	return jsonUser{
		ID:              u.ID,
		Username:        u.Username,
		Realname:        u.Realname,
		Rank:            u.Rank,
		Joined:          u.Joined.Unix(),
		Left:            toUnix(u.Left),
		LastActive:      u.LastActive.Unix(),
		CooldownUntil:   toUnix(u.CooldownUntil),
		BlacklistReason: u.BlacklistReason,
		Warnings:        u.Warnings,
		WarnExpiry:      toUnix(u.WarnExpiry),
		Karma:           u.Karma,
		HideKarma:       u.HideKarma,
		DebugEnabled:    u.DebugEnabled,
		Tripcode:        u.Tripcode,
	}
}

// save writes the whole file through a temp file and a rename, caller holds the lock
func (s *JSONStore) save() error {
	f := jsonFile{SystemConfig: s.system, Users: make([]jsonUser, 0, len(s.users))}
	for _, u := range s.users {
		f.Users = append(f.Users, toJSONUser(u))
	}
	sort.Slice(f.Users, func(i, j int) bool { return f.Users[i].ID < f.Users[j].ID })
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}
	tmp := s.path + "~"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// GetUser returns a copy of the user with the given id
func (s *JSONStore) GetUser(id int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	res := *u
	return &res, nil
}

// AddUser inserts a new user and persists the file
func (s *JSONStore) AddUser(u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("user %d already exists", u.ID)
	}
	cp := *u
	s.users[u.ID] = &cp
	return s.save()
}

// UpdateUser replaces the stored record and persists the file
func (s *JSONStore) UpdateUser(u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return ErrNotFound
	}
	cp := *u
	s.users[u.ID] = &cp
	return s.save()
}

// IterateUsers calls fn with a copy of every user until fn returns false
func (s *JSONStore) IterateUsers(fn func(u *User) bool) error {
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

// GetSystemConfig returns the system texts, ErrNotFound if never set
func (s *JSONStore) GetSystemConfig() (*SystemConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.system == nil {
		return nil, ErrNotFound
	}
	res := *s.system
	return &res, nil
}

// SetSystemConfig replaces the system texts and persists the file
func (s *JSONStore) SetSystemConfig(cfg *SystemConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	s.system = &cp
	return s.save()
}

// RegisterTasks is a no-op, the json backend saves on every mutation
func (s *JSONStore) RegisterTasks(*scheduler.Scheduler) {}

// Close flushes the file one last time
func (s *JSONStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}
