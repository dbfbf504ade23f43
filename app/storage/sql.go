package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"

	"github.com/tg-lounge/tg-lounge/app/scheduler"
	"github.com/tg-lounge/tg-lounge/app/storage/engine"
)

// FlushInterval is how often the sql backends commit buffered writes
const FlushInterval = 5 * time.Second

// sql commands
const (
	cmdCreateUsersTable engine.DBCmd = iota
	cmdCreateSystemTable
	cmdCheckTripcodeColumn
	cmdAddTripcodeColumn
	cmdAddUser
	cmdUpdateUser
	cmdGetUser
	cmdListUsers
	cmdGetSystem
	cmdSetSystem
)

const userColumns = "id, username, realname, rank, joined, left_at, last_active, cooldown_until," +
	" blacklist_reason, warnings, warn_expiry, karma, hide_karma, debug_enabled, tripcode"

var storeQueries = engine.NewQueryMap().
	Add(cmdCreateUsersTable, engine.Query{
		Sqlite: `CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			realname TEXT NOT NULL DEFAULT '',
			rank INTEGER NOT NULL DEFAULT 0,
			joined INTEGER NOT NULL,
			left_at INTEGER,
			last_active INTEGER NOT NULL,
			cooldown_until INTEGER,
			blacklist_reason TEXT NOT NULL DEFAULT '',
			warnings INTEGER NOT NULL DEFAULT 0,
			warn_expiry INTEGER,
			karma INTEGER NOT NULL DEFAULT 0,
			hide_karma INTEGER NOT NULL DEFAULT 0,
			debug_enabled INTEGER NOT NULL DEFAULT 0,
			tripcode TEXT NOT NULL DEFAULT ''
		)`,
		Postgres: `CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			realname TEXT NOT NULL DEFAULT '',
			rank INTEGER NOT NULL DEFAULT 0,
			joined BIGINT NOT NULL,
			left_at BIGINT,
			last_active BIGINT NOT NULL,
			cooldown_until BIGINT,
			blacklist_reason TEXT NOT NULL DEFAULT '',
			warnings INTEGER NOT NULL DEFAULT 0,
			warn_expiry BIGINT,
			karma INTEGER NOT NULL DEFAULT 0,
			hide_karma BOOLEAN NOT NULL DEFAULT false,
			debug_enabled BOOLEAN NOT NULL DEFAULT false,
			tripcode TEXT NOT NULL DEFAULT ''
		)`,
	}).
	AddSame(cmdCreateSystemTable, `CREATE TABLE IF NOT EXISTS system_config (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		motd TEXT NOT NULL DEFAULT '',
		privacy TEXT NOT NULL DEFAULT ''
	)`).
	Add(cmdCheckTripcodeColumn, engine.Query{
		Sqlite:   "SELECT COUNT(*) FROM pragma_table_info('users') WHERE name = 'tripcode'",
		Postgres: "SELECT COUNT(*) FROM information_schema.columns WHERE table_name = 'users' AND column_name = 'tripcode'",
	}).
	AddSame(cmdAddTripcodeColumn, "ALTER TABLE users ADD COLUMN tripcode TEXT NOT NULL DEFAULT ''").
	AddSame(cmdAddUser, "INSERT INTO users ("+userColumns+") VALUES "+
		"(:id, :username, :realname, :rank, :joined, :left_at, :last_active, :cooldown_until,"+
		" :blacklist_reason, :warnings, :warn_expiry, :karma, :hide_karma, :debug_enabled, :tripcode)").
	AddSame(cmdUpdateUser, `UPDATE users SET username = :username, realname = :realname, rank = :rank,
		joined = :joined, left_at = :left_at, last_active = :last_active, cooldown_until = :cooldown_until,
		blacklist_reason = :blacklist_reason, warnings = :warnings, warn_expiry = :warn_expiry,
		karma = :karma, hide_karma = :hide_karma, debug_enabled = :debug_enabled, tripcode = :tripcode
		WHERE id = :id`).
	AddSame(cmdGetUser, "SELECT "+userColumns+" FROM users WHERE id = ?").
	AddSame(cmdListUsers, "SELECT "+userColumns+" FROM users ORDER BY id").
	AddSame(cmdGetSystem, "SELECT motd, privacy FROM system_config WHERE id = 1").
	AddSame(cmdSetSystem, `INSERT INTO system_config (id, motd, privacy) VALUES (1, :motd, :privacy)
		ON CONFLICT (id) DO UPDATE SET motd = excluded.motd, privacy = excluded.privacy`)

// userRow is the flat sql image of a user, instants as unix seconds
type userRow struct {
	ID              int64         `db:"id"`
	Username        string        `db:"username"`
	Realname        string        `db:"realname"`
	Rank            int           `db:"rank"`
	Joined          int64         `db:"joined"`
	LeftAt          sql.NullInt64 `db:"left_at"`
	LastActive      int64         `db:"last_active"`
	CooldownUntil   sql.NullInt64 `db:"cooldown_until"`
	BlacklistReason string        `db:"blacklist_reason"`
	Warnings        int           `db:"warnings"`
	WarnExpiry      sql.NullInt64 `db:"warn_expiry"`
	Karma           int           `db:"karma"`
	HideKarma       bool          `db:"hide_karma"`
	DebugEnabled    bool          `db:"debug_enabled"`
	Tripcode        string        `db:"tripcode"`
}

func toUserRow(u *User) userRow {
	toNull := func(t *time.Time) sql.NullInt64 {
		if t == nil {
			return sql.NullInt64{}
		}
		return sql.NullInt64{Int64: t.Unix(), Valid: true}
	}
	return userRow{
		ID:              u.ID,
		Username:        u.Username,
		Realname:        u.Realname,
		Rank:            u.Rank,
		Joined:          u.Joined.Unix(),
		LeftAt:          toNull(u.Left),
		LastActive:      u.LastActive.Unix(),
		CooldownUntil:   toNull(u.CooldownUntil),
		BlacklistReason: u.BlacklistReason,
		Warnings:        u.Warnings,
		WarnExpiry:      toNull(u.WarnExpiry),
		Karma:           u.Karma,
		HideKarma:       u.HideKarma,
		DebugEnabled:    u.DebugEnabled,
		Tripcode:        u.Tripcode,
	}
}

func (r userRow) toUser() *User {
	fromNull := func(v sql.NullInt64) *time.Time {
		if !v.Valid {
			return nil
		}
		t := time.Unix(v.Int64, 0).UTC()
		return &t
	}
	return &User{
		ID:              r.ID,
		Username:        r.Username,
		Realname:        r.Realname,
		Rank:            r.Rank,
		Joined:          time.Unix(r.Joined, 0).UTC(),
		Left:            fromNull(r.LeftAt),
		LastActive:      time.Unix(r.LastActive, 0).UTC(),
		CooldownUntil:   fromNull(r.CooldownUntil),
		BlacklistReason: r.BlacklistReason,
		Warnings:        r.Warnings,
		WarnExpiry:      fromNull(r.WarnExpiry),
		Karma:           r.Karma,
		HideKarma:       r.HideKarma,
		DebugEnabled:    r.DebugEnabled,
		Tripcode:        r.Tripcode,
	}
}

// SQLStore implements Store on top of sqlite or postgres. All statements run
// inside a long-lived transaction, committed every FlushInterval so a burst of
// chat activity doesn't turn into a burst of fsyncs.
type SQLStore struct {
	db *engine.SQL

	lock sync.Mutex
	tx   *sqlx.Tx
}

// NewSQL creates the store on the given engine, creating and migrating the
// schema as needed
func NewSQL(db *engine.SQL) (*SQLStore, error) {
	if err := initSchema(db); err != nil {
		return nil, err
	}
	tx, err := db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &SQLStore{db: db, tx: tx}, nil
}

func initSchema(db *engine.SQL) error {
	for _, cmd := range []engine.DBCmd{cmdCreateUsersTable, cmdCreateSystemTable} {
		q, err := storeQueries.Pick(db.Type(), cmd)
		if err != nil {
			return fmt.Errorf("failed to pick schema query: %w", err)
		}
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return migrateTripcode(db)
}

// migrateTripcode adds the tripcode column to databases created before it existed
func migrateTripcode(db *engine.SQL) error {
	check, err := storeQueries.Pick(db.Type(), cmdCheckTripcodeColumn)
	if err != nil {
		return fmt.Errorf("failed to pick migration query: %w", err)
	}
	var count int
	if err := db.Get(&count, check); err != nil {
		return fmt.Errorf("failed to check tripcode column: %w", err)
	}
	if count > 0 {
		return nil
	}
	alter, err := storeQueries.Pick(db.Type(), cmdAddTripcodeColumn)
	if err != nil {
		return fmt.Errorf("failed to pick migration query: %w", err)
	}
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("failed to add tripcode column: %w", err)
	}
	log.Printf("[INFO] migrated users table, added tripcode column")
	return nil
}

// GetUser returns the user with the given id, uncommitted writes included
func (s *SQLStore) GetUser(id int64) (*User, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	q, err := storeQueries.Pick(s.db.Type(), cmdGetUser)
	if err != nil {
		return nil, fmt.Errorf("failed to pick query: %w", err)
	}
	var row userRow
	if err := s.tx.Get(&row, s.tx.Rebind(q), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return row.toUser(), nil
}

// AddUser inserts a new user record
func (s *SQLStore) AddUser(u *User) error {
	return s.namedExec(cmdAddUser, toUserRow(u), "failed to add user")
}

// UpdateUser writes all fields of an existing user record
func (s *SQLStore) UpdateUser(u *User) error {
	return s.namedExec(cmdUpdateUser, toUserRow(u), "failed to update user")
}

func (s *SQLStore) namedExec(cmd engine.DBCmd, arg any, msg string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	q, err := storeQueries.Pick(s.db.Type(), cmd)
	if err != nil {
		return fmt.Errorf("failed to pick query: %w", err)
	}
	if _, err := s.tx.NamedExec(q, arg); err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return nil
}

// IterateUsers calls fn for every user until fn returns false
func (s *SQLStore) IterateUsers(fn func(u *User) bool) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	q, err := storeQueries.Pick(s.db.Type(), cmdListUsers)
	if err != nil {
		return fmt.Errorf("failed to pick query: %w", err)
	}
	var rows []userRow
	if err := s.tx.Select(&rows, q); err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	for _, r := range rows {
		if !fn(r.toUser()) {
			break
		}
	}
	return nil
}

// GetSystemConfig returns the system texts, ErrNotFound if never set
func (s *SQLStore) GetSystemConfig() (*SystemConfig, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	q, err := storeQueries.Pick(s.db.Type(), cmdGetSystem)
	if err != nil {
		return nil, fmt.Errorf("failed to pick query: %w", err)
	}
	var cfg SystemConfig
	if err := s.tx.Get(&cfg, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get system config: %w", err)
	}
	return &cfg, nil
}

// SetSystemConfig upserts the system texts
func (s *SQLStore) SetSystemConfig(cfg *SystemConfig) error {
	return s.namedExec(cmdSetSystem, cfg, "failed to set system config")
}

// Flush commits buffered writes and opens a fresh transaction
func (s *SQLStore) Flush() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.flushLocked()
}

func (s *SQLStore) flushLocked() error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.tx = tx
	return nil
}

// RegisterTasks installs the periodic commit
func (s *SQLStore) RegisterTasks(sched *scheduler.Scheduler) {
	sched.Register("storage flush", FlushInterval, func() {
		if err := s.Flush(); err != nil {
			log.Printf("[WARN] storage flush failed: %v", err)
		}
	})
}

// Close commits pending writes and closes the database
func (s *SQLStore) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	errs := new(multierror.Error)
	if err := s.tx.Commit(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to commit: %w", err))
	}
	if err := s.db.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to close db: %w", err))
	}
	return errs.ErrorOrNil()
}
