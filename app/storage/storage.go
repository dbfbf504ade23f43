// Package storage keeps the lounge roster and the editable system texts.
// Three backends implement the same Store interface: a json file for
// development, sqlite for single-node deployments and postgres for everything
// else. The sql backends buffer writes in a transaction committed on a timer.
package storage

import (
	"errors"

	"github.com/tg-lounge/tg-lounge/app/scheduler"
)

// ErrNotFound returned when a requested user or config record doesn't exist
var ErrNotFound = errors.New("not found")

// Store is the persistence interface the engine works against. Get calls
// return copies, callers mutate and pass them back through UpdateUser.
type Store interface {
	GetUser(id int64) (*User, error)
	AddUser(u *User) error
	UpdateUser(u *User) error
	IterateUsers(fn func(u *User) bool) error // fn returns false to stop early

	GetSystemConfig() (*SystemConfig, error)
	SetSystemConfig(cfg *SystemConfig) error

	RegisterTasks(sched *scheduler.Scheduler)
	Close() error
}
