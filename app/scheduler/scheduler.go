// Package scheduler runs registered tasks at fixed intervals on a single
// goroutine. A failing task is logged and does not stop the loop.
package scheduler

import (
	"context"
	"log"
	"time"
)

// Scheduler executes tasks sequentially, each at its own fixed interval.
// Intervals can't be changed after registration and there is no way to
// cancel an individual task, Run stops everything when the context is done.
type Scheduler struct {
	tasks []*task
}

type task struct {
	name     string
	interval time.Duration
	next     time.Time
	fn       func()
}

// New creates an empty scheduler
func New() *Scheduler {
	return &Scheduler{}
}

// Register adds a task to be executed every interval. The first run happens
// immediately once Run starts. Must not be called after Run.
func (s *Scheduler) Register(name string, interval time.Duration, fn func()) {
	if interval <= 0 {
		log.Printf("[ERROR] scheduler: task %q has non-positive interval %v, ignored", name, interval)
		return
	}
	s.tasks = append(s.tasks, &task{name: name, interval: interval, fn: fn})
}

// Run executes due tasks in registration order and sleeps until the nearest
// next trigger. Blocks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	if len(s.tasks) == 0 {
		<-ctx.Done()
		return
	}
	log.Printf("[INFO] scheduler started with %d tasks", len(s.tasks))
	for {
		now := time.Now()
		for _, t := range s.tasks {
			if now.Before(t.next) {
				continue
			}
			s.call(t)
			t.next = now.Add(t.interval)
		}

		wait := s.tasks[0].next.Sub(time.Now())
		for _, t := range s.tasks[1:] {
			if d := t.next.Sub(time.Now()); d < wait {
				wait = d
			}
		}
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			log.Printf("[DEBUG] scheduler stopped")
			return
		case <-time.After(wait):
		}
	}
}

func (s *Scheduler) call(t *task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ERROR] scheduler: task %q panicked: %v", t.name, r)
		}
	}()
	t.fn()
}
