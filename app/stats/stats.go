// Package stats collects runtime counters and gauges and serves them as json
// over a local unix socket, for cron-driven monitoring without an http stack.
package stats

import (
	"sync"
	"sync/atomic"
)

// Counter is a monotonically incremented event count, read and reset on snapshot
type Counter struct {
	n int64
}

// Inc adds one
func (c *Counter) Inc() { atomic.AddInt64(&c.n, 1) }

// Add adds n
func (c *Counter) Add(n int64) { atomic.AddInt64(&c.n, n) }

func (c *Counter) take() int64 { return atomic.SwapInt64(&c.n, 0) }

// Gauge is a value set to the latest observation
type Gauge struct {
	v int64
}

// Set replaces the value
func (g *Gauge) Set(v int64) { atomic.StoreInt64(&g.v, v) }

func (g *Gauge) get() int64 { return atomic.LoadInt64(&g.v) }

// Registry holds named metrics. Counters reset on every snapshot so readers
// see deltas between polls, gauges and sources report current values.
type Registry struct {
	mu       sync.Mutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	sources  map[string]func() int64
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		sources:  make(map[string]func() int64),
	}
}

// Counter returns the named counter, creating it on first use
func (r *Registry) Counter(name string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[name]
	if !ok {
		c = &Counter{}
		r.counters[name] = c
	}
	return c
}

// Gauge returns the named gauge, creating it on first use
func (r *Registry) Gauge(name string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gauges[name]
	if !ok {
		g = &Gauge{}
		r.gauges[name] = g
	}
	return g
}

// RegisterSource installs a live value evaluated at snapshot time
func (r *Registry) RegisterSource(name string, fn func() int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = fn
}

// Snapshot reads all metrics, resetting counters
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make(map[string]int64, len(r.counters)+len(r.gauges)+len(r.sources))
	for name, c := range r.counters {
		res[name] = c.take()
	}
	for name, g := range r.gauges {
		res[name] = g.get()
	}
	for name, fn := range r.sources {
		res[name] = fn()
	}
	return res
}
