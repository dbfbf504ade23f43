// Package queue implements a blocking priority queue with logical deletion.
// Lower priority value means earlier delivery, ties are FIFO. Deletion by
// predicate doesn't touch the heap: entries are dropped from the item table
// and Get skips the tombstoned heap records on pop, keeping put/get O(log n).
package queue

import (
	"container/heap"
	"sync"
)

// Queue holds prioritized items of type T. Safe for concurrent producers
// and consumers.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	heap   entryHeap
	items  map[uint64]T // iid -> live item, tombstoned items are simply absent
	nextID uint64
	closed bool
}

type entry struct {
	prio int
	iid  uint64 // monotonic, doubles as FIFO tie-breaker
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].prio != h[j].prio {
		return h[i].prio < h[j].prio
	}
	return h[i].iid < h[j].iid
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// New creates an empty queue
func New[T any]() *Queue[T] {
	q := &Queue[T]{items: make(map[uint64]T)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put enqueues an item with the given priority, lower is delivered first.
func (q *Queue[T]) Put(prio int, v T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	iid := q.nextID
	q.nextID++
	q.items[iid] = v
	heap.Push(&q.heap, entry{prio: prio, iid: iid})
	q.cond.Signal()
}

// Get blocks until an item is available and returns the live item with the
// smallest priority. Returns ok=false after Close once the queue is drained.
func (q *Queue[T]) Get() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		for q.heap.Len() > 0 {
			e := heap.Pop(&q.heap).(entry)
			item, live := q.items[e.iid]
			if !live {
				continue // tombstoned by Delete
			}
			delete(q.items, e.iid)
			return item, true
		}
		if q.closed {
			return v, false
		}
		q.cond.Wait()
	}
}

// Delete removes all enqueued items matching the predicate and reports how
// many were dropped. Heap records stay behind as tombstones.
func (q *Queue[T]) Delete(match func(T) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for iid, item := range q.items {
		if match(item) {
			delete(q.items, iid)
			n++
		}
	}
	return n
}

// Len returns the number of live items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes up all blocked consumers. Pending live items can still be
// drained with Get, new Puts are discarded.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
