package queue

import (
	"sync"
)

// Queue is a thread-safe FIFO whose ring doubles when full.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int // read position
	count  int
	closed bool

	// Stats
	pushed int64
	popped int64
	grows  int
}

// New creates a queue with the given initial capacity.
func New[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	q := &Queue[T]{ring: make([]T, initialCapacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item and returns the queue length after the push.
// Returns false if the queue is closed.
func (q *Queue[T]) Push(item T) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return q.count, false
	}
	if q.count == len(q.ring) {
		q.grow()
	}

	q.ring[(q.head+q.count)%len(q.ring)] = item
	q.count++
	q.pushed++

	q.cond.Signal()
	return q.count, true
}

// PopBatch removes up to max items (all when max <= 0), blocking until at
// least one is available. Returns false once the queue is closed and empty.
func (q *Queue[T]) PopBatch(max int) ([]T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.count == 0 {
		return nil, false
	}
	return q.take(max), true
}

// TryPopBatch removes up to max items without blocking.
func (q *Queue[T]) TryPopBatch(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	return q.take(max)
}

// take removes up to max items. Must be called with lock held.
func (q *Queue[T]) take(max int) []T {
	n := q.count
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		out[i] = q.ring[q.head]
		q.ring[q.head] = zero // Clear reference for GC
		q.head = (q.head + 1) % len(q.ring)
	}
	q.count -= n
	q.popped += int64(n)
	return out
}

// grow doubles the ring. Must be called with lock held.
func (q *Queue[T]) grow() {
	next := make([]T, 2*len(q.ring))
	n := copy(next, q.ring[q.head:])
	copy(next[n:], q.ring[:q.head])
	q.ring = next
	q.head = 0
	q.grows++
}

// Close wakes blocked readers. Items already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the current number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats contains queue statistics.
type Stats struct {
	Count    int
	Capacity int
	Pushed   int64
	Popped   int64
	Grows    int
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Count:    q.count,
		Capacity: len(q.ring),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Grows:    q.grows,
	}
}
