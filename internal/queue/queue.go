package queue

import (
	"sync"
)

// Queue is a thread-safe FIFO with an optional capacity. When full, new
// items are dropped and counted rather than blocking the producer.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	limit   int
	dropped uint64
	ready   chan struct{}
}

// New creates an empty queue holding at most limit items; limit <= 0 means
// unbounded.
func New[T any](limit int) *Queue[T] {
	return &Queue[T]{
		items: make([]T, 0),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// Push appends items and returns how many were accepted.
func (q *Queue[T]) Push(items ...T) int {
	q.mu.Lock()
	n := len(items)
	if q.limit > 0 {
		n = min(n, q.limit-len(q.items))
		n = max(n, 0)
	}
	q.items = append(q.items, items[:n]...)
	q.dropped += uint64(len(items) - n)
	q.mu.Unlock()

	if n > 0 {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return n
}

// Take removes and returns up to n items in order; n <= 0 takes everything.
func (q *Queue[T]) Take(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || n >= len(q.items) {
		result := q.items
		q.items = make([]T, 0, cap(q.items))
		return result
	}
	result := make([]T, n)
	copy(result, q.items[:n])
	q.items = q.items[n:]
	return result
}

// Ready receives a value after a push. It may fire for items already taken,
// so consumers must tolerate an empty Take.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many items were rejected because the queue was full.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
