package core

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO safe for any number of producers and consumers.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	ready chan struct{}
	done  chan struct{}

	pushed int64
	popped int64
}

// QueueStats contains queue counters.
type QueueStats struct {
	Len    int
	Pushed int64
	Popped int64
}

// NewQueue creates an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends an item. Returns false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, item)
	q.pushed++
	q.signal()
	return true
}

// Pop removes the oldest item, blocking until one is available, the queue is
// closed and empty, or ctx is done. The boolean is false in the latter two cases.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.popped++
			if len(q.items) > 0 {
				// Pass the wakeup on to the next waiting consumer.
				q.signal()
			}
			q.mu.Unlock()
			return item, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return zero, false
		}

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return zero, false
		}
	}
}

// Close stops accepting items. Consumers drain what is left, then Pop returns false.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns queue counters.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{Len: len(q.items), Pushed: q.pushed, Popped: q.popped}
}

// signal must be called with the lock held.
func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
