package loop

import (
	"sync"
)

// Queue is an unbounded FIFO queue.
type Queue[T any] struct {
	// Ch triggers whenever the queue becomes non-empty
	Ch chan struct{}

	mu    sync.Mutex
	queue []T
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		Ch: make(chan struct{}, 1),
	}
}

// Put appends v to q.  If q was previously empty, it triggers q.Ch.
func (q *Queue[T]) Put(v T) {
	q.mu.Lock()
	empty := len(q.queue) == 0
	q.queue = append(q.queue, v)
	q.mu.Unlock()

	if empty {
		select {
		case q.Ch <- struct{}{}:
		default:
		}
	}
}

// Get removes and returns all the elements of q, oldest first.
func (q *Queue[T]) Get() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	queue := q.queue
	q.queue = nil
	return queue
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}
