// Package loop implements the cooperative event loop that owns all
// player state.  Other goroutines never touch that state directly; they
// post closures which the loop runs one at a time, in order.
package loop

import (
	"context"
	"errors"
	"sync"
)

var ErrStopped = errors.New("event loop stopped")

type Loop struct {
	queue    *Queue[func()]
	done     chan struct{}
	stopOnce sync.Once
}

func New() *Loop {
	return &Loop{
		queue: NewQueue[func()](),
		done:  make(chan struct{}),
	}
}

// Post schedules f to run on the loop.  It returns false if the loop
// has been stopped, in which case f will never run.
func (l *Loop) Post(f func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	l.queue.Put(f)
	return true
}

// Call runs f on the loop and waits for it to complete.
// It must not be called from the loop itself.
func (l *Loop) Call(ctx context.Context, f func()) error {
	ch := make(chan struct{})
	ok := l.Post(func() {
		f()
		close(ch)
	})
	if !ok {
		return ErrStopped
	}
	select {
	case <-ch:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop terminates the loop.  Closures that have not started yet are
// discarded.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
}

func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Run executes posted closures until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-l.done:
			return nil
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.queue.Ch:
			fs := l.queue.Get()
			for _, f := range fs {
				select {
				case <-l.done:
					return nil
				default:
				}
				f()
			}
		}
	}
}
