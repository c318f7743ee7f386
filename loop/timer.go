package loop

import (
	"time"
)

// Timer is a one-shot timer whose callback runs on the loop.
// All methods must be called from the loop.
type Timer struct {
	t       *time.Timer
	stopped bool
}

// AfterFunc arranges for f to run on the loop after d.  Once Stop has
// returned, f is guaranteed not to run, even if the timer had already
// expired and its callback was waiting in the queue.
func (l *Loop) AfterFunc(d time.Duration, f func()) *Timer {
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if tm.stopped {
				return
			}
			tm.stopped = true
			f()
		})
	})
	return tm
}

// Stop cancels the timer.  It returns true if this prevented the
// callback from running.
func (tm *Timer) Stop() bool {
	if tm == nil || tm.stopped {
		return false
	}
	tm.stopped = true
	tm.t.Stop()
	return true
}

func (tm *Timer) Pending() bool {
	return tm != nil && !tm.stopped
}

// Slot holds at most one pending timer.  Arming a slot cancels
// whatever timer it held before.
type Slot struct {
	timer *Timer
}

func (s *Slot) Set(l *Loop, d time.Duration, f func()) {
	s.timer.Stop()
	s.timer = l.AfterFunc(d, f)
}

// Clear cancels the pending timer, if any, and reports whether there
// was one.
func (s *Slot) Clear() bool {
	t := s.timer
	s.timer = nil
	return t.Stop()
}

func (s *Slot) Pending() bool {
	return s.timer.Pending()
}
