// Package transporttest provides a transport.Host for testing
// transports in isolation.
package transporttest

import (
	"context"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/jech/videortc/channel"
	"github.com/jech/videortc/loop"
)

type nopOwner struct{}

func (nopOwner) Opened()                          {}
func (nopOwner) Closed(bool)                      {}
func (nopOwner) Route(h channel.Handle, b []byte) {}

// Host records what a transport does.  Messages are delivered through
// a real, unconnected channel.
type Host struct {
	Loop    *loop.Loop
	Channel *channel.Channel
	URL     string

	mu      sync.Mutex
	sent    []channel.Message
	claimed bool
	ready   int
	errors  []error
	dead    bool

	ReadyCh  chan struct{}
	FailedCh chan error
	SentCh   chan channel.Message

	cancel context.CancelFunc
	done   chan struct{}
}

func New() *Host {
	l := loop.New()
	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		Loop:     l,
		Channel:  channel.New(l, nopOwner{}, channel.Config{}),
		URL:      "ws://gateway.example:1984/api/ws?src=cam",
		ReadyCh:  make(chan struct{}, 16),
		FailedCh: make(chan error, 16),
		SentCh:   make(chan channel.Message, 64),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go func() {
		l.Run(ctx)
		close(h.done)
	}()
	return h
}

func (h *Host) Stop() {
	h.cancel()
	<-h.done
}

// Do runs f on the loop and waits for it.
func (h *Host) Do(f func()) {
	h.Loop.Call(context.Background(), f)
}

// Deliver dispatches m as if it had been received from the gateway.
func (h *Host) Deliver(m channel.Message) {
	h.Do(func() {
		h.Channel.Dispatch(m)
	})
}

// Kill makes Post drop callbacks, as after teardown.
func (h *Host) Kill() {
	h.mu.Lock()
	h.dead = true
	h.mu.Unlock()
}

func (h *Host) Send(m channel.Message) bool {
	h.mu.Lock()
	h.sent = append(h.sent, m)
	h.mu.Unlock()
	select {
	case h.SentCh <- m:
	default:
	}
	return true
}

func (h *Host) Sent() []channel.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]channel.Message(nil), h.sent...)
}

func (h *Host) Subscribe(f channel.Handler, types ...string) *channel.Subscription {
	return h.Channel.Subscribe(f, types...)
}

func (h *Host) ClaimSink() {
	h.mu.Lock()
	h.claimed = true
	h.mu.Unlock()
}

func (h *Host) Claimed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.claimed
}

func (h *Host) Endpoint() string {
	return h.URL
}

func (h *Host) Ready() {
	h.mu.Lock()
	h.ready++
	h.mu.Unlock()
	select {
	case h.ReadyCh <- struct{}{}:
	default:
	}
}

func (h *Host) ReadyCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

func (h *Host) Failed(err error) {
	h.mu.Lock()
	h.errors = append(h.errors, err)
	h.mu.Unlock()
	select {
	case h.FailedCh <- err:
	default:
	}
}

func (h *Host) Errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errors...)
}

func (h *Host) Post(f func()) {
	h.Loop.Post(func() {
		h.mu.Lock()
		dead := h.dead
		h.mu.Unlock()
		if !dead {
			f()
		}
	})
}

func (h *Host) Logger(scope string) logging.LeveledLogger {
	return logging.NewDefaultLoggerFactory().NewLogger(scope)
}

// Wait waits for ch to trigger, and returns false on timeout.
func Wait[T any](ch <-chan T, d time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(d):
		var v T
		return v, false
	}
}
