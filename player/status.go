package player

import (
	"github.com/jech/videortc/negotiator"
	"github.com/jech/videortc/transport"
)

type Status struct {
	Channel      string                       `json:"channel"`
	Endpoint     string                       `json:"endpoint,omitempty"`
	Attached     bool                         `json:"attached"`
	Reconnecting bool                         `json:"reconnecting"`
	Grace        bool                         `json:"grace"`
	Active       transport.Mode               `json:"active,omitempty"`
	Transports   []negotiator.TransportStatus `json:"transports,omitempty"`
	Connects     int                          `json:"connects"`
	Disconnects  int                          `json:"disconnects"`
}

// update recomputes the status and notifies subscribers.  It runs on
// the loop.
func (p *Player) update() {
	s := Status{
		Channel:      p.ch.State().String(),
		Endpoint:     p.ch.Endpoint(),
		Attached:     p.attached,
		Reconnecting: p.ch.ReconnectPending(),
		Grace:        p.grace.Pending(),
		Active:       p.neg.Active(),
		Transports:   p.neg.Transports(),
		Connects:     p.connects,
		Disconnects:  p.disconnects,
	}

	p.mu.Lock()
	changed := !equalStatus(p.status, s)
	p.status = s
	var subs []func(Status)
	if changed {
		for _, f := range p.subs {
			subs = append(subs, f)
		}
	}
	p.mu.Unlock()

	for _, f := range subs {
		f(s)
	}
}

func equalStatus(a, b Status) bool {
	if a.Channel != b.Channel || a.Endpoint != b.Endpoint ||
		a.Attached != b.Attached || a.Reconnecting != b.Reconnecting ||
		a.Grace != b.Grace || a.Active != b.Active ||
		a.Connects != b.Connects || a.Disconnects != b.Disconnects {
		return false
	}
	if len(a.Transports) != len(b.Transports) {
		return false
	}
	for i := range a.Transports {
		x, y := a.Transports[i], b.Transports[i]
		if x.Mode != y.Mode || x.Ready != y.Ready || x.Active != y.Active {
			return false
		}
	}
	return true
}

// Status returns the most recent status.  It may be called from any
// goroutine.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Subscribe calls f on the loop whenever the status changes.  The
// returned function cancels the subscription.
func (p *Player) Subscribe(f func(Status)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = f
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}
