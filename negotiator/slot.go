package negotiator

import (
	"sort"
	"time"

	"github.com/pion/logging"

	"github.com/jech/videortc/channel"
	"github.com/jech/videortc/estimator"
	"github.com/jech/videortc/transport"
)

// slot holds one transport.  It is the transport's Host.
type slot struct {
	n         *Negotiator
	index     uint32
	gen       uint32
	handle    channel.Handle
	mode      transport.Mode
	t         transport.Transport
	subs      []*channel.Subscription
	rate      *estimator.Estimator
	startedAt time.Time
	seq       int
	readySeq  int
	ready     bool
	active    bool
	dead      bool
}

func (n *Negotiator) alloc(mode transport.Mode) *slot {
	index := -1
	for i, s := range n.slots {
		if s.dead && s.t == nil {
			index = i
			break
		}
	}
	var gen uint32 = 1
	if index < 0 {
		index = len(n.slots)
		n.slots = append(n.slots, nil)
	} else {
		gen = n.slots[index].gen + 1
	}
	n.sequence++
	s := &slot{
		n:         n,
		index:     uint32(index),
		gen:       gen,
		mode:      mode,
		rate:      estimator.New(time.Second),
		startedAt: time.Now(),
		seq:       n.sequence,
	}
	s.handle = channel.Handle(uint64(gen)<<32 | uint64(index))
	n.slots[index] = s
	return s
}

// release makes the slot's index available for reuse.  Its
// generation is kept so that stale handles are recognised.
func (n *Negotiator) release(s *slot) {
	s.dead = true
	s.t = nil
}

func (n *Negotiator) lookup(h channel.Handle) *slot {
	index := uint32(h)
	gen := uint32(h >> 32)
	if int(index) >= len(n.slots) {
		return nil
	}
	s := n.slots[index]
	if s == nil || s.gen != gen {
		return nil
	}
	return s
}

// live returns the running transports in start order.
func (n *Negotiator) live() []*slot {
	var l []*slot
	for _, s := range n.slots {
		if s != nil && !s.dead {
			l = append(l, s)
		}
	}
	sort.Slice(l, func(i, j int) bool {
		return l[i].seq < l[j].seq
	})
	return l
}

func (s *slot) Send(m channel.Message) bool {
	if s.dead {
		return false
	}
	return s.n.ch.Send(m)
}

func (s *slot) Subscribe(h channel.Handler, types ...string) *channel.Subscription {
	sub := s.n.ch.Subscribe(func(m channel.Message) {
		if s.dead {
			return
		}
		h(m)
	}, types...)
	s.subs = append(s.subs, sub)
	return sub
}

func (s *slot) ClaimSink() {
	if s.dead {
		return
	}
	s.n.ch.SetSink(s.handle)
}

func (s *slot) Endpoint() string {
	return s.n.ch.Endpoint()
}

func (s *slot) Ready() {
	s.n.ready(s)
}

func (s *slot) Failed(err error) {
	s.n.failed(s, err)
}

func (s *slot) Post(f func()) {
	s.n.loop.Post(func() {
		if s.dead {
			return
		}
		f()
	})
}

func (s *slot) Logger(scope string) logging.LeveledLogger {
	return s.n.config.LoggerFactory.NewLogger(scope)
}
