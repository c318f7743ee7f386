package channel

type Handler func(m Message)

type Subscription struct {
	c         *Channel
	types     []string
	handler   Handler
	cancelled bool
}

// Subscribe registers h for messages of the given types, or for all
// messages if no type is given.  Handlers run on the loop, in
// registration order.
func (c *Channel) Subscribe(h Handler, types ...string) *Subscription {
	s := &Subscription{
		c:       c,
		types:   types,
		handler: h,
	}
	c.subs = append(c.subs, s)
	return s
}

// Cancel unregisters s.  It is idempotent, and may be called from
// within a handler.
func (s *Subscription) Cancel() {
	if s == nil || s.cancelled {
		return
	}
	s.cancelled = true
	subs := s.c.subs
	for i, t := range subs {
		if t == s {
			n := make([]*Subscription, 0, len(subs)-1)
			n = append(n, subs[:i]...)
			n = append(n, subs[i+1:]...)
			s.c.subs = n
			return
		}
	}
}

func (s *Subscription) matches(tpe string) bool {
	if len(s.types) == 0 {
		return true
	}
	for _, t := range s.types {
		if t == tpe {
			return true
		}
	}
	return false
}

func (c *Channel) dispatch(attempt uint64, m Message) {
	if attempt != c.attempt || c.state != Open {
		return
	}
	c.Dispatch(m)
}

// Dispatch delivers m to the matching subscribers.
func (c *Channel) Dispatch(m Message) {
	attempt := c.attempt
	for _, s := range c.subs {
		if c.attempt != attempt {
			// a handler closed the connection
			return
		}
		if s.cancelled || !s.matches(m.Type) {
			continue
		}
		s.handler(m)
	}
}
