// Package negotiator decides which transports to run over a control
// channel, and which of them feeds the surface.
package negotiator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pion/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jech/videortc/channel"
	"github.com/jech/videortc/loop"
	"github.com/jech/videortc/metrics"
	"github.com/jech/videortc/transport"
)

const DefaultRenegotiateDelay = time.Second

// Channel is the part of the control channel used by the negotiator.
type Channel interface {
	Send(m channel.Message) bool
	Subscribe(h channel.Handler, types ...string) *channel.Subscription
	SetSink(h channel.Handle)
	ClearSink(h channel.Handle)
	Endpoint() string
	Drop(err error)
}

// Factory creates transports.
type Factory interface {
	// Capable reports whether mode can be attempted locally.
	Capable(mode transport.Mode) bool
	New(host transport.Host, mode transport.Mode) (transport.Transport, error)
}

type Config struct {
	Modes            []transport.Mode
	Factory          Factory
	Policy           transport.ScorePolicy
	Surface          transport.Surface
	RenegotiateDelay time.Duration
	Metrics          *metrics.Metrics
	Tracer           trace.Tracer
	LoggerFactory    logging.LoggerFactory
	// OnActive is called whenever the active transport changes.
	// Mode is empty if there is no active transport.
	OnActive func(mode transport.Mode)
}

type Negotiator struct {
	loop   *loop.Loop
	ch     Channel
	config Config
	log    logging.LeveledLogger

	slots       []*slot
	active      *slot
	started     []transport.Mode
	mjpegArmed  bool
	running     bool
	readySeq    int
	sequence    int
	errSub      *channel.Subscription
	renegotiate loop.Slot
	span        trace.Span
}

func New(l *loop.Loop, ch Channel, config Config) *Negotiator {
	if config.Modes == nil {
		config.Modes = transport.DefaultModes
	}
	if config.Policy == nil {
		config.Policy = transport.DefaultWeights
	}
	if config.RenegotiateDelay <= 0 {
		config.RenegotiateDelay = DefaultRenegotiateDelay
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if config.Tracer == nil {
		config.Tracer = otel.Tracer("github.com/jech/videortc/negotiator")
	}
	return &Negotiator{
		loop:   l,
		ch:     ch,
		config: config,
		log:    config.LoggerFactory.NewLogger("negotiator"),
	}
}

func modeStrings(modes []transport.Mode) []string {
	l := make([]string, len(modes))
	for i, m := range modes {
		l[i] = string(m)
	}
	return l
}

// Start starts every capable transport.  It is called when the
// control channel opens.
func (n *Negotiator) Start() {
	if n.running {
		n.Teardown()
	}
	n.running = true
	_, n.span = n.config.Tracer.Start(context.Background(), "negotiate",
		trace.WithAttributes(attribute.StringSlice(
			"modes", modeStrings(n.config.Modes),
		)),
	)
	n.errSub = n.ch.Subscribe(n.gotError, "error")

	var exclusive transport.Mode
	var peers []transport.Mode
	wantMJPEG := false
	for _, mode := range n.config.Modes {
		if mode == transport.MJPEG {
			wantMJPEG = true
			continue
		}
		if !n.config.Factory.Capable(mode) {
			continue
		}
		if mode.Exclusive() {
			if exclusive == "" {
				exclusive = mode
			}
			continue
		}
		peers = append(peers, mode)
	}

	if exclusive != "" {
		n.start(exclusive)
	}
	for _, mode := range peers {
		n.start(mode)
	}

	if wantMJPEG {
		if len(n.started) == 0 {
			n.start(transport.MJPEG)
		} else {
			n.mjpegArmed = true
		}
	}
	if len(n.started) == 0 {
		n.log.Warnf("no transport could be started")
		n.span.SetStatus(codes.Error, "no transport")
	}
}

func (n *Negotiator) start(mode transport.Mode) bool {
	s := n.alloc(mode)
	t, err := n.config.Factory.New(s, mode)
	if err == nil {
		s.t = t
		err = t.Start()
	}
	if err != nil {
		n.log.Warnf("%v: %v", mode, err)
		n.config.Metrics.Failed(string(mode), "start")
		n.span.RecordError(err,
			trace.WithAttributes(attribute.String("mode", string(mode))))
		for _, sub := range s.subs {
			sub.Cancel()
		}
		n.ch.ClearSink(s.handle)
		if s.t != nil {
			s.t.Close()
		}
		n.release(s)
		return false
	}
	n.started = append(n.started, mode)
	n.config.Metrics.Started(string(mode))
	n.log.Debugf("started %v", mode)
	return true
}

func (n *Negotiator) startFallback() {
	if !n.mjpegArmed || !n.running {
		return
	}
	n.mjpegArmed = false
	n.log.Infof("falling back to %v", transport.MJPEG)
	n.start(transport.MJPEG)
}

func (n *Negotiator) gotError(m channel.Message) {
	value := m.Text()
	n.log.Warnf("server error: %v", value)
	for _, s := range n.live() {
		if strings.HasPrefix(value, string(s.mode.Base())) {
			n.failed(s, transport.ServerError(value))
		}
	}
	if n.mjpegArmed && len(n.started) > 0 &&
		strings.HasPrefix(value, string(n.started[0].Base())) {
		n.startFallback()
	}
}

func (n *Negotiator) ready(s *slot) {
	if s.dead || s.ready {
		return
	}
	s.ready = true
	n.readySeq++
	s.readySeq = n.readySeq
	n.config.Metrics.Ready(string(s.mode), time.Since(s.startedAt).Seconds())

	if n.active == nil {
		n.promote(s)
		return
	}
	score := n.score(s)
	current := n.score(n.active)
	n.log.Debugf("%v ready with score %v, %v active with score %v",
		s.mode, score, n.active.mode, current)
	if score > current {
		old := n.active
		n.promote(s)
		n.teardown(old)
	} else {
		n.teardown(s)
	}
}

func (n *Negotiator) score(s *slot) int {
	return n.config.Policy.Score(s.mode.Kind(), s.t.Negotiated())
}

func (n *Negotiator) promote(s *slot) {
	previous := ""
	if n.active != nil {
		previous = string(n.active.mode)
		n.active.active = false
	}
	n.active = s
	s.active = true
	n.log.Infof("%v is active", s.mode)
	n.config.Metrics.Active(previous, string(s.mode))
	if n.span != nil {
		n.span.AddEvent("active", trace.WithAttributes(
			attribute.String("mode", string(s.mode)),
		))
	}
	if n.config.Surface != nil {
		n.config.Surface.Show(s.t.Source())
	}
	if n.config.OnActive != nil {
		n.config.OnActive(s.mode)
	}
}

func (n *Negotiator) failed(s *slot, err error) {
	if s.dead {
		return
	}
	kind := "negotiation"
	if errors.Is(err, transport.ErrDecode) {
		kind = "decode"
	} else if s.active {
		kind = "session"
	}
	n.log.Warnf("%v: %v", s.mode, err)
	n.config.Metrics.Failed(string(s.mode), kind)
	if n.span != nil {
		n.span.RecordError(err, trace.WithAttributes(
			attribute.String("mode", string(s.mode)),
		))
	}

	if s.active {
		if kind == "decode" {
			n.ch.Drop(err)
			return
		}
		n.teardownAll()
		n.renegotiate.Set(n.loop, n.config.RenegotiateDelay, func() {
			if n.running {
				n.Start()
			}
		})
		return
	}

	n.teardown(s)
	if n.active == nil && len(n.live()) == 0 {
		n.startFallback()
	}
}

// Route delivers a binary frame to the transport that owns handle h.
func (n *Negotiator) Route(h channel.Handle, data []byte) {
	s := n.lookup(h)
	if s == nil || s.dead {
		return
	}
	s.rate.Accumulate(len(data))
	n.config.Metrics.Received(string(s.mode), len(data))
	s.t.Data(data)
}

type dropper interface {
	Dropped() int
}

func (n *Negotiator) teardown(s *slot) {
	if s.dead {
		return
	}
	s.dead = true
	for _, sub := range s.subs {
		sub.Cancel()
	}
	s.subs = nil
	n.ch.ClearSink(s.handle)
	if d, ok := s.t.(dropper); ok {
		n.config.Metrics.Dropped(d.Dropped())
	}
	err := s.t.Close()
	if err != nil {
		n.log.Warnf("close %v: %v", s.mode, err)
	}
	if n.active == s {
		n.active = nil
		s.active = false
		n.config.Metrics.Active(string(s.mode), "")
		if n.config.Surface != nil {
			n.config.Surface.Show(nil)
		}
		if n.config.OnActive != nil {
			n.config.OnActive("")
		}
	}
	n.log.Debugf("closed %v", s.mode)
	n.release(s)
}

func (n *Negotiator) teardownAll() {
	for _, s := range n.live() {
		n.teardown(s)
	}
	n.errSub.Cancel()
	n.errSub = nil
	n.started = nil
	n.mjpegArmed = false
	if n.span != nil {
		n.span.End()
		n.span = nil
	}
}

// Teardown closes all transports.  It is called when the control
// channel closes, and is idempotent.
func (n *Negotiator) Teardown() {
	n.renegotiate.Clear()
	n.teardownAll()
	n.running = false
}

// Active returns the mode of the active transport, if any.
func (n *Negotiator) Active() transport.Mode {
	if n.active == nil {
		return ""
	}
	return n.active.mode
}

// ActiveSource returns the output of the active transport, if any.
func (n *Negotiator) ActiveSource() transport.Source {
	if n.active == nil {
		return nil
	}
	return n.active.t.Source()
}

type TransportStatus struct {
	Mode       transport.Mode `json:"mode"`
	Ready      bool           `json:"ready"`
	Active     bool           `json:"active"`
	Score      int            `json:"score,omitempty"`
	Rate       uint64         `json:"rate"`
	ChunkRate  uint64         `json:"chunkRate"`
	TotalBytes uint64         `json:"totalBytes"`
}

// Transports returns the status of the running transports, in start
// order.
func (n *Negotiator) Transports() []TransportStatus {
	var l []TransportStatus
	for _, s := range n.live() {
		rate, chunkRate := s.rate.Estimate()
		_, total := s.rate.Totals()
		ts := TransportStatus{
			Mode:       s.mode,
			Ready:      s.ready,
			Active:     s.active,
			Rate:       rate,
			ChunkRate:  chunkRate,
			TotalBytes: total,
		}
		if s.ready {
			ts.Score = n.score(s)
		}
		l = append(l, ts)
	}
	return l
}
