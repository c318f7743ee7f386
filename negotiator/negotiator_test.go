package negotiator

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/jech/videortc/channel"
	"github.com/jech/videortc/loop"
	"github.com/jech/videortc/transport"
)

type nopOwner struct{}

func (nopOwner) Opened()                          {}
func (nopOwner) Closed(bool)                      {}
func (nopOwner) Route(h channel.Handle, b []byte) {}

type fakeChannel struct {
	*channel.Channel
	sent    []channel.Message
	sink    channel.Handle
	dropped []error
}

func (c *fakeChannel) Send(m channel.Message) bool {
	c.sent = append(c.sent, m)
	return true
}

func (c *fakeChannel) SetSink(h channel.Handle) {
	c.sink = h
}

func (c *fakeChannel) ClearSink(h channel.Handle) {
	if c.sink == h {
		c.sink = 0
	}
}

func (c *fakeChannel) Endpoint() string {
	return "ws://gateway.example/api/ws?src=cam"
}

func (c *fakeChannel) Drop(err error) {
	c.dropped = append(c.dropped, err)
}

type fakeSource transport.Mode

func (s fakeSource) Mode() transport.Mode {
	return transport.Mode(s)
}

type fakeTransport struct {
	host       transport.Host
	mode       transport.Mode
	negotiated transport.Negotiated
	data       [][]byte
	closed     int
}

func (t *fakeTransport) Mode() transport.Mode {
	return t.mode
}

func (t *fakeTransport) Start() error {
	t.host.Send(channel.Message{Type: string(t.mode)})
	if t.mode.Kind() == transport.BufferedMedia ||
		t.mode.Kind() == transport.RawFramePush {
		t.host.ClaimSink()
	}
	return nil
}

func (t *fakeTransport) Data(data []byte) {
	t.data = append(t.data, data)
}

func (t *fakeTransport) Negotiated() transport.Negotiated {
	return t.negotiated
}

func (t *fakeTransport) Source() transport.Source {
	return fakeSource(t.mode)
}

func (t *fakeTransport) Close() error {
	t.closed++
	return nil
}

type fakeFactory struct {
	incapable  map[transport.Mode]bool
	transports map[transport.Mode][]*fakeTransport
}

func (f *fakeFactory) Capable(mode transport.Mode) bool {
	return !f.incapable[mode]
}

func (f *fakeFactory) New(host transport.Host, mode transport.Mode) (transport.Transport, error) {
	t := &fakeTransport{host: host, mode: mode}
	f.transports[mode] = append(f.transports[mode], t)
	return t, nil
}

func (f *fakeFactory) last(mode transport.Mode) *fakeTransport {
	l := f.transports[mode]
	if len(l) == 0 {
		return nil
	}
	return l[len(l)-1]
}

type fakeSurface struct {
	shown []transport.Source
}

func (s *fakeSurface) Show(src transport.Source) {
	s.shown = append(s.shown, src)
}

func (s *fakeSurface) SetControls(bool) {}

func (s *fakeSurface) current() transport.Source {
	if len(s.shown) == 0 {
		return nil
	}
	return s.shown[len(s.shown)-1]
}

type fixture struct {
	loop    *loop.Loop
	ch      *fakeChannel
	factory *fakeFactory
	surface *fakeSurface
	n       *Negotiator
	done    chan struct{}
}

func newFixture(t *testing.T, modes ...transport.Mode) *fixture {
	l := loop.New()
	f := &fixture{
		loop: l,
		ch: &fakeChannel{
			Channel: channel.New(l, nopOwner{}, channel.Config{}),
		},
		factory: &fakeFactory{
			incapable:  make(map[transport.Mode]bool),
			transports: make(map[transport.Mode][]*fakeTransport),
		},
		surface: &fakeSurface{},
		done:    make(chan struct{}),
	}
	f.n = New(l, f.ch, Config{
		Modes:            modes,
		Factory:          f.factory,
		Surface:          f.surface,
		RenegotiateDelay: 20 * time.Millisecond,
	})
	go func() {
		l.Run(context.Background())
		close(f.done)
	}()
	t.Cleanup(func() {
		l.Stop()
		<-f.done
	})
	return f
}

func (f *fixture) do(t *testing.T, fn func()) {
	t.Helper()
	err := f.loop.Call(context.Background(), fn)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
}

var (
	mseNegotiated = transport.Negotiated{
		Video: true, Audio: true, Codecs: "avc1.640029,mp4a.40.2",
	}
	peerAV = transport.Negotiated{Video: true, Audio: true}
	peerV  = transport.Negotiated{Video: true}
)

func modesOf(l []TransportStatus) []transport.Mode {
	var m []transport.Mode
	for _, s := range l {
		m = append(m, s.Mode)
	}
	return m
}

func equalModes(a, b []transport.Mode) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStart(t *testing.T) {
	f := newFixture(t, transport.DefaultModes...)
	f.do(t, func() {
		f.n.Start()
		got := modesOf(f.n.Transports())
		expected := []transport.Mode{transport.MSE, transport.WebRTC}
		if !equalModes(got, expected) {
			t.Errorf("Expected %v, got %v", expected, got)
		}
		if !f.n.mjpegArmed {
			t.Errorf("mjpeg not armed")
		}
		if len(f.ch.sent) != 2 {
			t.Errorf("Expected 2 requests, got %v", f.ch.sent)
		}
	})
}

func TestStartIncapable(t *testing.T) {
	f := newFixture(t, transport.DefaultModes...)
	f.factory.incapable[transport.MSE] = true
	f.factory.incapable[transport.WebRTC] = true
	f.do(t, func() {
		f.n.Start()
		got := modesOf(f.n.Transports())
		expected := []transport.Mode{transport.HLS}
		if !equalModes(got, expected) {
			t.Errorf("Expected %v, got %v", expected, got)
		}
	})
}

func TestMJPEGOnly(t *testing.T) {
	f := newFixture(t, transport.MSE, transport.MJPEG)
	f.factory.incapable[transport.MSE] = true
	f.do(t, func() {
		f.n.Start()
		got := modesOf(f.n.Transports())
		expected := []transport.Mode{transport.MJPEG}
		if !equalModes(got, expected) {
			t.Errorf("Expected %v, got %v", expected, got)
		}
		if f.n.mjpegArmed {
			t.Errorf("mjpeg still armed")
		}
	})
}

func TestPreemption(t *testing.T) {
	f := newFixture(t, transport.WebRTC, transport.MSE)
	f.do(t, func() {
		f.n.Start()
		mse := f.factory.last(transport.MSE)
		mse.negotiated = mseNegotiated
		mse.host.Ready()
		if f.n.Active() != transport.MSE {
			t.Errorf("Expected mse, got %v", f.n.Active())
		}

		peer := f.factory.last(transport.WebRTC)
		peer.negotiated = peerAV
		peer.host.Ready()
		if f.n.Active() != transport.WebRTC {
			t.Errorf("Expected webrtc, got %v", f.n.Active())
		}
		if mse.closed != 1 {
			t.Errorf("mse closed %v times", mse.closed)
		}
		if f.ch.sink != 0 {
			t.Errorf("sink not cleared")
		}
		if f.surface.current() != fakeSource(transport.WebRTC) {
			t.Errorf("Surface shows %v", f.surface.current())
		}
	})
}

func TestNoPreemption(t *testing.T) {
	f := newFixture(t, transport.WebRTC, transport.MSE)
	f.do(t, func() {
		f.n.Start()
		mse := f.factory.last(transport.MSE)
		mse.negotiated = mseNegotiated
		mse.host.Ready()

		peer := f.factory.last(transport.WebRTC)
		peer.negotiated = peerV
		peer.host.Ready()
		if f.n.Active() != transport.MSE {
			t.Errorf("Expected mse, got %v", f.n.Active())
		}
		if peer.closed != 1 || mse.closed != 0 {
			t.Errorf("Closed %v %v", peer.closed, mse.closed)
		}
	})
}

type constPolicy int

func (p constPolicy) Score(transport.Kind, transport.Negotiated) int {
	return int(p)
}

func TestTie(t *testing.T) {
	f := newFixture(t, transport.WebRTC, transport.MSE)
	f.n.config.Policy = constPolicy(1)
	f.do(t, func() {
		f.n.Start()
		peer := f.factory.last(transport.WebRTC)
		peer.host.Ready()
		mse := f.factory.last(transport.MSE)
		mse.host.Ready()
		if f.n.Active() != transport.WebRTC {
			t.Errorf("Expected webrtc, got %v", f.n.Active())
		}
	})
}

func TestServerErrorFallback(t *testing.T) {
	f := newFixture(t, transport.WebRTC, transport.MSE, transport.MJPEG)
	f.do(t, func() {
		f.n.Start()
		f.ch.Dispatch(channel.Message{
			Type: "error", Value: "mse: codecs not matched",
		})
		mse := f.factory.last(transport.MSE)
		if mse.closed != 1 {
			t.Errorf("mse closed %v times", mse.closed)
		}
		got := modesOf(f.n.Transports())
		expected := []transport.Mode{transport.WebRTC, transport.MJPEG}
		if !equalModes(got, expected) {
			t.Errorf("Expected %v, got %v", expected, got)
		}
		mjpeg := f.factory.last(transport.MJPEG)
		if f.ch.sink != mjpeg.host.(*slot).handle {
			t.Errorf("mjpeg does not own the sink")
		}
	})
}

func TestUnrelatedError(t *testing.T) {
	f := newFixture(t, transport.WebRTC, transport.MSE, transport.MJPEG)
	f.do(t, func() {
		f.n.Start()
		f.ch.Dispatch(channel.Message{
			Type: "error", Value: "webrtc/offer: no tracks",
		})
		got := modesOf(f.n.Transports())
		expected := []transport.Mode{transport.MSE}
		if !equalModes(got, expected) {
			t.Errorf("Expected %v, got %v", expected, got)
		}
		if !f.n.mjpegArmed {
			t.Errorf("mjpeg not armed")
		}
	})
}

func TestAllFailedFallback(t *testing.T) {
	f := newFixture(t, transport.WebRTC, transport.MJPEG)
	f.do(t, func() {
		f.n.Start()
		peer := f.factory.last(transport.WebRTC)
		peer.host.Failed(transport.ErrNegotiation)
		got := modesOf(f.n.Transports())
		expected := []transport.Mode{transport.MJPEG}
		if !equalModes(got, expected) {
			t.Errorf("Expected %v, got %v", expected, got)
		}
	})
}

func TestActiveDecodeError(t *testing.T) {
	f := newFixture(t, transport.MSE)
	f.do(t, func() {
		f.n.Start()
		mse := f.factory.last(transport.MSE)
		mse.negotiated = mseNegotiated
		mse.host.Ready()
		mse.host.Failed(transport.ErrDecode)
		if len(f.ch.dropped) != 1 ||
			!errors.Is(f.ch.dropped[0], transport.ErrDecode) {
			t.Errorf("Dropped %v", f.ch.dropped)
		}
		f.n.Teardown()
		if mse.closed != 1 {
			t.Errorf("mse closed %v times", mse.closed)
		}
		if f.surface.current() != nil {
			t.Errorf("Surface shows %v", f.surface.current())
		}
	})
}

func TestActiveFailureRenegotiates(t *testing.T) {
	f := newFixture(t, transport.WebRTC)
	f.do(t, func() {
		f.n.Start()
		peer := f.factory.last(transport.WebRTC)
		peer.negotiated = peerAV
		peer.host.Ready()
		peer.host.Failed(errors.New("connection failed"))
		if peer.closed != 1 {
			t.Errorf("peer closed %v times", peer.closed)
		}
		if f.n.Active() != "" {
			t.Errorf("Active is %v", f.n.Active())
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		var count int
		f.do(t, func() {
			count = len(f.factory.transports[transport.WebRTC])
		})
		if count == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no renegotiation")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTeardownCancelsRenegotiation(t *testing.T) {
	f := newFixture(t, transport.WebRTC)
	f.do(t, func() {
		f.n.Start()
		peer := f.factory.last(transport.WebRTC)
		peer.host.Ready()
		peer.host.Failed(errors.New("connection failed"))
		f.n.Teardown()
	})
	time.Sleep(60 * time.Millisecond)
	f.do(t, func() {
		if len(f.factory.transports[transport.WebRTC]) != 1 {
			t.Errorf("renegotiated after teardown")
		}
	})
}

func TestRoute(t *testing.T) {
	f := newFixture(t, transport.MSE)
	f.do(t, func() {
		f.n.Start()
		first := f.factory.last(transport.MSE)
		old := f.ch.sink
		f.n.Route(old, []byte{1})
		if len(first.data) != 1 {
			t.Errorf("Expected 1 frame, got %v", len(first.data))
		}

		f.n.Teardown()
		f.n.Start()
		second := f.factory.last(transport.MSE)
		if f.ch.sink == old {
			t.Errorf("handle reused")
		}
		f.n.Route(old, []byte{2})
		f.n.Route(f.ch.sink, []byte{3})
		if len(first.data) != 1 || len(second.data) != 1 {
			t.Errorf("Got %v %v", len(first.data), len(second.data))
		}
	})
}

func TestStaleHost(t *testing.T) {
	f := newFixture(t, transport.WebRTC, transport.MSE)
	f.do(t, func() {
		f.n.Start()
		peer := f.factory.last(transport.WebRTC)
		f.n.Teardown()
		f.n.Start()
		peer.host.Ready()
		if f.n.Active() != "" {
			t.Errorf("stale transport became active")
		}
		if peer.host.Send(channel.Message{Type: "x"}) {
			t.Errorf("stale transport could send")
		}
	})
}

// TestSingleActive drives random event sequences and checks that at
// most one transport is active and that the surface shows it.
func TestSingleActive(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	negotiated := []transport.Negotiated{
		mseNegotiated, peerAV, peerV, {Audio: true},
		{Video: true, Codecs: "hvc1.1.6.L153.B0"},
	}
	for round := 0; round < 50; round++ {
		f := newFixture(t, transport.DefaultModes...)
		f.do(t, func() {
			f.n.Start()
			for step := 0; step < 30; step++ {
				live := f.n.live()
				if len(live) == 0 {
					f.n.Teardown()
					f.n.Start()
					continue
				}
				s := live[rng.Intn(len(live))]
				ft := s.t.(*fakeTransport)
				switch rng.Intn(4) {
				case 0, 1:
					ft.negotiated =
						negotiated[rng.Intn(len(negotiated))]
					s.Ready()
				case 2:
					s.Failed(transport.ErrNegotiation)
				case 3:
					f.ch.Dispatch(channel.Message{
						Type:  "error",
						Value: string(s.mode) + ": boom",
					})
				}

				active := 0
				for _, s := range f.n.live() {
					if s.active {
						active++
						if f.surface.current() != s.t.Source() {
							t.Errorf("surface mismatch")
							return
						}
					}
				}
				if active > 1 {
					t.Errorf("%v active transports", active)
					return
				}
				if active == 0 && f.n.Active() != "" {
					t.Errorf("dangling active %v", f.n.Active())
					return
				}
			}
			f.n.Teardown()
			for _, l := range f.factory.transports {
				for _, ft := range l {
					if ft.closed != 1 {
						t.Errorf("%v closed %v times",
							ft.mode, ft.closed)
					}
				}
			}
		})
	}
}
