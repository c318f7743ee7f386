// Package player implements a live camera player: it keeps a control
// channel to the gateway open while attached, and lets the negotiator
// pick the best transport over it.
package player

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/jech/videortc/channel"
	"github.com/jech/videortc/codecs"
	"github.com/jech/videortc/hls"
	"github.com/jech/videortc/ice"
	"github.com/jech/videortc/loop"
	"github.com/jech/videortc/metrics"
	"github.com/jech/videortc/mse"
	"github.com/jech/videortc/negotiator"
	"github.com/jech/videortc/transport"
)

const DefaultGrace = 5 * time.Second

type Config struct {
	// URL is the endpoint, ws(s)://, http(s):// or an absolute path
	// resolved against Origin.
	URL    string
	Origin string
	// Signer, if not nil, is applied to the endpoint before every
	// connection attempt.
	Signer func(url string) (string, error)

	Modes []transport.Mode
	Media transport.Media
	// Background players are never disconnected when detached.
	Background bool
	Policy     transport.ScorePolicy

	ICE        ice.Config
	Microphone webrtc.TrackLocal
	// MediaSource enables the mse mode.
	MediaSource mse.MediaSource
	// HLS enables the hls mode.
	HLS     hls.Engine
	Probe   codecs.Prober
	Surface transport.Surface

	Backoff time.Duration
	Grace   time.Duration
	Dialer  *websocket.Dialer
	Header  http.Header

	Metrics       *metrics.Metrics
	Tracer        trace.Tracer
	LoggerFactory logging.LoggerFactory
}

type Player struct {
	loop   *loop.Loop
	config Config
	log    logging.LeveledLogger
	ch     *channel.Channel
	neg    *negotiator.Negotiator

	attached    bool
	grace       loop.Slot
	connects    int
	disconnects int
	lastError   string

	mu      sync.Mutex
	status  Status
	subs    map[int]func(Status)
	nextSub int
}

type nopSurface struct{}

func (nopSurface) Show(transport.Source) {}
func (nopSurface) SetControls(bool)      {}

func New(config Config) *Player {
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if config.Grace <= 0 {
		config.Grace = DefaultGrace
	}
	if config.Probe == nil {
		config.Probe = codecs.Default
	}
	if config.Surface == nil {
		config.Surface = nopSurface{}
	}
	if config.Modes == nil {
		config.Modes = transport.DefaultModes
	}
	if config.Media == (transport.Media{}) {
		config.Media = transport.Media{Video: true, Audio: true}
	}

	l := loop.New()
	p := &Player{
		loop:   l,
		config: config,
		log:    config.LoggerFactory.NewLogger("player"),
		subs:   make(map[int]func(Status)),
	}
	p.ch = channel.New(l, (*owner)(p), channel.Config{
		Dialer:  config.Dialer,
		Header:  config.Header,
		Backoff: config.Backoff,
		Logger:  config.LoggerFactory.NewLogger("channel"),
	})
	p.ch.SetURL(p.endpoint)
	p.neg = negotiator.New(l, p.ch, negotiator.Config{
		Modes:         config.Modes,
		Factory:       factory{p},
		Policy:        config.Policy,
		Surface:       config.Surface,
		Metrics:       config.Metrics,
		Tracer:        config.Tracer,
		LoggerFactory: config.LoggerFactory,
		OnActive: func(mode transport.Mode) {
			p.update()
		},
	})
	p.status = Status{Channel: channel.Idle.String()}
	return p
}

func (p *Player) endpoint() (string, error) {
	u, err := channel.NormalizeURL(p.config.URL, p.config.Origin)
	if err != nil {
		return "", err
	}
	if p.config.Signer != nil {
		return p.config.Signer(u)
	}
	return u, nil
}

// Run attaches the player and runs it until ctx is cancelled or Close
// is called.
func (p *Player) Run(ctx context.Context) error {
	p.post(p.start)
	err := p.loop.Run(ctx)

	// the loop has stopped, this goroutine now owns the state
	p.grace.Clear()
	p.ch.Disconnect()
	p.neg.Teardown()
	p.update()
	return err
}

// Close stops the player.  Run returns once the teardown is complete.
func (p *Player) Close() {
	p.loop.Stop()
}

func (p *Player) post(f func()) {
	p.loop.Post(func() {
		f()
		p.update()
	})
}

// SetURL changes the endpoint.  An existing connection is replaced.
func (p *Player) SetURL(url string) {
	p.post(func() {
		if p.config.URL == url {
			return
		}
		p.config.URL = url
		st := p.ch.State()
		if st != channel.Open && st != channel.Connecting {
			return
		}
		p.ch.Disconnect()
		p.ch.Connect()
	})
}

func (p *Player) SetControls(enabled bool) {
	p.post(func() {
		p.config.Surface.SetControls(enabled)
	})
}

// SetMicrophone sets the track sent to the gateway.  It is used from
// the next negotiation on.
func (p *Player) SetMicrophone(track webrtc.TrackLocal) {
	p.post(func() {
		p.config.Microphone = track
	})
}

// Reconnect closes the channel and connects again immediately.
func (p *Player) Reconnect() {
	p.post(func() {
		p.ch.Disconnect()
		if p.attached || p.config.Background {
			p.ch.SetAutoReconnect(true)
			p.ch.Connect()
		}
	})
}

// Attach is called when the player becomes visible.
func (p *Player) Attach() {
	p.post(p.start)
}

// Detach is called when the player is hidden.
func (p *Player) Detach() {
	p.post(p.stop)
}

// owner receives the channel's notifications.
type owner Player

func (o *owner) Opened() {
	p := (*Player)(o)
	p.connects++
	p.config.Metrics.Connect("open")
	p.neg.Start()
	p.update()
}

func (o *owner) Closed(explicit bool) {
	p := (*Player)(o)
	p.neg.Teardown()
	if explicit {
		p.disconnects++
		p.config.Metrics.Connect("closed")
	} else {
		p.config.Metrics.Connect("lost")
	}
	p.update()
}

func (o *owner) Route(h channel.Handle, data []byte) {
	o.neg.Route(h, data)
}
