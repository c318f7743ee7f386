// Package mse implements the buffered-append transport: the gateway
// streams fragmented MP4 over the control channel, which is appended to
// a decode sink.
package mse

import (
	"fmt"
	"time"

	"github.com/pion/logging"

	"github.com/jech/videortc/channel"
	"github.com/jech/videortc/codecs"
	"github.com/jech/videortc/transport"
)

const DefaultTrimWindow = 15 * time.Second

type Config struct {
	Source       MediaSource
	Media        transport.Media
	Probe        codecs.Prober
	RingCapacity int
	TrimWindow   time.Duration
}

type Transport struct {
	host   transport.Host
	config Config
	log    logging.LeveledLogger

	sub        *channel.Subscription
	ring       *Ring
	sb         SourceBuffer
	updating   bool
	negotiated transport.Negotiated
	dropped    int
	closed     bool
}

// Source is the renderable output of the transport.
type Source struct {
	MIME   string
	Buffer SourceBuffer
}

func (s *Source) Mode() transport.Mode {
	return transport.MSE
}

func New(host transport.Host, config Config) *Transport {
	if config.Probe == nil {
		config.Probe = codecs.Default
	}
	if config.TrimWindow <= 0 {
		config.TrimWindow = DefaultTrimWindow
	}
	return &Transport{
		host:   host,
		config: config,
		log:    host.Logger("mse"),
		ring:   NewRing(config.RingCapacity),
	}
}

func (t *Transport) Mode() transport.Mode {
	return transport.MSE
}

// Announce returns the codec list sent to the gateway.
func Announce(probe codecs.Prober, media transport.Media) string {
	return codecs.Announce(codecs.Probe(probe, media.Video, media.Audio))
}

func (t *Transport) Start() error {
	if t.config.Source == nil {
		return fmt.Errorf("%w: no media source", transport.ErrNegotiation)
	}
	announce := Announce(t.config.Probe, t.config.Media)
	if announce == "" {
		return transport.ErrNoCodec
	}
	t.sub = t.host.Subscribe(t.gotMessage, string(transport.MSE))
	t.host.Send(channel.Message{
		Type:  string(transport.MSE),
		Value: announce,
	})
	return nil
}

func (t *Transport) gotMessage(m channel.Message) {
	if t.closed || t.sb != nil {
		return
	}
	mime := m.Text()
	sb, err := t.config.Source.AddSourceBuffer(mime, events{t})
	if err != nil {
		t.host.Failed(fmt.Errorf("%w: %v", transport.ErrNegotiation, err))
		return
	}
	t.sb = sb
	n := transport.Negotiated{Codecs: mime}
	for _, c := range codecs.Parse(mime) {
		if codecs.IsVideo(c) {
			n.Video = true
		} else {
			n.Audio = true
		}
	}
	t.negotiated = n
	t.host.ClaimSink()
	t.host.Ready()
}

type events struct {
	t *Transport
}

func (e events) UpdateEnd() {
	e.t.host.Post(e.t.updateEnd)
}

func (e events) DecodeError(err error) {
	e.t.host.Post(func() {
		if e.t.closed {
			return
		}
		e.t.host.Failed(fmt.Errorf("%w: %v", transport.ErrDecode, err))
	})
}

func (t *Transport) Data(data []byte) {
	if t.closed || t.sb == nil {
		return
	}
	if t.updating || t.ring.Len() > 0 {
		err := t.ring.Push(data)
		if err != nil {
			t.dropped++
			t.log.Warnf("dropping %v bytes: %v", len(data), err)
		}
		return
	}
	t.append(data)
}

func (t *Transport) append(data []byte) {
	err := t.sb.Append(data)
	if err != nil {
		t.log.Warnf("append: %v", err)
		return
	}
	t.updating = true
}

func (t *Transport) updateEnd() {
	t.updating = false
	if t.closed || t.sb == nil {
		return
	}
	if t.ring.Len() > 0 {
		t.append(t.ring.Flush())
		return
	}
	start, end, ok := t.sb.Buffered()
	if !ok {
		return
	}
	edge := end - t.config.TrimWindow
	if edge > start {
		err := t.sb.Remove(start, edge)
		if err != nil {
			t.log.Warnf("remove: %v", err)
		} else {
			t.updating = true
		}
		t.sb.SetLiveSeekableRange(edge, end)
	}
}

// Dropped returns the number of chunks rejected by the ring buffer.
func (t *Transport) Dropped() int {
	return t.dropped
}

func (t *Transport) Negotiated() transport.Negotiated {
	return t.negotiated
}

func (t *Transport) Source() transport.Source {
	return &Source{MIME: t.negotiated.Codecs, Buffer: t.sb}
}

func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.sub.Cancel()
	if t.sb != nil {
		t.config.Source.RemoveSourceBuffer(t.sb)
	}
	return nil
}
