// Package hls implements the segmented-manifest transport.  The gateway
// answers the request with a master playlist, which is handed to a
// segmented playback engine once its URIs have been made absolute.
package hls

import (
	"fmt"

	"github.com/pion/logging"

	"github.com/jech/videortc/channel"
	"github.com/jech/videortc/codecs"
	"github.com/jech/videortc/transport"
)

type Config struct {
	Engine Engine
	Media  transport.Media
	Probe  codecs.Prober
}

type Source struct {
	Manifest []byte
	Playback Playback
}

func (s *Source) Mode() transport.Mode {
	return transport.HLS
}

type Transport struct {
	host   transport.Host
	config Config
	log    logging.LeveledLogger

	sub        *channel.Subscription
	source     *Source
	playback   Playback
	negotiated transport.Negotiated
	ready      bool
	closed     bool
}

func New(host transport.Host, config Config) *Transport {
	if config.Probe == nil {
		config.Probe = codecs.Default
	}
	return &Transport{
		host:   host,
		config: config,
		log:    host.Logger("hls"),
	}
}

func (t *Transport) Mode() transport.Mode {
	return transport.HLS
}

func (t *Transport) Start() error {
	if t.config.Engine == nil {
		return fmt.Errorf("%w: no playback engine",
			transport.ErrNegotiation)
	}
	announce := codecs.Announce(codecs.Probe(
		t.config.Probe, t.config.Media.Video, t.config.Media.Audio,
	))
	if announce == "" {
		return transport.ErrNoCodec
	}
	t.sub = t.host.Subscribe(t.gotMessage, string(transport.HLS))
	t.host.Send(channel.Message{
		Type:  string(transport.HLS),
		Value: announce,
	})
	return nil
}

func (t *Transport) gotMessage(m channel.Message) {
	if t.closed || t.playback != nil {
		return
	}
	fail := func(err error) {
		t.host.Failed(fmt.Errorf("%w: %v", transport.ErrNegotiation, err))
	}
	base, err := channel.HTTPBase(t.host.Endpoint())
	if err != nil {
		fail(err)
		return
	}
	manifest, err := Rewrite(m.Text(), base)
	if err != nil {
		fail(err)
		return
	}
	pb, err := t.config.Engine.Play(manifest.Data, events{t})
	if err != nil {
		fail(err)
		return
	}
	t.playback = pb
	t.source = &Source{Manifest: manifest.Data, Playback: pb}
	n := transport.Negotiated{Codecs: manifest.Codecs}
	for _, c := range codecs.Parse(`codecs="` + manifest.Codecs + `"`) {
		if codecs.IsVideo(c) {
			n.Video = true
		} else {
			n.Audio = true
		}
	}
	t.negotiated = n
}

type events struct {
	t *Transport
}

func (e events) Loaded() {
	e.t.host.Post(func() {
		if e.t.closed || e.t.ready {
			return
		}
		e.t.ready = true
		e.t.host.Ready()
	})
}

func (e events) Error(err error) {
	e.t.host.Post(func() {
		if e.t.closed {
			return
		}
		if !e.t.ready {
			err = fmt.Errorf("%w: %v", transport.ErrNegotiation, err)
		}
		e.t.host.Failed(err)
	})
}

func (t *Transport) Data(data []byte) {
}

func (t *Transport) Negotiated() transport.Negotiated {
	return t.negotiated
}

func (t *Transport) Source() transport.Source {
	if t.source == nil {
		return nil
	}
	return t.source
}

func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.sub.Cancel()
	if t.playback != nil {
		go t.playback.Stop()
	}
	return nil
}
