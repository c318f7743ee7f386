package player

import (
	"fmt"

	"github.com/jech/videortc/hls"
	"github.com/jech/videortc/mjpeg"
	"github.com/jech/videortc/mse"
	"github.com/jech/videortc/peer"
	"github.com/jech/videortc/transport"
)

type factory struct {
	p *Player
}

func (f factory) Capable(mode transport.Mode) bool {
	switch mode.Kind() {
	case transport.PeerConnection, transport.RawFramePush:
		return true
	case transport.BufferedMedia:
		return f.p.config.MediaSource != nil
	case transport.SegmentedManifest:
		return f.p.config.HLS != nil
	}
	return false
}

func (f factory) New(host transport.Host, mode transport.Mode) (transport.Transport, error) {
	c := &f.p.config
	switch mode.Kind() {
	case transport.PeerConnection:
		return peer.New(host, mode, peer.Config{
			ICE:           c.ICE,
			Media:         c.Media,
			Microphone:    c.Microphone,
			LoggerFactory: c.LoggerFactory,
		}), nil
	case transport.BufferedMedia:
		return mse.New(host, mse.Config{
			Source: c.MediaSource,
			Media:  c.Media,
			Probe:  c.Probe,
		}), nil
	case transport.SegmentedManifest:
		return hls.New(host, hls.Config{
			Engine: c.HLS,
			Media:  c.Media,
			Probe:  c.Probe,
		}), nil
	case transport.RawFramePush:
		return mjpeg.New(host, mode, mjpeg.Config{
			Media: c.Media,
			Probe: c.Probe,
		}), nil
	}
	return nil, fmt.Errorf("%w: unknown mode %v",
		transport.ErrNegotiation, mode)
}
