// Package mjpeg implements the raw-frame push transport, where every
// binary message from the gateway is a complete picture (JPEG) or a
// short self-contained MP4 clip.
package mjpeg

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	"github.com/jech/videortc/channel"
	"github.com/jech/videortc/codecs"
	"github.com/jech/videortc/transport"
)

type Frame struct {
	Data  []byte
	Image image.Image // nil for MP4 clips
	Time  time.Time
	Seqno uint64
}

// Source holds the latest frame.  It may be read from any goroutine.
type Source struct {
	mode   transport.Mode
	latest atomic.Pointer[Frame]

	mu      sync.Mutex
	updated chan struct{}
}

func newSource(mode transport.Mode) *Source {
	return &Source{
		mode:    mode,
		updated: make(chan struct{}),
	}
}

func (s *Source) Mode() transport.Mode {
	return s.mode
}

// Latest returns the most recent frame, or nil.
func (s *Source) Latest() *Frame {
	return s.latest.Load()
}

// Updated returns a channel that is closed when a new frame arrives.
func (s *Source) Updated() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updated
}

func (s *Source) put(f *Frame) {
	s.latest.Store(f)
	s.mu.Lock()
	close(s.updated)
	s.updated = make(chan struct{})
	s.mu.Unlock()
}

type Config struct {
	Media transport.Media
	Probe codecs.Prober
}

type Transport struct {
	host   transport.Host
	mode   transport.Mode
	config Config
	log    logging.LeveledLogger
	source *Source
	seqno  uint64
	ready  bool
	closed bool
}

// New creates a transport for mode, which must be MJPEG or MP4.
func New(host transport.Host, mode transport.Mode, config Config) *Transport {
	if config.Probe == nil {
		config.Probe = codecs.Default
	}
	return &Transport{
		host:   host,
		mode:   mode,
		config: config,
		log:    host.Logger("mjpeg"),
		source: newSource(mode),
	}
}

func (t *Transport) Mode() transport.Mode {
	return t.mode
}

func (t *Transport) Start() error {
	m := channel.Message{Type: string(t.mode)}
	if t.mode == transport.MP4 {
		announce := codecs.Announce(codecs.Probe(
			t.config.Probe, t.config.Media.Video, t.config.Media.Audio,
		))
		if announce == "" {
			return transport.ErrNoCodec
		}
		m.Value = announce
	} else if t.mode != transport.MJPEG {
		return fmt.Errorf("%w: bad mode %v", transport.ErrNegotiation, t.mode)
	}
	t.host.ClaimSink()
	t.host.Send(m)
	return nil
}

func (t *Transport) Data(data []byte) {
	if t.closed {
		return
	}
	f := &Frame{
		Data: data,
		Time: time.Now(),
	}
	if t.mode == transport.MJPEG {
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			// keep the previous frame
			t.log.Debugf("%v: %v", transport.ErrDecode, err)
			return
		}
		f.Image = img
	}
	t.seqno++
	f.Seqno = t.seqno
	t.source.put(f)
	if !t.ready {
		t.ready = true
		t.host.Ready()
	}
}

func (t *Transport) Negotiated() transport.Negotiated {
	return transport.Negotiated{Video: true}
}

func (t *Transport) Source() transport.Source {
	return t.source
}

func (t *Transport) Close() error {
	t.closed = true
	return nil
}
