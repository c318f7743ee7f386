package hls

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/grafov/m3u8"
	"github.com/pion/logging"
)

// Events are delivered by a playback, from any goroutine.
type Events interface {
	// Loaded is signalled once the first media playlist is loaded.
	Loaded()
	Error(err error)
}

// Engine plays a manifest whose URIs are absolute.
type Engine interface {
	Play(manifest []byte, events Events) (Playback, error)
}

type Playback interface {
	Stop()
}

// Lazy creates the engine on first use.
type Lazy struct {
	New func() Engine

	once   sync.Once
	engine Engine
}

func (l *Lazy) Play(manifest []byte, events Events) (Playback, error) {
	l.once.Do(func() {
		l.engine = l.New()
	})
	return l.engine.Play(manifest, events)
}

func (l *Lazy) Created() bool {
	return l.engine != nil
}

type Segment struct {
	URI      string
	SeqNo    uint64
	Duration time.Duration
	// Init is true for initialisation sections (EXT-X-MAP).
	Init bool
	Data []byte
}

var ErrTooManyFailures = errors.New("too many consecutive failures")

// Fetcher is an Engine that polls the media playlist and downloads
// segments over HTTP.
type Fetcher struct {
	Client *http.Client
	// Segment, if not nil, is called with every downloaded segment,
	// in order.
	Segment     func(s Segment)
	MaxFailures int
	Logger      logging.LeveledLogger
}

type fetch struct {
	f      *Fetcher
	media  *url.URL
	events Events
	cancel context.CancelFunc
	done   chan struct{}
}

func (f *Fetcher) Play(manifest []byte, events Events) (Playback, error) {
	p, lt, err := m3u8.DecodeFrom(bytes.NewReader(manifest), false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadManifest, err)
	}
	if lt != m3u8.MASTER {
		return nil, fmt.Errorf("%w: expected master playlist",
			ErrBadManifest)
	}
	var variant *m3u8.Variant
	for _, v := range p.(*m3u8.MasterPlaylist).Variants {
		if v == nil {
			continue
		}
		if variant == nil || v.Bandwidth > variant.Bandwidth {
			variant = v
		}
	}
	if variant == nil {
		return nil, ErrBadManifest
	}
	u, err := url.Parse(variant.URI)
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("%w: bad variant URI %q",
			ErrBadManifest, variant.URI)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ft := &fetch{
		f:      f,
		media:  u,
		events: events,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go ft.run(ctx)
	return ft, nil
}

func (ft *fetch) Stop() {
	ft.cancel()
	<-ft.done
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

func (f *Fetcher) logger() logging.LeveledLogger {
	if f.Logger != nil {
		return f.Logger
	}
	return logging.NewDefaultLoggerFactory().NewLogger("hls")
}

func (f *Fetcher) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%v: %v", u, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (ft *fetch) run(ctx context.Context) {
	defer close(ft.done)

	maxFailures := ft.f.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 3
	}
	loaded := false
	failures := 0
	next := uint64(0)
	first := true
	initURI := ""

	for {
		interval, closed, err := ft.poll(ctx, &next, &first, &initURI)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			ft.f.logger().Warnf("%v", err)
			if !loaded || failures >= maxFailures {
				if loaded {
					err = fmt.Errorf("%w: %v",
						ErrTooManyFailures, err)
				}
				ft.events.Error(err)
				return
			}
		} else {
			failures = 0
			if !loaded {
				loaded = true
				ft.events.Loaded()
			}
		}
		if closed {
			return
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// poll fetches the media playlist once and downloads new segments.
func (ft *fetch) poll(ctx context.Context, next *uint64, first *bool, initURI *string) (time.Duration, bool, error) {
	interval := time.Second
	data, err := ft.f.get(ctx, ft.media.String())
	if err != nil {
		return interval, false, err
	}
	p, lt, err := m3u8.DecodeFrom(bytes.NewReader(data), false)
	if err != nil {
		return interval, false, fmt.Errorf("%w: %v", ErrBadManifest, err)
	}
	if lt != m3u8.MEDIA {
		return interval, false, fmt.Errorf("%w: expected media playlist",
			ErrBadManifest)
	}
	media := p.(*m3u8.MediaPlaylist)
	resolveMedia(media, ft.media)
	if media.TargetDuration > 0 {
		interval = time.Duration(media.TargetDuration * float64(time.Second) / 2)
		if interval < 100*time.Millisecond {
			interval = 100 * time.Millisecond
		}
	}

	if media.Map != nil && media.Map.URI != *initURI {
		d, err := ft.f.get(ctx, media.Map.URI)
		if err != nil {
			return interval, false, err
		}
		*initURI = media.Map.URI
		ft.deliver(Segment{URI: media.Map.URI, Init: true, Data: d})
	}

	var segs []*m3u8.MediaSegment
	for _, s := range media.Segments {
		if s != nil {
			segs = append(segs, s)
		}
	}
	if *first && len(segs) > 0 {
		// start at the live edge
		*next = media.SeqNo + uint64(len(segs)-1)
		*first = false
	}
	for i, s := range segs {
		seqno := media.SeqNo + uint64(i)
		if seqno < *next {
			continue
		}
		d, err := ft.f.get(ctx, s.URI)
		if err != nil {
			return interval, false, err
		}
		ft.deliver(Segment{
			URI:      s.URI,
			SeqNo:    seqno,
			Duration: time.Duration(s.Duration * float64(time.Second)),
			Data:     d,
		})
		*next = seqno + 1
	}
	return interval, media.Closed, nil
}

func (ft *fetch) deliver(s Segment) {
	if ft.f.Segment != nil {
		ft.f.Segment(s)
	}
}
