package mse

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jech/videortc/channel"
	"github.com/jech/videortc/transport"
	"github.com/jech/videortc/transport/transporttest"
)

type fakeSource struct {
	mu      sync.Mutex
	mime    string
	buffer  *fakeBuffer
	removed int
}

func (s *fakeSource) AddSourceBuffer(mime string, ev Events) (SourceBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buffer != nil {
		return nil, ErrBusy
	}
	s.mime = mime
	s.buffer = &fakeBuffer{events: ev}
	return s.buffer, nil
}

func (s *fakeSource) RemoveSourceBuffer(sb SourceBuffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed++
}

type fakeBuffer struct {
	events     Events
	updating   bool
	appended   [][]byte
	removed    [][2]time.Duration
	live       [2]time.Duration
	start, end time.Duration
	ok         bool
}

func (b *fakeBuffer) Append(data []byte) error {
	if b.updating {
		return ErrUpdating
	}
	b.updating = true
	b.appended = append(b.appended, data)
	return nil
}

func (b *fakeBuffer) Remove(start, end time.Duration) error {
	if b.updating {
		return ErrUpdating
	}
	b.updating = true
	b.removed = append(b.removed, [2]time.Duration{start, end})
	return nil
}

func (b *fakeBuffer) Buffered() (time.Duration, time.Duration, bool) {
	return b.start, b.end, b.ok
}

func (b *fakeBuffer) SetLiveSeekableRange(start, end time.Duration) {
	b.live = [2]time.Duration{start, end}
}

// finish completes the pending operation, on the loop.
func (b *fakeBuffer) finish(h *transporttest.Host) {
	b.updating = false
	b.events.UpdateEnd()
	// UpdateEnd posts to the loop; wait for it to run
	h.Do(func() {})
}

func start(t *testing.T, config Config) (*transporttest.Host, *Transport) {
	h := transporttest.New()
	var tr *Transport
	h.Do(func() {
		tr = New(h, config)
		err := tr.Start()
		if err != nil {
			t.Errorf("Start: %v", err)
		}
	})
	return h, tr
}

func TestNegotiate(t *testing.T) {
	src := &fakeSource{}
	h, tr := start(t, Config{
		Source: src,
		Media:  transport.Media{Video: true},
	})
	defer h.Stop()

	sent := h.Sent()
	if len(sent) != 1 || sent[0].Type != "mse" ||
		sent[0].Text() != "avc1.640029,avc1.64002A,avc1.640033,hvc1.1.6.L153.B0" {
		t.Fatalf("Unexpected request %v", sent)
	}

	mime := `video/mp4; codecs="avc1.640029"`
	h.Deliver(channel.Message{Type: "mse", Value: mime})
	if src.mime != mime {
		t.Errorf("Expected %v, got %v", mime, src.mime)
	}
	if !h.Claimed() || h.ReadyCount() != 1 {
		t.Errorf("Transport not ready")
	}
	h.Do(func() {
		n := tr.Negotiated()
		if !n.Video || n.Audio || n.Codecs != mime {
			t.Errorf("Unexpected negotiation %v", n)
		}
	})

	// a second reply is ignored
	h.Deliver(channel.Message{Type: "mse", Value: mime})
	if h.ReadyCount() != 1 {
		t.Errorf("Ready signalled twice")
	}
}

func TestAppendAndTrim(t *testing.T) {
	src := &fakeSource{}
	h, tr := start(t, Config{
		Source: src,
		Media:  transport.Media{Video: true, Audio: true},
	})
	defer h.Stop()
	h.Deliver(channel.Message{
		Type: "mse", Value: `video/mp4; codecs="avc1.640029"`,
	})
	b := src.buffer

	h.Do(func() {
		tr.Data([]byte{1})
		tr.Data([]byte{2, 3})
		tr.Data([]byte{4})
	})
	if len(b.appended) != 1 || !bytes.Equal(b.appended[0], []byte{1}) {
		t.Fatalf("Unexpected appends %v", b.appended)
	}

	b.finish(h)
	if len(b.appended) != 2 ||
		!bytes.Equal(b.appended[1], []byte{2, 3, 4}) {
		t.Fatalf("Ring not flushed as one chunk: %v", b.appended)
	}

	b.start, b.end, b.ok = 0, 20*time.Second, true
	b.finish(h)
	if len(b.removed) != 1 ||
		b.removed[0] != [2]time.Duration{0, 5 * time.Second} {
		t.Errorf("Unexpected remove %v", b.removed)
	}
	if b.live != [2]time.Duration{5 * time.Second, 20 * time.Second} {
		t.Errorf("Unexpected live range %v", b.live)
	}

	// nothing to trim
	b.start = 5 * time.Second
	b.finish(h)
	if len(b.removed) != 1 {
		t.Errorf("Unexpected remove %v", b.removed)
	}
	h.Do(func() {
		tr.Data([]byte{5})
	})
	if len(b.appended) != 3 {
		t.Errorf("Direct append expected, got %v", b.appended)
	}
}

func TestOverflow(t *testing.T) {
	src := &fakeSource{}
	h, tr := start(t, Config{
		Source:       src,
		Media:        transport.Media{Video: true},
		RingCapacity: 4,
	})
	defer h.Stop()
	h.Deliver(channel.Message{Type: "mse", Value: `video/mp4; codecs="avc1.640029"`})
	b := src.buffer

	h.Do(func() {
		tr.Data([]byte{0})
		tr.Data([]byte{1, 2, 3})
		tr.Data([]byte{4, 5})
		tr.Data([]byte{6})
		if tr.Dropped() != 1 {
			t.Errorf("Expected 1 dropped chunk, got %v", tr.Dropped())
		}
	})
	b.finish(h)
	if !bytes.Equal(b.appended[1], []byte{1, 2, 3, 6}) {
		t.Errorf("Unexpected flush %v", b.appended[1])
	}
}

func TestDecodeError(t *testing.T) {
	src := &fakeSource{}
	h, _ := start(t, Config{Source: src, Media: transport.Media{Video: true}})
	defer h.Stop()
	h.Deliver(channel.Message{Type: "mse", Value: `video/mp4; codecs="avc1.640029"`})

	src.buffer.events.DecodeError(errors.New("bad data"))
	err, ok := transporttest.Wait(h.FailedCh, 5*time.Second)
	if !ok {
		t.Fatalf("Timeout")
	}
	if !errors.Is(err, transport.ErrDecode) {
		t.Errorf("Expected decode error, got %v", err)
	}
}

func TestNoCodec(t *testing.T) {
	h := transporttest.New()
	defer h.Stop()
	h.Do(func() {
		tr := New(h, Config{
			Source: &fakeSource{},
			Media:  transport.Media{Video: true},
			Probe:  func(string) bool { return false },
		})
		err := tr.Start()
		if err != transport.ErrNoCodec {
			t.Errorf("Expected ErrNoCodec, got %v", err)
		}
		if len(h.Sent()) != 0 {
			t.Errorf("Request sent without codecs")
		}
	})
}

func TestClose(t *testing.T) {
	src := &fakeSource{}
	h, tr := start(t, Config{Source: src, Media: transport.Media{Video: true}})
	defer h.Stop()
	h.Deliver(channel.Message{Type: "mse", Value: `video/mp4; codecs="avc1.640029"`})
	h.Do(func() {
		tr.Close()
		tr.Close()
		tr.Data([]byte{1})
	})
	if src.removed != 1 {
		t.Errorf("Expected one removal, got %v", src.removed)
	}
	if len(src.buffer.appended) != 0 {
		t.Errorf("Data appended after close")
	}
}
