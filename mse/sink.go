package mse

import (
	"io"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/jech/videortc/loop"
)

// FragmentSink is a MediaSource that follows the fragmented MP4 stream
// and writes it out.  Open is called once per source buffer with its
// MIME type.
type FragmentSink struct {
	Open   func(mime string) (io.WriteCloser, error)
	Logger logging.LeveledLogger

	mu     sync.Mutex
	active *fragmentBuffer
}

type op struct {
	data       []byte
	start, end time.Duration
	remove     bool
}

type fragmentBuffer struct {
	sink   *FragmentSink
	mime   string
	w      io.WriteCloser
	events Events
	ops    *loop.Queue[op]
	done   chan struct{}

	mu       sync.Mutex
	parser   *fragmentParser
	updating bool
	removed  bool
	trimmed  time.Duration
	live     [2]time.Duration
}

func (s *FragmentSink) AddSourceBuffer(mime string, events Events) (SourceBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, ErrBusy
	}
	var w io.WriteCloser
	if s.Open != nil {
		var err error
		w, err = s.Open(mime)
		if err != nil {
			return nil, err
		}
	}
	b := &fragmentBuffer{
		sink:   s,
		mime:   mime,
		w:      w,
		events: events,
		ops:    loop.NewQueue[op](),
		done:   make(chan struct{}),
		parser: newFragmentParser(),
	}
	s.active = b
	go b.run()
	return b, nil
}

func (s *FragmentSink) RemoveSourceBuffer(sb SourceBuffer) {
	b, ok := sb.(*fragmentBuffer)
	if !ok {
		return
	}
	s.mu.Lock()
	if s.active == b {
		s.active = nil
	}
	s.mu.Unlock()

	b.mu.Lock()
	if b.removed {
		b.mu.Unlock()
		return
	}
	b.removed = true
	b.mu.Unlock()
	close(b.done)
}

func (s *FragmentSink) logger() logging.LeveledLogger {
	if s.Logger == nil {
		return logging.NewDefaultLoggerFactory().NewLogger("mse")
	}
	return s.Logger
}

func (b *fragmentBuffer) start(o op) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.removed {
		return ErrRemoved
	}
	if b.updating {
		return ErrUpdating
	}
	b.updating = true
	b.ops.Put(o)
	return nil
}

func (b *fragmentBuffer) Append(data []byte) error {
	return b.start(op{data: data})
}

func (b *fragmentBuffer) Remove(start, end time.Duration) error {
	return b.start(op{start: start, end: end, remove: true})
}

func (b *fragmentBuffer) Buffered() (time.Duration, time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	start, end, ok := b.parser.buffered()
	if !ok {
		return 0, 0, false
	}
	if b.trimmed > start {
		start = b.trimmed
	}
	if start > end {
		return 0, 0, false
	}
	return start, end, true
}

func (b *fragmentBuffer) SetLiveSeekableRange(start, end time.Duration) {
	b.mu.Lock()
	b.live = [2]time.Duration{start, end}
	b.mu.Unlock()
}

func (b *fragmentBuffer) run() {
	defer func() {
		if b.w != nil {
			err := b.w.Close()
			if err != nil {
				b.sink.logger().Warnf("close: %v", err)
			}
		}
	}()
	for {
		select {
		case <-b.done:
			return
		case <-b.ops.Ch:
		}
		for _, o := range b.ops.Get() {
			err := b.do(o)
			b.mu.Lock()
			b.updating = false
			removed := b.removed
			b.mu.Unlock()
			if removed {
				return
			}
			if err != nil {
				b.events.DecodeError(err)
			}
			b.events.UpdateEnd()
		}
	}
}

func (b *fragmentBuffer) do(o op) error {
	if o.remove {
		b.mu.Lock()
		if o.end > b.trimmed {
			b.trimmed = o.end
		}
		b.mu.Unlock()
		return nil
	}
	b.mu.Lock()
	err := b.parser.write(o.data)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	if b.w != nil {
		_, err = b.w.Write(o.data)
		if err != nil {
			b.sink.logger().Warnf("write: %v", err)
		}
	}
	return nil
}
