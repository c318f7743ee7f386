// Package recorder implements a surface that writes whatever the
// active transport produces to disk.
package recorder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/jech/videortc/hls"
	"github.com/jech/videortc/mjpeg"
	"github.com/jech/videortc/mse"
	"github.com/jech/videortc/peer"
	"github.com/jech/videortc/transport"
)

type recording interface {
	stop()
}

// Recorder is a transport.Surface.  Peer sessions are written as WebM
// or Matroska, buffered sessions and segments as they are received,
// and raw frames replace a single file.
type Recorder struct {
	Directory string
	// Name is included in file names.
	Name   string
	Logger logging.LeveledLogger

	mu       sync.Mutex
	current  recording
	frames   *mjpeg.Source
	segments *segmentFile
	controls bool
	closed   bool
}

func (r *Recorder) logger() logging.LeveledLogger {
	if r.Logger == nil {
		return logging.NewDefaultLoggerFactory().NewLogger("recorder")
	}
	return r.Logger
}

func (r *Recorder) Show(src transport.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		r.current.stop()
		r.current = nil
	}
	r.frames = nil
	if r.segments != nil {
		r.segments.Close()
		r.segments = nil
	}
	if r.closed || src == nil {
		return
	}

	switch src := src.(type) {
	case *peer.Source:
		rec := newPeerRecording(r, src)
		go rec.run()
		r.current = rec
	case *mjpeg.Source:
		rec := newFrameRecording(r, src)
		go rec.run()
		r.current = rec
		r.frames = src
	case *mse.Source, *hls.Source:
		// written by the sink
		r.logger().Debugf("recording %v", src.Mode())
	default:
		r.logger().Warnf("cannot record %T", src)
	}
}

// SetControls is recorded and reported by Controls; a recorder has
// no user controls.
func (r *Recorder) SetControls(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controls = enabled
}

func (r *Recorder) Controls() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controls
}

// Latest returns the most recent raw frame, if the active transport
// pushes frames.
func (r *Recorder) Latest() *mjpeg.Frame {
	r.mu.Lock()
	frames := r.frames
	r.mu.Unlock()
	if frames == nil {
		return nil
	}
	return frames.Latest()
}

// MediaSource returns a decode sink that writes buffered media to a
// new file per session.
func (r *Recorder) MediaSource() *mse.FragmentSink {
	return &mse.FragmentSink{
		Open: func(mime string) (io.WriteCloser, error) {
			r.logger().Infof("recording %v", mime)
			return r.create("mp4")
		},
		Logger: r.logger(),
	}
}

type segmentFile struct {
	f    *os.File
	init bool
}

func (s *segmentFile) Close() error {
	return s.f.Close()
}

// Segment writes a downloaded segment.  Segments of a playback are
// concatenated.
func (r *Recorder) Segment(seg hls.Segment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.segments == nil {
		ext := "ts"
		if seg.Init || strings.HasSuffix(seg.URI, ".m4s") ||
			strings.HasSuffix(seg.URI, ".mp4") {
			ext = "mp4"
		}
		f, err := r.create(ext)
		if err != nil {
			r.logger().Warnf("segment: %v", err)
			return
		}
		r.segments = &segmentFile{f: f}
	}
	if seg.Init {
		if r.segments.init {
			return
		}
		r.segments.init = true
	}
	_, err := r.segments.f.Write(seg.Data)
	if err != nil {
		r.logger().Warnf("segment: %v", err)
	}
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.current != nil {
		r.current.stop()
		r.current = nil
	}
	if r.segments != nil {
		r.segments.Close()
		r.segments = nil
	}
	return nil
}

func (r *Recorder) create(extension string) (*os.File, error) {
	err := os.MkdirAll(r.Directory, 0700)
	if err != nil {
		return nil, err
	}
	return openDiskFile(r.Directory, r.Name, extension)
}

func openDiskFile(directory, name, extension string) (*os.File, error) {
	filenameFormat := "2006-01-02T15:04:05.000"
	if runtime.GOOS == "windows" {
		filenameFormat = "2006-01-02T15-04-05-000"
	}

	filename := time.Now().Format(filenameFormat)
	if name != "" {
		filename = filename + "-" + name
	}
	for counter := 0; counter < 100; counter++ {
		var fn string
		if counter == 0 {
			fn = fmt.Sprintf("%v.%v", filename, extension)
		} else {
			fn = fmt.Sprintf("%v-%02d.%v",
				filename, counter, extension,
			)
		}

		fn = filepath.Join(directory, fn)
		f, err := os.OpenFile(
			fn, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600,
		)
		if err == nil {
			return f, nil
		} else if !os.IsExist(err) {
			return nil, err
		}
	}
	return nil, errors.New("couldn't create file")
}
