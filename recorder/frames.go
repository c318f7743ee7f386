package recorder

import (
	"os"
	"path/filepath"

	"github.com/jech/videortc/mjpeg"
	"github.com/jech/videortc/transport"
)

// frameRecording keeps the latest frame in a file of a fixed name.
type frameRecording struct {
	r    *Recorder
	src  *mjpeg.Source
	done chan struct{}
	wait chan struct{}
}

func newFrameRecording(r *Recorder, src *mjpeg.Source) *frameRecording {
	return &frameRecording{
		r:    r,
		src:  src,
		done: make(chan struct{}),
		wait: make(chan struct{}),
	}
}

func (f *frameRecording) filename() string {
	name := "latest"
	if f.r.Name != "" {
		name = f.r.Name + "-latest"
	}
	if f.src.Mode() == transport.MP4 {
		return name + ".mp4"
	}
	return name + ".jpg"
}

func (f *frameRecording) run() {
	defer close(f.wait)
	var seqno uint64
	for {
		updated := f.src.Updated()
		frame := f.src.Latest()
		if frame != nil && frame.Seqno != seqno {
			seqno = frame.Seqno
			err := writeFile(
				filepath.Join(f.r.Directory, f.filename()),
				frame.Data,
			)
			if err != nil {
				f.r.logger().Warnf("frame: %v", err)
			}
		}
		select {
		case <-updated:
		case <-f.done:
			return
		}
	}
}

func (f *frameRecording) stop() {
	close(f.done)
	<-f.wait
}

// writeFile replaces filename atomically.
func writeFile(filename string, data []byte) error {
	err := os.MkdirAll(filepath.Dir(filename), 0700)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(filename), ".frame-*")
	if err != nil {
		return err
	}
	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Close()
	} else {
		tmp.Close()
	}
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	err = os.Rename(tmp.Name(), filename)
	if err != nil {
		os.Remove(tmp.Name())
	}
	return err
}
