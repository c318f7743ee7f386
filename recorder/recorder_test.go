package recorder

import (
	"bytes"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/jech/videortc/hls"
	"github.com/jech/videortc/mjpeg"
	"github.com/jech/videortc/transport"
	"github.com/jech/videortc/transport/transporttest"
)

func TestOpenDiskFile(t *testing.T) {
	dir := t.TempDir()
	f1, err := openDiskFile(dir, "cam", "webm")
	if err != nil {
		t.Fatalf("openDiskFile: %v", err)
	}
	defer f1.Close()
	f2, err := openDiskFile(dir, "cam", "webm")
	if err != nil {
		t.Fatalf("openDiskFile: %v", err)
	}
	defer f2.Close()
	if f1.Name() == f2.Name() {
		t.Errorf("Same file %v", f1.Name())
	}
	if !strings.HasSuffix(f1.Name(), "-cam.webm") {
		t.Errorf("Bad name %v", f1.Name())
	}
}

func TestTrackEntry(t *testing.T) {
	tests := []struct {
		mime   string
		codec  string
		webm   bool
		failed bool
	}{
		{"audio/opus", "A_OPUS", true, false},
		{"video/VP8", "V_VP8", true, false},
		{"video/vp9", "V_VP9", true, false},
		{"video/H264", "V_MPEG4/ISO/AVC", false, false},
		{"audio/PCMU", "", false, true},
	}
	for _, test := range tests {
		codec := webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  test.mime,
				ClockRate: 90000,
			},
		}
		entry, ok, err := trackEntry(1, codec, 640, 480)
		if test.failed {
			if err == nil {
				t.Errorf("%v: no error", test.mime)
			}
			continue
		}
		if err != nil || entry.CodecID != test.codec || ok != test.webm {
			t.Errorf("%v: got %v %v %v",
				test.mime, entry.CodecID, ok, err)
		}
	}
}

func TestSegments(t *testing.T) {
	dir := t.TempDir()
	r := &Recorder{Directory: dir, Name: "cam"}
	r.Segment(hls.Segment{URI: "init.mp4", Init: true, Data: []byte("I")})
	r.Segment(hls.Segment{URI: "s1.m4s", SeqNo: 1, Data: []byte("A")})
	r.Segment(hls.Segment{URI: "init.mp4", Init: true, Data: []byte("I")})
	r.Segment(hls.Segment{URI: "s2.m4s", SeqNo: 2, Data: []byte("B")})
	r.Close()

	files, err := filepath.Glob(filepath.Join(dir, "*.mp4"))
	if err != nil || len(files) != 1 {
		t.Fatalf("Glob: %v %v", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "IAB" {
		t.Errorf("Got %q", data)
	}

	// a closed recorder writes nothing
	r.Segment(hls.Segment{URI: "s3.m4s", SeqNo: 3, Data: []byte("C")})
	files, _ = filepath.Glob(filepath.Join(dir, "*"))
	if len(files) != 1 {
		t.Errorf("Got %v", files)
	}
}

type nopEvents struct{}

func (nopEvents) UpdateEnd()        {}
func (nopEvents) DecodeError(error) {}

func TestMediaSource(t *testing.T) {
	dir := t.TempDir()
	r := &Recorder{Directory: dir}
	sink := r.MediaSource()
	sb, err := sink.AddSourceBuffer(`video/mp4; codecs="avc1.640029"`,
		nopEvents{})
	if err != nil {
		t.Fatalf("AddSourceBuffer: %v", err)
	}
	sink.RemoveSourceBuffer(sb)
	files, _ := filepath.Glob(filepath.Join(dir, "*.mp4"))
	if len(files) != 1 {
		t.Errorf("Got %v", files)
	}
}

func TestFrames(t *testing.T) {
	var buf bytes.Buffer
	err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4)), nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	frame := buf.Bytes()

	h := transporttest.New()
	defer h.Stop()
	tr := mjpeg.New(h, transport.MJPEG, mjpeg.Config{})
	h.Do(func() {
		err := tr.Start()
		if err != nil {
			t.Errorf("Start: %v", err)
		}
	})

	dir := t.TempDir()
	r := &Recorder{Directory: dir, Name: "cam"}
	defer r.Close()
	r.Show(tr.Source())
	if r.Latest() != nil {
		t.Errorf("Latest before first frame")
	}
	h.Do(func() {
		tr.Data(frame)
	})

	filename := filepath.Join(dir, "cam-latest.jpg")
	deadline := time.Now().Add(5 * time.Second)
	for {
		data, err := os.ReadFile(filename)
		if err == nil && bytes.Equal(data, frame) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if f := r.Latest(); f == nil || !bytes.Equal(f.Data, frame) {
		t.Errorf("Latest: %v", f)
	}

	r.Show(nil)
	if r.Latest() != nil {
		t.Errorf("Latest after Show(nil)")
	}
}

func TestControls(t *testing.T) {
	r := &Recorder{}
	r.SetControls(true)
	if !r.Controls() {
		t.Errorf("controls not set")
	}
}
