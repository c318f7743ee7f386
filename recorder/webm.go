package recorder

import (
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/jech/samplebuilder"

	vcodecs "github.com/jech/videortc/codecs"
	"github.com/jech/videortc/peer"
	"github.com/jech/videortc/rtptime"
)

const (
	audioMaxLate = 32
	videoMaxLate = 256
)

// trackWait is how long to wait for more tracks after the first one.
const trackWait = 500 * time.Millisecond

type peerRecording struct {
	r    *Recorder
	src  *peer.Source
	done chan struct{}

	mu            sync.Mutex
	closed        bool
	file          *os.File
	tracks        []*diskTrack
	hasVideo      bool
	width, height uint32
	// wall-clock time of timestamp 0 in the current file
	origin      time.Time
	lastWarning time.Time
}

type diskTrack struct {
	rec     *peerRecording
	track   *peer.Track
	codec   webrtc.RTPCodecParameters
	builder *samplebuilder.SampleBuilder
	writer  mkvcore.BlockWriteCloser

	haveSeqno bool
	lastSeqno uint16

	unwrapper  rtptime.Unwrapper
	firstLocal time.Time

	kfRequested time.Time
	lastKf      time.Time
	savedKf     *rtp.Packet
}

func newPeerRecording(r *Recorder, src *peer.Source) *peerRecording {
	return &peerRecording{
		r:    r,
		src:  src,
		done: make(chan struct{}),
	}
}

func isVideo(codec string) bool {
	return len(codec) > 6 && strings.EqualFold(codec[:6], "video/")
}

// selectTracks returns at most one audio and one video track.
func (rec *peerRecording) selectTracks(tracks []*peer.Track) []*peer.Track {
	var audio, video *peer.Track
	for _, t := range tracks {
		codec := t.Remote.Codec().MimeType
		if strings.EqualFold(codec, "audio/opus") {
			if audio == nil {
				audio = t
			} else {
				rec.r.logger().Warnf("multiple audio tracks, recording just one")
			}
		} else if strings.EqualFold(codec, "video/vp8") ||
			strings.EqualFold(codec, "video/vp9") ||
			strings.EqualFold(codec, "video/h264") {
			if video == nil {
				video = t
			} else {
				rec.r.logger().Warnf("multiple video tracks, recording just one")
			}
		} else {
			rec.r.logger().Warnf("unknown codec %v, not recording", codec)
		}
	}
	var l []*peer.Track
	if audio != nil {
		l = append(l, audio)
	}
	if video != nil {
		l = append(l, video)
	}
	return l
}

// run waits for the tracks to arrive, then starts recording.
func (rec *peerRecording) run() {
	var timer <-chan time.Time
	for {
		added := rec.src.Added()
		tracks := rec.src.Tracks()
		if len(tracks) >= 2 {
			break
		}
		if len(tracks) == 1 && timer == nil {
			timer = time.After(trackWait)
		}
		select {
		case <-added:
			continue
		case <-timer:
		case <-rec.done:
			return
		}
		break
	}

	tracks := rec.selectTracks(rec.src.Tracks())
	if len(tracks) == 0 {
		rec.r.logger().Warnf("no usable tracks found")
		return
	}

	rec.mu.Lock()
	if rec.closed {
		rec.mu.Unlock()
		return
	}
	for _, t := range tracks {
		codec := t.Remote.Codec()
		var builder *samplebuilder.SampleBuilder
		switch strings.ToLower(codec.MimeType) {
		case "audio/opus":
			builder = samplebuilder.New(
				audioMaxLate, &codecs.OpusPacket{},
				codec.ClockRate,
			)
		case "video/vp8":
			builder = samplebuilder.New(
				videoMaxLate, &codecs.VP8Packet{},
				codec.ClockRate,
			)
			rec.hasVideo = true
		case "video/vp9":
			builder = samplebuilder.New(
				videoMaxLate, &codecs.VP9Packet{},
				codec.ClockRate,
			)
			rec.hasVideo = true
		case "video/h264":
			builder = samplebuilder.New(
				videoMaxLate, &codecs.H264Packet{},
				codec.ClockRate,
			)
			rec.hasVideo = true
		}
		rec.tracks = append(rec.tracks, &diskTrack{
			rec:     rec,
			track:   t,
			codec:   codec,
			builder: builder,
		})
	}
	for _, t := range rec.tracks {
		go t.read()
	}
	rec.mu.Unlock()
}

func (rec *peerRecording) stop() {
	rec.mu.Lock()
	if rec.closed {
		rec.mu.Unlock()
		return
	}
	rec.closed = true
	close(rec.done)
	rec.close()
	rec.mu.Unlock()
}

// called locked
func (rec *peerRecording) warn(message string) {
	now := time.Now()
	if now.Sub(rec.lastWarning) < 10*time.Second {
		return
	}
	rec.r.logger().Warnf("%v", message)
	rec.lastWarning = now
}

// close flushes the tracks and closes the current file.
// Called locked.
func (rec *peerRecording) close() {
	for _, t := range rec.tracks {
		t.writeBuffered(true)
		if t.writer != nil {
			t.writer.Close()
			t.writer = nil
		}
	}
	rec.file = nil
	rec.origin = time.Time{}
}

func (t *diskTrack) read() {
	buf := make([]byte, 1504)
	for {
		n, _, err := t.track.Remote.Read(buf)
		if err != nil {
			return
		}
		// samplebuilder retains packets
		data := make([]byte, n)
		copy(data, buf[:n])
		p := new(rtp.Packet)
		err = p.Unmarshal(data)
		if err != nil {
			continue
		}

		t.rec.mu.Lock()
		if t.rec.closed {
			t.rec.mu.Unlock()
			return
		}
		t.gotPacket(p)
		t.rec.mu.Unlock()
	}
}

// called locked
func (t *diskTrack) gotPacket(p *rtp.Packet) {
	if t.haveSeqno {
		if ((p.SequenceNumber - t.lastSeqno) & 0x8000) == 0 {
			// jump forward
			if p.SequenceNumber-t.lastSeqno >= 256 {
				t.requestKeyframe()
			}
			t.lastSeqno = p.SequenceNumber
		} else if t.lastSeqno-p.SequenceNumber >= 512 {
			// jump backward
			t.haveSeqno = false
			t.requestKeyframe()
		}
	}
	if !t.haveSeqno {
		t.haveSeqno = true
		t.lastSeqno = p.SequenceNumber
	}

	err := t.writeRTP(p)
	if err != nil {
		t.rec.warn("write to disk: " + err.Error())
	}
}

func (t *diskTrack) requestKeyframe() {
	now := time.Now()
	if now.Sub(t.kfRequested) > 500*time.Millisecond {
		t.rec.src.RequestKeyframe(t.track)
		t.kfRequested = now
	}
}

// called locked
func (t *diskTrack) writeRTP(p *rtp.Packet) error {
	if isVideo(t.codec.MimeType) {
		kf, _ := vcodecs.Keyframe(t.codec.MimeType, p.Payload)
		if kf {
			t.savedKf = p
			t.lastKf = time.Now()
		} else if time.Since(t.lastKf) > 4*time.Second {
			t.requestKeyframe()
		}
	}

	t.builder.Push(p)
	return t.writeBuffered(false)
}

// wallclock returns the sender's time for RTP timestamp ts, using the
// latest sender report if there is one, and local arrival times
// otherwise.
// Called locked.
func (t *diskTrack) wallclock(ts uint32) time.Time {
	clockrate := t.codec.ClockRate
	ntp, srts, ok := t.track.SenderReport()
	if ok {
		return rtptime.NTPToTime(ntp).Add(
			rtptime.ToDuration(int64(int32(ts-srts)), clockrate),
		)
	}
	if t.firstLocal.IsZero() {
		t.firstLocal = time.Now()
	}
	return t.firstLocal.Add(
		rtptime.ToDuration(t.unwrapper.Unwrap(ts), clockrate),
	)
}

// writeBuffered writes buffered samples to disk.  If force is true,
// samples are flushed even if they are preceded by incomplete samples.
// Called locked.
func (t *diskTrack) writeBuffered(force bool) error {
	codec := t.codec.MimeType
	for {
		var sample *media.Sample
		var ts uint32
		if !force {
			sample, ts = t.builder.PopWithTimestamp()
		} else {
			sample, ts = t.builder.ForcePopWithTimestamp()
		}
		if sample == nil {
			return nil
		}

		var keyframe bool
		if isVideo(codec) {
			keyframe = t.savedKf != nil && ts == t.savedKf.Timestamp
			if keyframe {
				w, h := vcodecs.KeyframeDimensions(
					codec, t.savedKf.Payload,
				)
				err := t.rec.initWriter(w, h, t.wallclock(ts))
				if err != nil {
					return err
				}
			}
		} else {
			keyframe = true
			if t.writer == nil && !t.rec.hasVideo {
				err := t.rec.initWriter(0, 0, t.wallclock(ts))
				if err != nil {
					return err
				}
			}
		}

		if t.writer == nil {
			continue
		}

		tm := t.wallclock(ts).Sub(t.rec.origin)
		if tm < 0 {
			// late sample before the origin
			continue
		}
		_, err := t.writer.Write(keyframe, tm.Milliseconds(), sample.Data)
		if err != nil {
			return err
		}
	}
}

func trackEntry(number int, codec webrtc.RTPCodecParameters, width, height uint32) (webm.TrackEntry, bool, error) {
	video := &webm.Video{
		PixelWidth:  uint64(width),
		PixelHeight: uint64(height),
	}
	switch strings.ToLower(codec.MimeType) {
	case "audio/opus":
		return webm.TrackEntry{
			Name:        "Audio",
			TrackNumber: uint64(number),
			CodecID:     "A_OPUS",
			TrackType:   2,
			Audio: &webm.Audio{
				SamplingFrequency: float64(codec.ClockRate),
				Channels:          uint64(codec.Channels),
			},
		}, true, nil
	case "video/vp8":
		return webm.TrackEntry{
			Name:        "Video",
			TrackNumber: uint64(number),
			CodecID:     "V_VP8",
			TrackType:   1,
			Video:       video,
		}, true, nil
	case "video/vp9":
		return webm.TrackEntry{
			Name:        "Video",
			TrackNumber: uint64(number),
			CodecID:     "V_VP9",
			TrackType:   1,
			Video:       video,
		}, true, nil
	case "video/h264":
		return webm.TrackEntry{
			Name:        "Video",
			TrackNumber: uint64(number),
			CodecID:     "V_MPEG4/ISO/AVC",
			TrackType:   1,
			Video:       video,
		}, false, nil
	}
	return webm.TrackEntry{}, false, errors.New("unknown track type")
}

// initWriter opens a new file unless one is open with the same
// dimensions.  Origin is the wall-clock time of the first sample.
// Called locked.
func (rec *peerRecording) initWriter(width, height uint32, origin time.Time) error {
	if rec.file != nil {
		if width == rec.width && height == rec.height {
			return nil
		}
		rec.close()
	}

	isWebm := true
	var desc []mkvcore.TrackDescription
	for i, t := range rec.tracks {
		entry, webmOK, err := trackEntry(i+1, t.codec, width, height)
		if err != nil {
			return err
		}
		isWebm = isWebm && webmOK
		desc = append(desc, mkvcore.TrackDescription{
			TrackNumber: uint64(i + 1),
			TrackEntry:  entry,
		})
	}

	extension := "webm"
	header := webm.DefaultEBMLHeader
	if !isWebm {
		extension = "mkv"
		h := *header
		h.DocType = "matroska"
		header = &h
	}

	file, err := rec.r.create(extension)
	if err != nil {
		return err
	}

	interceptor, err := mkvcore.NewMultiTrackBlockSorter(
		// must be larger than the samplebuilder's MaxLate.
		mkvcore.WithMaxDelayedPackets(videoMaxLate+16),
		mkvcore.WithSortRule(mkvcore.BlockSorterWriteOutdated),
	)
	if err != nil {
		file.Close()
		return err
	}

	ws, err := mkvcore.NewSimpleBlockWriter(
		file, desc,
		mkvcore.WithEBMLHeader(header),
		mkvcore.WithSegmentInfo(webm.DefaultSegmentInfo),
		mkvcore.WithBlockInterceptor(interceptor),
	)
	if err != nil {
		file.Close()
		return err
	}
	if len(ws) != len(rec.tracks) {
		file.Close()
		return errors.New("unexpected number of writers")
	}

	rec.file = file
	rec.width = width
	rec.height = height
	rec.origin = origin
	for i, t := range rec.tracks {
		t.writer = ws[i]
	}
	rec.r.logger().Infof("recording to %v", file.Name())
	return nil
}
