package peer

import (
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"

	"github.com/jech/videortc/transport"
)

type senderReport struct {
	ntp uint64
	rtp uint32
}

// Track is a track received from the gateway.  Only one goroutine may
// read RTP from Remote.
type Track struct {
	Remote   *webrtc.TrackRemote
	Receiver *webrtc.RTPReceiver

	mu sync.Mutex
	sr *senderReport
}

func newTrack(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) *Track {
	return &Track{Remote: remote, Receiver: receiver}
}

func (t *Track) readRTCP() {
	for {
		ps, _, err := t.Receiver.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range ps {
			sr, ok := p.(*rtcp.SenderReport)
			if !ok || sr.SSRC != uint32(t.Remote.SSRC()) {
				continue
			}
			t.mu.Lock()
			t.sr = &senderReport{ntp: sr.NTPTime, rtp: sr.RTPTime}
			t.mu.Unlock()
		}
	}
}

// SenderReport returns the NTP and RTP times of the latest sender
// report.
func (t *Track) SenderReport() (uint64, uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sr == nil {
		return 0, 0, false
	}
	return t.sr.ntp, t.sr.rtp, true
}

// Source is the output of the peer transport.  It is safe for
// concurrent use.
type Source struct {
	pc *webrtc.PeerConnection

	mu     sync.Mutex
	tracks []*Track
	added  chan struct{}
}

func (s *Source) Mode() transport.Mode {
	return transport.WebRTC
}

func (s *Source) add(t *Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
	if s.added != nil {
		close(s.added)
		s.added = nil
	}
}

func (s *Source) Tracks() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	tracks := make([]*Track, len(s.tracks))
	copy(tracks, s.tracks)
	return tracks
}

// Added returns a channel that is closed when a track is added.
func (s *Source) Added() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.added == nil {
		s.added = make(chan struct{})
	}
	return s.added
}

// RequestKeyframe asks the gateway for a keyframe on track.
func (s *Source) RequestKeyframe(t *Track) error {
	return s.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{
			MediaSSRC: uint32(t.Remote.SSRC()),
		},
	})
}
