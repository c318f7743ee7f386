package transport

import (
	"errors"
	"reflect"
	"testing"
)

func TestModes(t *testing.T) {
	modes := ParseModes("webrtc/tcp, mse,bogus,mjpeg")
	expected := []Mode{WebRTCTCP, MSE, MJPEG}
	if !reflect.DeepEqual(modes, expected) {
		t.Errorf("Expected %v, got %v", expected, modes)
	}
	if WebRTCTCP.Base() != WebRTC || WebRTCTCP.Kind() != PeerConnection {
		t.Errorf("Bad webrtc/tcp")
	}
	if !MP4.Exclusive() || WebRTC.Exclusive() || MJPEG.Exclusive() {
		t.Errorf("Bad exclusivity")
	}
}

func TestMedia(t *testing.T) {
	m := ParseMedia("video,audio")
	if !m.Video || !m.Audio || m.Microphone {
		t.Errorf("Bad media %v", m)
	}
	if m.String() != "video,audio" {
		t.Errorf("Bad string %v", m.String())
	}
	if ParseMedia("") != (Media{}) {
		t.Errorf("Expected no media")
	}
}

func TestScore(t *testing.T) {
	w := DefaultWeights
	tests := []struct {
		kind  Kind
		n     Negotiated
		score int
	}{
		{PeerConnection, Negotiated{Video: true}, 544},
		{PeerConnection, Negotiated{Video: true, Audio: true}, 802},
		{BufferedMedia, Negotiated{Codecs: `video/mp4; codecs="hvc1.1.6.L153.B0"`}, 560},
		{BufferedMedia, Negotiated{Codecs: `video/mp4; codecs="avc1.640029,mp4a.40.2"`}, 785},
		{BufferedMedia, Negotiated{Codecs: `video/mp4; codecs="flac"`}, 0},
	}
	for _, test := range tests {
		s := w.Score(test.kind, test.n)
		if s != test.score {
			t.Errorf("%v %v: expected %v, got %v",
				test.kind, test.n, test.score, s)
		}
	}

	// HEVC beats peer video, H.264 doesn't
	hevc := w.Score(BufferedMedia, Negotiated{Codecs: "hvc1.1.6.L153.B0"})
	avc := w.Score(BufferedMedia, Negotiated{Codecs: "avc1.640029"})
	peer := w.Score(PeerConnection, Negotiated{Video: true})
	if !(hevc > peer && avc < peer) {
		t.Errorf("Bad ordering %v %v %v", hevc, avc, peer)
	}
}

func TestServerError(t *testing.T) {
	err := error(ServerError("webrtc/offer: no tracks"))
	if !errors.Is(err, ErrNegotiation) {
		t.Errorf("ServerError is not a negotiation error")
	}
}
