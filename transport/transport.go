// Package transport defines the interface shared by the playback
// transports and the types they exchange with the negotiator.
package transport

import (
	"errors"
	"strings"

	"github.com/pion/logging"

	"github.com/jech/videortc/channel"
)

type Kind int

const (
	PeerConnection Kind = iota
	BufferedMedia
	SegmentedManifest
	RawFramePush
)

func (k Kind) String() string {
	switch k {
	case PeerConnection:
		return "peerconnection"
	case BufferedMedia:
		return "buffered"
	case SegmentedManifest:
		return "segmented"
	case RawFramePush:
		return "rawframe"
	default:
		return "unknown"
	}
}

// Mode is the token used on the wire and in the preference list.
type Mode string

const (
	WebRTC    Mode = "webrtc"
	WebRTCTCP Mode = "webrtc/tcp"
	MSE       Mode = "mse"
	HLS       Mode = "hls"
	MP4       Mode = "mp4"
	MJPEG     Mode = "mjpeg"
)

var DefaultModes = []Mode{WebRTC, MSE, HLS, MJPEG}

// ParseModes parses a comma-separated preference list.  Unknown tokens
// are ignored.
func ParseModes(s string) []Mode {
	var modes []Mode
	for _, t := range strings.Split(s, ",") {
		m := Mode(strings.TrimSpace(t))
		if m.Kind() < 0 {
			continue
		}
		modes = append(modes, m)
	}
	return modes
}

// Kind returns the transport kind of m, or -1 if m is unknown.
func (m Mode) Kind() Kind {
	switch m {
	case WebRTC, WebRTCTCP:
		return PeerConnection
	case MSE:
		return BufferedMedia
	case HLS:
		return SegmentedManifest
	case MP4, MJPEG:
		return RawFramePush
	default:
		return -1
	}
}

// Base returns the mode without its modifiers.
func (m Mode) Base() Mode {
	if i := strings.IndexByte(string(m), '/'); i >= 0 {
		return m[:i]
	}
	return m
}

// Exclusive is true for modes that consume binary frames or drive the
// main video surface.  At most one of them runs at a time.
func (m Mode) Exclusive() bool {
	switch m {
	case MSE, HLS, MP4:
		return true
	}
	return false
}

// Media is the set of media kinds requested by the user.
type Media struct {
	Video      bool
	Audio      bool
	Microphone bool
}

// ParseMedia parses a comma-separated list such as "video,audio".
func ParseMedia(s string) Media {
	var m Media
	for _, t := range strings.Split(s, ",") {
		switch strings.TrimSpace(t) {
		case "video":
			m.Video = true
		case "audio":
			m.Audio = true
		case "microphone":
			m.Microphone = true
		}
	}
	return m
}

func (m Media) String() string {
	var l []string
	if m.Video {
		l = append(l, "video")
	}
	if m.Audio {
		l = append(l, "audio")
	}
	if m.Microphone {
		l = append(l, "microphone")
	}
	return strings.Join(l, ",")
}

// Negotiated describes what a transport ended up carrying.
type Negotiated struct {
	Video bool
	Audio bool
	// Codecs is the codec string announced by the gateway, if any.
	Codecs string
}

// Source is the renderable output of a transport.
type Source interface {
	Mode() Mode
}

// Surface is where the active transport's output is shown.
type Surface interface {
	Show(src Source)
	SetControls(enabled bool)
}

// Seeker is implemented by surfaces that can jump to the live edge
// when playback resumes.
type Seeker interface {
	SeekLive()
}

// Host is the view of the negotiator given to a transport.  Its
// methods must be called from the event loop.
type Host interface {
	Send(m channel.Message) bool
	Subscribe(h channel.Handler, types ...string) *channel.Subscription
	// ClaimSink directs binary frames to the transport.
	ClaimSink()
	// Endpoint is the URL of the control channel.
	Endpoint() string
	// Ready signals that the transport can be shown.
	Ready()
	// Failed signals a negotiation or session error.
	Failed(err error)
	// Post schedules f on the loop; f is dropped if the transport
	// has been torn down in the meantime.
	Post(f func())
	Logger(scope string) logging.LeveledLogger
}

// Transport is implemented by the playback transports.  All methods
// are called from the event loop.
type Transport interface {
	Mode() Mode
	// Start sends the negotiation request.
	Start() error
	// Data is called with binary frames while the transport owns the
	// data sink.
	Data(data []byte)
	// Negotiated is only meaningful once Ready has been signalled.
	Negotiated() Negotiated
	Source() Source
	// Close releases all resources.  It is idempotent.
	Close() error
}

var (
	ErrNegotiation = errors.New("negotiation failed")
	ErrDecode      = errors.New("decode error")
	ErrNoCodec     = errors.New("no supported codec")
	ErrClosed      = errors.New("transport closed")
)

// ServerError is an error reported by the gateway.
type ServerError string

func (err ServerError) Error() string {
	return "server error: " + string(err)
}

func (err ServerError) Unwrap() error {
	return ErrNegotiation
}
