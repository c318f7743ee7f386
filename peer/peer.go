// Package peer implements the real-time peer-connection transport.
package peer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"

	"github.com/jech/videortc/channel"
	"github.com/jech/videortc/ice"
	"github.com/jech/videortc/transport"
)

const DefaultSettleDelay = 2 * time.Second

var ErrConnection = errors.New("peer connection failed")

const (
	typeOffer     = "webrtc/offer"
	typeAnswer    = "webrtc/answer"
	typeCandidate = "webrtc/candidate"
)

type Config struct {
	ICE   ice.Config
	Media transport.Media
	// Microphone, if not nil, is sent to the gateway.
	Microphone webrtc.TrackLocal
	// SettleDelay is how long to wait for the remaining tracks once
	// the connection is up and at least one track has arrived.
	SettleDelay   time.Duration
	LoggerFactory logging.LoggerFactory
}

type Transport struct {
	host   transport.Host
	mode   transport.Mode
	config Config
	log    logging.LeveledLogger

	pc            *webrtc.PeerConnection
	source        *Source
	sub           *channel.Subscription
	iceCandidates []*webrtc.ICECandidateInit
	expected      int
	connected     bool
	settle        *time.Timer
	settled       bool
	ready         bool
	closed        bool
}

func New(host transport.Host, mode transport.Mode, config Config) *Transport {
	if config.SettleDelay <= 0 {
		config.SettleDelay = DefaultSettleDelay
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Transport{
		host:   host,
		mode:   mode,
		config: config,
		log:    host.Logger("webrtc"),
	}
}

func (t *Transport) Mode() transport.Mode {
	return t.mode
}

func (t *Transport) tcpOnly() bool {
	return t.mode == transport.WebRTCTCP
}

func newAPI(config Config, tcp bool) (*webrtc.API, error) {
	var m webrtc.MediaEngine
	err := m.RegisterDefaultCodecs()
	if err != nil {
		return nil, err
	}
	ir := &interceptor.Registry{}
	err = webrtc.RegisterDefaultInterceptors(&m, ir)
	if err != nil {
		return nil, err
	}
	var s webrtc.SettingEngine
	s.LoggerFactory = config.LoggerFactory
	if tcp {
		s.SetNetworkTypes([]webrtc.NetworkType{
			webrtc.NetworkTypeTCP4, webrtc.NetworkTypeTCP6,
			webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6,
		})
	}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(&m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(s),
	), nil
}

func (t *Transport) Start() error {
	media := t.config.Media
	if !media.Video && !media.Audio && t.config.Microphone == nil {
		return transport.ErrNoCodec
	}

	api, err := newAPI(t.config, t.tcpOnly())
	if err != nil {
		return err
	}
	conf, err := t.config.ICE.Configuration()
	if err != nil {
		t.log.Warnf("ICE configuration: %v", err)
	}
	pc, err := api.NewPeerConnection(conf)
	if err != nil {
		return err
	}
	t.pc = pc
	t.source = &Source{pc: pc}

	if t.config.Microphone != nil {
		tr, err := pc.AddTransceiverFromTrack(
			t.config.Microphone,
			webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionSendonly,
			},
		)
		if err != nil {
			pc.Close()
			return err
		}
		go drainSender(tr.Sender())
	}
	kinds := []webrtc.RTPCodecType{}
	if media.Video {
		kinds = append(kinds, webrtc.RTPCodecTypeVideo)
	}
	if media.Audio {
		kinds = append(kinds, webrtc.RTPCodecTypeAudio)
	}
	for _, k := range kinds {
		_, err := pc.AddTransceiverFromKind(k,
			webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			},
		)
		if err != nil {
			pc.Close()
			return err
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		t.host.Post(func() {
			t.gotLocalCandidate(c)
		})
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		t.host.Post(func() {
			t.stateChanged(s)
		})
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		track := newTrack(remote, receiver)
		go track.readRTCP()
		t.host.Post(func() {
			t.gotTrack(track)
		})
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return err
	}
	err = pc.SetLocalDescription(offer)
	if err != nil {
		pc.Close()
		return err
	}

	t.sub = t.host.Subscribe(t.gotMessage, typeAnswer, typeCandidate)
	t.host.Send(channel.Message{
		Type:  typeOffer,
		Value: pc.LocalDescription().SDP,
	})
	return nil
}

func drainSender(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		_, _, err := sender.Read(buf)
		if err != nil {
			return
		}
	}
}

func (t *Transport) gotLocalCandidate(c *webrtc.ICECandidate) {
	if t.closed {
		return
	}
	value := ""
	if c != nil {
		if t.tcpOnly() && c.Protocol == webrtc.ICEProtocolUDP {
			return
		}
		value = c.ToJSON().Candidate
	}
	t.host.Send(channel.Message{Type: typeCandidate, Value: value})
}

func (t *Transport) gotMessage(m channel.Message) {
	if t.closed {
		return
	}
	switch m.Type {
	case typeAnswer:
		t.gotAnswer(m.Text())
	case typeCandidate:
		t.gotRemoteCandidate(m.Text())
	}
}

// expectedTracks returns the number of media sections in which the
// gateway sends media.
func expectedTracks(answer string) (int, error) {
	var sd sdp.SessionDescription
	err := sd.Unmarshal([]byte(answer))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Port.Value == 0 {
			continue
		}
		if md.MediaName.Media != "video" && md.MediaName.Media != "audio" {
			continue
		}
		_, sendonly := md.Attribute(sdp.AttrKeySendOnly)
		_, sendrecv := md.Attribute(sdp.AttrKeySendRecv)
		if sendonly || sendrecv {
			n++
		}
	}
	return n, nil
}

func (t *Transport) gotAnswer(answer string) {
	if t.pc.RemoteDescription() != nil {
		t.log.Warnf("duplicate answer")
		return
	}
	n, err := expectedTracks(answer)
	if err != nil {
		t.host.Failed(fmt.Errorf("%w: %v", transport.ErrNegotiation, err))
		return
	}
	t.expected = n
	err = t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	})
	if err != nil {
		t.host.Failed(fmt.Errorf("%w: %v", transport.ErrNegotiation, err))
		return
	}
	err = t.flushICECandidates()
	if err != nil {
		t.log.Warnf("ICE candidates: %v", err)
	}
}

func (t *Transport) gotRemoteCandidate(value string) {
	if value == "" {
		return
	}
	if !acceptCandidate(t.tcpOnly(), value) {
		return
	}
	mid := "0"
	init := &webrtc.ICECandidateInit{
		Candidate: value,
		SDPMid:    &mid,
	}
	if t.pc.RemoteDescription() == nil {
		t.iceCandidates = append(t.iceCandidates, init)
		return
	}
	err := t.pc.AddICECandidate(*init)
	if err != nil {
		t.log.Warnf("add ICE candidate: %v", err)
	}
}

func (t *Transport) flushICECandidates() error {
	var err error
	for _, c := range t.iceCandidates {
		err2 := t.pc.AddICECandidate(*c)
		if err == nil {
			err = err2
		}
	}
	t.iceCandidates = nil
	return err
}

func (t *Transport) stateChanged(s webrtc.PeerConnectionState) {
	if t.closed {
		return
	}
	t.log.Debugf("connection state %v", s)
	switch s {
	case webrtc.PeerConnectionStateConnected:
		t.connected = true
		t.checkReady()
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		t.connected = false
		err := fmt.Errorf("%w: %v", ErrConnection, s)
		if !t.ready {
			err = fmt.Errorf("%w: %v", transport.ErrNegotiation, err)
		}
		t.host.Failed(err)
	}
}

func (t *Transport) gotTrack(track *Track) {
	if t.closed {
		return
	}
	t.source.add(track)
	t.log.Debugf("got %v track %v",
		track.Remote.Kind(), track.Remote.Codec().MimeType)
	t.checkReady()
}

func (t *Transport) checkReady() {
	if t.ready || !t.connected {
		return
	}
	n := len(t.source.Tracks())
	if n == 0 {
		return
	}
	if n < t.expected && !t.settled {
		if t.settle == nil {
			t.settle = time.AfterFunc(t.config.SettleDelay, func() {
				t.host.Post(func() {
					if t.closed {
						return
					}
					t.settled = true
					t.checkReady()
				})
			})
		}
		return
	}
	if t.settle != nil {
		t.settle.Stop()
	}
	t.ready = true
	t.host.Ready()
}

func (t *Transport) Data(data []byte) {
}

func (t *Transport) Negotiated() transport.Negotiated {
	var n transport.Negotiated
	if t.source == nil {
		return n
	}
	for _, track := range t.source.Tracks() {
		switch track.Remote.Kind() {
		case webrtc.RTPCodecTypeVideo:
			n.Video = true
		case webrtc.RTPCodecTypeAudio:
			n.Audio = true
		}
	}
	return n
}

func (t *Transport) Source() transport.Source {
	if t.source == nil {
		return nil
	}
	return t.source
}

func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.sub.Cancel()
	if t.settle != nil {
		t.settle.Stop()
	}
	if t.pc != nil {
		pc := t.pc
		log := t.log
		go func() {
			err := pc.Close()
			if err != nil {
				log.Warnf("close: %v", err)
			}
		}()
	}
	return nil
}

// acceptCandidate reports whether a remote candidate should be used.
func acceptCandidate(tcpOnly bool, value string) bool {
	if !tcpOnly {
		return true
	}
	c, err := ice.ParseCandidate(value)
	if err != nil {
		return !strings.Contains(strings.ToLower(value), " udp ")
	}
	return !c.NetworkType().IsUDP()
}
