package ice

import (
	"errors"
	"time"

	"github.com/pion/webrtc/v3"
)

// RelayTest checks that a relayed connection can be established with
// the configured servers, and returns the one-way delay.
func RelayTest(c Config, timeout time.Duration) (time.Duration, error) {
	conf, err := c.Configuration()
	if err != nil {
		return 0, err
	}
	conf2 := conf
	conf2.ICETransportPolicy = webrtc.ICETransportPolicyRelay

	var s webrtc.SettingEngine
	s.SetHostAcceptanceMinWait(0)
	s.SetSrflxAcceptanceMinWait(0)
	s.SetPrflxAcceptanceMinWait(0)
	s.SetRelayAcceptanceMinWait(0)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(s))

	pc1, err := api.NewPeerConnection(conf2)
	if err != nil {
		return 0, err
	}
	defer pc1.Close()
	pc2, err := api.NewPeerConnection(conf)
	if err != nil {
		return 0, err
	}
	defer pc2.Close()

	pc1.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			pc2.AddICECandidate(c.ToJSON())
		}
	})
	pc2.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			pc1.AddICECandidate(c.ToJSON())
		}
	})

	d1, err := pc1.CreateDataChannel("loopback", nil)
	if err != nil {
		return 0, err
	}

	ch1 := make(chan error, 1)
	d1.OnOpen(func() {
		err := d1.Send([]byte(time.Now().Format(time.RFC3339Nano)))
		if err != nil {
			select {
			case ch1 <- err:
			default:
			}
		}
	})

	ch2 := make(chan string, 1)
	pc2.OnDataChannel(func(d2 *webrtc.DataChannel) {
		d2.OnMessage(func(msg webrtc.DataChannelMessage) {
			select {
			case ch2 <- string(msg.Data):
			default:
			}
		})
	})

	offer, err := pc1.CreateOffer(nil)
	if err != nil {
		return 0, err
	}
	if err := pc1.SetLocalDescription(offer); err != nil {
		return 0, err
	}
	if err := pc2.SetRemoteDescription(*pc1.LocalDescription()); err != nil {
		return 0, err
	}
	answer, err := pc2.CreateAnswer(nil)
	if err != nil {
		return 0, err
	}
	if err := pc2.SetLocalDescription(answer); err != nil {
		return 0, err
	}
	if err := pc1.SetRemoteDescription(*pc2.LocalDescription()); err != nil {
		return 0, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-ch1:
		return 0, err
	case msg := <-ch2:
		tm, err := time.Parse(time.RFC3339Nano, msg)
		if err != nil {
			return 0, err
		}
		return time.Since(tm), nil
	case <-timer.C:
		return 0, errors.New("timeout")
	}
}
