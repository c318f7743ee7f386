// Package ice builds the ICE configuration of the peer transport.
package ice

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v3"
)

type Server struct {
	URLs           []string    `json:"urls"`
	Username       string      `json:"username,omitempty"`
	Credential     interface{} `json:"credential,omitempty"`
	CredentialType string      `json:"credentialType,omitempty"`
}

var DefaultServers = []Server{
	{URLs: []string{
		"stun:stun.cloudflare.com:3478",
		"stun:stun.l.google.com:19302",
	}},
}

var ErrCredential = errors.New("bad ICE credential")

func getServer(server Server, now time.Time) (webrtc.ICEServer, error) {
	s := webrtc.ICEServer{
		URLs:       server.URLs,
		Username:   server.Username,
		Credential: server.Credential,
	}
	switch server.CredentialType {
	case "", "password":
		s.CredentialType = webrtc.ICECredentialTypePassword
	case "oauth":
		s.CredentialType = webrtc.ICECredentialTypeOauth
	case "hmac-sha1":
		cred, ok := server.Credential.(string)
		if !ok {
			return webrtc.ICEServer{},
				fmt.Errorf("%w: credential is not a string",
					ErrCredential)
		}
		ts := now.Unix() + 86400
		username := fmt.Sprintf("%d", ts)
		if server.Username != "" {
			username += ":" + server.Username
		}
		mac := hmac.New(sha1.New, []byte(cred))
		mac.Write([]byte(username))
		s.Username = username
		s.Credential = base64.StdEncoding.EncodeToString(mac.Sum(nil))
		s.CredentialType = webrtc.ICECredentialTypePassword
	default:
		return webrtc.ICEServer{}, fmt.Errorf(
			"%w: unsupported credential type %q",
			ErrCredential, server.CredentialType,
		)
	}
	return s, nil
}

type Config struct {
	Servers   []Server `json:"servers,omitempty"`
	RelayOnly bool     `json:"relayOnly,omitempty"`
}

// Configuration returns the peer connection configuration.  Servers
// that cannot be parsed are skipped, and the first error is returned
// alongside the usable configuration.
func (c Config) Configuration() (webrtc.Configuration, error) {
	servers := c.Servers
	if servers == nil {
		servers = DefaultServers
	}
	cf := webrtc.Configuration{
		BundlePolicy:  webrtc.BundlePolicyMaxBundle,
		SDPSemantics:  webrtc.SDPSemanticsUnifiedPlan,
		RTCPMuxPolicy: webrtc.RTCPMuxPolicyRequire,
	}
	var err error
	now := time.Now()
	for _, s := range servers {
		ss, err2 := getServer(s, now)
		if err2 != nil {
			if err == nil {
				err = err2
			}
			continue
		}
		cf.ICEServers = append(cf.ICEServers, ss)
	}
	if c.RelayOnly {
		cf.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}
	return cf, err
}

// ReadServers parses a JSON array of servers.
func ReadServers(r io.Reader) ([]Server, error) {
	d := json.NewDecoder(r)
	d.DisallowUnknownFields()
	var servers []Server
	err := d.Decode(&servers)
	if err != nil {
		return nil, err
	}
	return servers, nil
}

func ReadServersFile(filename string) ([]Server, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadServers(f)
}
