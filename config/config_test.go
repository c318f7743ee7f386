package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jech/videortc/transport"
)

func TestRead(t *testing.T) {
	c, err := Read(strings.NewReader(`{
		"url": "wss://gateway.example/api/ws?src=cam",
		"mode": "webrtc/tcp,mse,mjpeg",
		"media": "video",
		"iceServers": [{"urls": ["stun:stun.example.org"]}],
		"backoff": "10s",
		"grace": 2.5,
		"signKey": {"kty": "oct", "alg": "HS256", "k": "abc"}
	}`))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	expected := []transport.Mode{
		transport.WebRTCTCP, transport.MSE, transport.MJPEG,
	}
	if !reflect.DeepEqual(c.Modes(), expected) {
		t.Errorf("Expected %v, got %v", expected, c.Modes())
	}
	if c.ParsedMedia() != (transport.Media{Video: true}) {
		t.Errorf("Got %v", c.ParsedMedia())
	}
	if time.Duration(c.Backoff) != 10*time.Second ||
		time.Duration(c.Grace) != 2500*time.Millisecond {
		t.Errorf("Got %v %v", c.Backoff, c.Grace)
	}
	if len(c.ICE().Servers) != 1 || c.SignKey["alg"] != "HS256" {
		t.Errorf("Got %#v", c)
	}
}

func TestReadErrors(t *testing.T) {
	tests := []string{
		`{"unknown": 1}`,
		`{"mode": "carrier-pigeon"}`,
		`{"media": "smell"}`,
		`{"grace": "soon"}`,
		`{"backoff": "-1s"}`,
		`{"grace": true}`,
	}
	for _, test := range tests {
		_, err := Read(strings.NewReader(test))
		if err == nil {
			t.Errorf("%v: no error", test)
		}
	}
}

func TestDefaults(t *testing.T) {
	c, err := ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if c.Modes() != nil {
		t.Errorf("Got %v", c.Modes())
	}
	if c.ParsedMedia() != (transport.Media{Video: true, Audio: true}) {
		t.Errorf("Got %v", c.ParsedMedia())
	}
}

func TestReadFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "videortc.json")
	err := os.WriteFile(filename, []byte(`{"status": ":8080"}`), 0600)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	c, err := ReadFile(filename)
	if err != nil || c.Status != ":8080" {
		t.Errorf("ReadFile: %v %v", c, err)
	}
}
