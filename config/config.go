// Package config reads the configuration file of the videortc command.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jech/videortc/ice"
	"github.com/jech/videortc/transport"
)

// Duration is a time.Duration that is written as a string such as
// "15s" in JSON.  Plain numbers are seconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	err := json.Unmarshal(b, &v)
	if err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		*d = Duration(v * float64(time.Second))
		return nil
	case string:
		dd, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(dd)
		return nil
	}
	return errors.New("bad duration")
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

type Configuration struct {
	URL        string       `json:"url,omitempty"`
	Origin     string       `json:"origin,omitempty"`
	Mode       string       `json:"mode,omitempty"`
	Media      string       `json:"media,omitempty"`
	Background bool         `json:"background,omitempty"`
	ICEServers []ice.Server `json:"iceServers,omitempty"`
	RelayOnly  bool         `json:"relayOnly,omitempty"`
	Backoff    Duration     `json:"backoff,omitempty"`
	Grace      Duration     `json:"grace,omitempty"`

	Recordings string `json:"recordings,omitempty"`
	Status     string `json:"status,omitempty"`
	LogLevel   string `json:"logLevel,omitempty"`

	// SignKey is a symmetric JWK used to sign the endpoint.
	SignKey    map[string]interface{} `json:"signKey,omitempty"`
	SignIssuer string                 `json:"signIssuer,omitempty"`
	SignExpiry Duration               `json:"signExpiry,omitempty"`
}

func Read(r io.Reader) (*Configuration, error) {
	d := json.NewDecoder(r)
	d.DisallowUnknownFields()
	var c Configuration
	err := d.Decode(&c)
	if err != nil {
		return nil, err
	}
	err = c.Validate()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ReadFile reads a configuration file.  A missing file yields an
// empty configuration.
func ReadFile(filename string) (*Configuration, error) {
	f, err := os.Open(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Configuration{}, nil
		}
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

func (c *Configuration) Validate() error {
	if c.Mode != "" {
		modes := transport.ParseModes(c.Mode)
		if len(modes) == 0 {
			return fmt.Errorf("no known mode in %q", c.Mode)
		}
	}
	if c.Media != "" && transport.ParseMedia(c.Media) == (transport.Media{}) {
		return fmt.Errorf("no known media in %q", c.Media)
	}
	if c.Backoff < 0 || c.Grace < 0 || c.SignExpiry < 0 {
		return errors.New("negative duration")
	}
	return nil
}

// Modes returns the preference list, or nil for the default.
func (c *Configuration) Modes() []transport.Mode {
	if c.Mode == "" {
		return nil
	}
	return transport.ParseModes(c.Mode)
}

func (c *Configuration) ParsedMedia() transport.Media {
	if c.Media == "" {
		return transport.Media{Video: true, Audio: true}
	}
	return transport.ParseMedia(c.Media)
}

func (c *Configuration) ICE() ice.Config {
	return ice.Config{
		Servers:   c.ICEServers,
		RelayOnly: c.RelayOnly,
	}
}
