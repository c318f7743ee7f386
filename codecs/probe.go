// Package codecs knows about the codecs the player may be offered.
package codecs

import (
	"fmt"
	"strings"
)

// Candidates is the fixed set of codecs the player asks the gateway
// for, in order of preference.
var Candidates = []string{
	"avc1.640029",      // H.264 high 4.1
	"avc1.64002A",      // H.264 high 4.2
	"avc1.640033",      // H.264 high 5.1
	"hvc1.1.6.L153.B0", // H.265 main 5.1
	"mp4a.40.2",        // AAC LC
	"mp4a.40.5",        // AAC HE
	"flac",
	"opus",
}

// A Prober reports whether a MIME type with a codecs parameter can be
// decoded locally.
type Prober func(mime string) bool

// IsVideo reports whether codec is a video codec.
func IsVideo(codec string) bool {
	return strings.Contains(codec, "vc1")
}

// MIME returns the MIME type used to probe codec.
func MIME(codec string) string {
	return fmt.Sprintf(`video/mp4; codecs="%s"`, codec)
}

type Capability struct {
	Codec     string
	Decodable bool
}

// Probe evaluates probe on every candidate codec of the requested
// kinds.
func Probe(probe Prober, video, audio bool) []Capability {
	var caps []Capability
	for _, c := range Candidates {
		if IsVideo(c) {
			if !video {
				continue
			}
		} else if !audio {
			continue
		}
		caps = append(caps, Capability{
			Codec:     c,
			Decodable: probe(MIME(c)),
		})
	}
	return caps
}

// Announce returns the comma-separated list of decodable codecs sent
// to the gateway.
func Announce(caps []Capability) string {
	var l []string
	for _, c := range caps {
		if c.Decodable {
			l = append(l, c.Codec)
		}
	}
	return strings.Join(l, ",")
}

// Parse extracts the list of codecs from a MIME type such as
// `video/mp4; codecs="avc1.640029,mp4a.40.2"`.
func Parse(mime string) []string {
	i := strings.Index(mime, "codecs=")
	if i < 0 {
		return nil
	}
	v := strings.Trim(strings.TrimSpace(mime[i+len("codecs="):]), `"`)
	if v == "" {
		return nil
	}
	l := strings.Split(v, ",")
	for i := range l {
		l[i] = strings.TrimSpace(l[i])
	}
	return l
}

// Restrict returns a Prober that accepts only the codecs whose
// identifier starts with one of the given prefixes.
func Restrict(prefixes ...string) Prober {
	return func(mime string) bool {
		cs := Parse(mime)
		if len(cs) == 0 {
			return false
		}
		for _, c := range cs {
			ok := false
			for _, p := range prefixes {
				if strings.HasPrefix(c, p) {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
		}
		return true
	}
}

// Default accepts every codec the fragment parser can make sense of.
var Default = Restrict("avc1", "hvc1", "mp4a", "flac", "opus")
