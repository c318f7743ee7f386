package codecs

import (
	"strings"

	"github.com/pion/rtp/codecs"
)

// Keyframe determines whether an RTP payload starts a keyframe.  The
// second result is false if the payload doesn't carry enough
// information to tell.
func Keyframe(codec string, payload []byte) (bool, bool) {
	switch strings.ToLower(codec) {
	case "video/h264":
		return h264Keyframe(payload)
	case "video/vp8":
		var vp8 codecs.VP8Packet
		_, err := vp8.Unmarshal(payload)
		if err != nil || len(vp8.Payload) < 1 {
			return false, false
		}
		if vp8.S == 0 || vp8.PID != 0 {
			return false, true
		}
		return vp8.Payload[0]&0x1 == 0, true
	case "video/vp9":
		var vp9 codecs.VP9Packet
		_, err := vp9.Unmarshal(payload)
		if err != nil || len(vp9.Payload) < 1 {
			return false, false
		}
		if !vp9.B {
			return false, true
		}
		return !vp9.P, true
	}
	return false, false
}

// an SPS starts every keyframe sent by the gateway
const naluSPS = 7

func h264Keyframe(payload []byte) (bool, bool) {
	if len(payload) < 1 {
		return false, false
	}
	nalu := payload[0] & 0x1F
	switch {
	case nalu == 0:
		return false, false
	case nalu <= 23:
		return nalu == naluSPS, true
	case nalu == 24:
		// STAP-A
		i := 1
		for i+2 <= len(payload) {
			length := int(payload[i])<<8 | int(payload[i+1])
			i += 2
			if length < 1 || i+length > len(payload) {
				return false, false
			}
			if payload[i]&0x1F == naluSPS {
				return true, true
			}
			i += length
		}
		return false, i == len(payload)
	case nalu == 28:
		// FU-A
		if len(payload) < 2 {
			return false, false
		}
		if payload[1]&0x80 == 0 {
			return false, true
		}
		return payload[1]&0x1F == naluSPS, true
	}
	return false, false
}

// KeyframeDimensions returns the dimensions carried by a VP8 keyframe.
func KeyframeDimensions(codec string, payload []byte) (uint32, uint32) {
	if !strings.EqualFold(codec, "video/vp8") {
		return 0, 0
	}
	var vp8 codecs.VP8Packet
	_, err := vp8.Unmarshal(payload)
	if err != nil || len(vp8.Payload) < 10 {
		return 0, 0
	}
	p := vp8.Payload
	raw := uint32(p[6]) | uint32(p[7])<<8 |
		uint32(p[8])<<16 | uint32(p[9])<<24
	return raw & 0x3FFF, (raw >> 16) & 0x3FFF
}
