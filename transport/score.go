package transport

import (
	"strings"
)

// ScorePolicy ranks two simultaneously viable transports.
type ScorePolicy interface {
	Score(kind Kind, n Negotiated) int
}

// Weights is the default ScorePolicy.
type Weights struct {
	PeerVideo int
	PeerAudio int
	// Codecs maps codec prefixes to weights for transports that
	// announce a codec string.
	Codecs map[string]int
}

var DefaultWeights = Weights{
	PeerVideo: 544,
	PeerAudio: 258,
	Codecs: map[string]int{
		"hvc1.": 560,
		"avc1.": 528,
		"mp4a.": 257,
	},
}

func (w Weights) Score(kind Kind, n Negotiated) int {
	score := 0
	if kind == PeerConnection {
		if n.Video {
			score += w.PeerVideo
		}
		if n.Audio {
			score += w.PeerAudio
		}
		return score
	}
	for prefix, weight := range w.Codecs {
		if strings.Contains(n.Codecs, prefix) {
			score += weight
		}
	}
	return score
}
