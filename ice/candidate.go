package ice

import (
	"strings"

	pice "github.com/pion/ice/v2"
)

// ParseCandidate parses an SDP candidate attribute, with or without
// the "candidate:" prefix.
func ParseCandidate(value string) (pice.Candidate, error) {
	return pice.UnmarshalCandidate(strings.TrimPrefix(value, "candidate:"))
}
