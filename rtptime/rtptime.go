// Package rtptime converts between RTP, NTP and wall-clock time.
package rtptime

import (
	"time"
)

// FromDuration converts d to a number of ticks of a clock at hz.
func FromDuration(d time.Duration, hz uint32) int64 {
	sec := int64(d / time.Second)
	rem := int64(d % time.Second)
	return sec*int64(hz) + rem*int64(hz)/int64(time.Second)
}

// ToDuration converts a number of ticks of a clock at hz to a
// duration.
func ToDuration(tm int64, hz uint32) time.Duration {
	sec := tm / int64(hz)
	rem := tm % int64(hz)
	return time.Duration(sec)*time.Second +
		time.Duration(rem*int64(time.Second)/int64(hz))
}

var ntpEpoch = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

func NTPToTime(ntp uint64) time.Time {
	sec := uint32(ntp >> 32)
	frac := uint32(ntp & 0xFFFFFFFF)
	return ntpEpoch.Add(
		time.Duration(sec)*time.Second +
			((time.Duration(frac) * time.Second) >> 32),
	)
}

func TimeToNTP(tm time.Time) uint64 {
	d := tm.Sub(ntpEpoch)
	sec := uint32(d / time.Second)
	frac := uint32(d % time.Second)
	return (uint64(sec) << 32) + (uint64(frac)<<32)/uint64(time.Second)
}

// Unwrapper extends 32-bit RTP timestamps to 64 bits, relative to the
// first timestamp seen.
type Unwrapper struct {
	base    uint32
	last    uint32
	cycles  int64
	started bool
}

func (u *Unwrapper) Unwrap(ts uint32) int64 {
	if !u.started {
		u.base = ts
		u.last = ts
		u.started = true
		return 0
	}
	delta := int32(ts - u.last)
	if delta > 0 && ts < u.last {
		u.cycles++
	} else if delta < 0 && ts > u.last {
		u.cycles--
	}
	u.last = ts
	return u.cycles<<32 + int64(ts) - int64(u.base)
}
