package rtptime

import (
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	a := FromDuration(time.Second, 48000)
	if a != 48000 {
		t.Errorf("Expected 48000, got %v", a)
	}

	b := FromDuration(-time.Second, 48000)
	if b != -48000 {
		t.Errorf("Expected -48000, got %v", b)
	}

	c := ToDuration(48000, 48000)
	if c != time.Second {
		t.Errorf("Expected %v, got %v", time.Second, c)
	}

	d := ToDuration(-48000, 48000)
	if d != -time.Second {
		t.Errorf("Expected %v, got %v", -time.Second, d)
	}
}

func TestDurationOverflow(t *testing.T) {
	delta := 10 * time.Minute
	dj := FromDuration(delta, 90000)
	var prev int64
	for d := time.Duration(0); d < 1000*time.Hour; d += delta {
		ticks := FromDuration(d, 90000)
		if d != 0 && ticks != prev+dj {
			t.Errorf("%v: %v, %v", d, ticks, prev)
		}
		d2 := ToDuration(ticks, 90000)
		if d2 != d {
			t.Errorf("%v != %v (%v)", d2, d, ticks)
		}
		prev = ticks
	}
}

func TestNTP(t *testing.T) {
	now := time.Now()
	ntp := TimeToNTP(now)
	now2 := NTPToTime(ntp)
	ntp2 := TimeToNTP(now2)

	diff1 := now2.Sub(now).Abs()
	if diff1 > time.Nanosecond {
		t.Errorf("Expected %v, got %v (diff=%v)",
			now, now2, diff1)
	}

	diff2 := int64(ntp2 - ntp)
	if diff2 < 0 {
		diff2 = -diff2
	}
	if diff2 > (1 << 8) {
		t.Errorf("Expected %v, got %v (diff=%v)",
			ntp, ntp2, float64(diff2)/float64(1<<32))
	}
}

func TestUnwrap(t *testing.T) {
	var u Unwrapper
	tests := []struct {
		ts  uint32
		out int64
	}{
		{0xFFFFFF00, 0},
		{0xFFFFFFF0, 0xF0},
		{0x10, 0x110},
		{0xFFFFFFF8, 0xF8},
		{0x20, 0x120},
	}
	for _, test := range tests {
		v := u.Unwrap(test.ts)
		if v != test.out {
			t.Errorf("%x: expected %x, got %x", test.ts, test.out, v)
		}
	}
}
