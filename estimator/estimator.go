// Package estimator measures the rate at which a transport receives
// data.
package estimator

import (
	"sync"
	"sync/atomic"
	"time"
)

type Estimator struct {
	interval time.Duration
	bytes    atomic.Uint64
	chunks   atomic.Uint64

	mu          sync.Mutex
	totalBytes  uint64
	totalChunks uint64
	rate        uint64
	chunkRate   uint64
	time        time.Time
}

func New(interval time.Duration) *Estimator {
	return newAt(time.Now(), interval)
}

func newAt(now time.Time, interval time.Duration) *Estimator {
	return &Estimator{
		interval: interval,
		time:     now,
	}
}

func (e *Estimator) swap(now time.Time) {
	interval := now.Sub(e.time)
	bytes := e.bytes.Swap(0)
	chunks := e.chunks.Swap(0)
	e.totalBytes += bytes
	e.totalChunks += chunks

	if interval < time.Millisecond {
		e.rate = 0
		e.chunkRate = 0
	} else {
		ms := uint64(interval / time.Millisecond)
		e.rate = bytes * 1000 / ms
		e.chunkRate = chunks * 1000 / ms
	}
	e.time = now
}

// Accumulate records the reception of a chunk of count bytes.
func (e *Estimator) Accumulate(count int) {
	e.bytes.Add(uint64(count))
	e.chunks.Add(1)
}

func (e *Estimator) estimate(now time.Time) (uint64, uint64) {
	if now.Sub(e.time) > e.interval {
		e.swap(now)
	}
	return e.rate, e.chunkRate
}

// Estimate returns the byte and chunk rates, per second.
func (e *Estimator) Estimate() (uint64, uint64) {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.estimate(now)
}

// Totals returns the number of chunks and bytes received so far.
func (e *Estimator) Totals() (uint64, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalChunks + e.chunks.Load(), e.totalBytes + e.bytes.Load()
}
