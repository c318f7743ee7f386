package mse

import (
	"errors"
)

const DefaultRingCapacity = 2 * 1024 * 1024

var ErrOverflow = errors.New("ring buffer overflow")

// Ring accumulates chunks that arrive while the source buffer is busy.
// A chunk that doesn't fit is rejected whole.
type Ring struct {
	buf []byte
	n   int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{buf: make([]byte, capacity)}
}

func (r *Ring) Push(chunk []byte) error {
	if len(chunk) > len(r.buf)-r.n {
		return ErrOverflow
	}
	r.n += copy(r.buf[r.n:], chunk)
	return nil
}

func (r *Ring) Len() int {
	return r.n
}

func (r *Ring) Cap() int {
	return len(r.buf)
}

// Flush returns the pending bytes as a single chunk and empties r.
func (r *Ring) Flush() []byte {
	if r.n == 0 {
		return nil
	}
	data := make([]byte, r.n)
	copy(data, r.buf[:r.n])
	r.n = 0
	return data
}
