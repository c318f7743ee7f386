package mse

import (
	"errors"
	"time"
)

var (
	ErrUpdating = errors.New("source buffer is updating")
	ErrRemoved  = errors.New("source buffer has been removed")
	ErrBusy     = errors.New("media source already has a source buffer")
)

// MediaSource is the decode sink of the buffered transport.
type MediaSource interface {
	AddSourceBuffer(mime string, events Events) (SourceBuffer, error)
	RemoveSourceBuffer(sb SourceBuffer)
}

// Events are delivered by a source buffer, from any goroutine.
type Events interface {
	// UpdateEnd is signalled when an Append or Remove completes.
	UpdateEnd()
	// DecodeError is signalled when appended data cannot be decoded.
	DecodeError(err error)
}

// SourceBuffer accepts media data.  Append and Remove are
// asynchronous: once either has been accepted, no other operation may
// be started until UpdateEnd has been signalled.
type SourceBuffer interface {
	Append(data []byte) error
	Remove(start, end time.Duration) error
	// Buffered returns the time range currently held.
	Buffered() (start, end time.Duration, ok bool)
	SetLiveSeekableRange(start, end time.Duration)
}
