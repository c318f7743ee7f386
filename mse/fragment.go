package mse

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/Eyevinn/mp4ff/mp4"
)

var ErrBadBox = errors.New("malformed box")

const maxBoxSize = 64 * 1024 * 1024

type trackInfo struct {
	timescale       uint32
	defaultDuration uint32
	start, end      uint64
	seen            bool
}

// fragmentParser follows a fragmented MP4 stream and maintains the
// time range it covers.  Data may be split at arbitrary points.
type fragmentParser struct {
	pending []byte
	tracks  map[uint32]*trackInfo
	offset  uint64
}

func newFragmentParser() *fragmentParser {
	return &fragmentParser{
		tracks: make(map[uint32]*trackInfo),
	}
}

func (p *fragmentParser) write(data []byte) error {
	p.pending = append(p.pending, data...)
	for {
		if len(p.pending) < 8 {
			return nil
		}
		size := uint64(binary.BigEndian.Uint32(p.pending))
		tpe := string(p.pending[4:8])
		if size == 1 {
			if len(p.pending) < 16 {
				return nil
			}
			size = binary.BigEndian.Uint64(p.pending[8:])
		}
		if size < 8 || size > maxBoxSize {
			return fmt.Errorf("%w: %q of size %v", ErrBadBox, tpe, size)
		}
		if uint64(len(p.pending)) < size {
			return nil
		}
		box := p.pending[:size]
		err := p.box(tpe, box)
		p.pending = p.pending[size:]
		p.offset += size
		if err != nil {
			return err
		}
	}
}

func (p *fragmentParser) box(tpe string, data []byte) error {
	if tpe != "moov" && tpe != "moof" {
		return nil
	}
	b, err := mp4.DecodeBox(p.offset, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadBox, err)
	}
	switch b := b.(type) {
	case *mp4.MoovBox:
		p.moov(b)
	case *mp4.MoofBox:
		return p.moof(b)
	}
	return nil
}

func (p *fragmentParser) moov(moov *mp4.MoovBox) {
	p.tracks = make(map[uint32]*trackInfo)
	for _, trak := range moov.Traks {
		if trak.Tkhd == nil || trak.Mdia == nil || trak.Mdia.Mdhd == nil {
			continue
		}
		p.tracks[trak.Tkhd.TrackID] = &trackInfo{
			timescale: trak.Mdia.Mdhd.Timescale,
		}
	}
	if moov.Mvex != nil {
		for _, trex := range moov.Mvex.Trexs {
			t := p.tracks[trex.TrackID]
			if t != nil {
				t.defaultDuration = trex.DefaultSampleDuration
			}
		}
	}
}

func (p *fragmentParser) moof(moof *mp4.MoofBox) error {
	if len(p.tracks) == 0 {
		return fmt.Errorf("%w: fragment before init segment", ErrBadBox)
	}
	for _, traf := range moof.Trafs {
		if traf.Tfhd == nil {
			continue
		}
		t := p.tracks[traf.Tfhd.TrackID]
		if t == nil || t.timescale == 0 {
			continue
		}
		base := t.end
		if traf.Tfdt != nil {
			base = traf.Tfdt.BaseMediaDecodeTime()
		}
		def := traf.Tfhd.DefaultSampleDuration
		if def == 0 {
			def = t.defaultDuration
		}
		var dur uint64
		for _, trun := range traf.Truns {
			dur += trun.Duration(def)
		}
		if !t.seen {
			t.start = base
			t.seen = true
		}
		if base+dur > t.end {
			t.end = base + dur
		}
	}
	return nil
}

func ticks(v uint64, timescale uint32) time.Duration {
	ts := uint64(timescale)
	return time.Duration(v/ts)*time.Second +
		time.Duration((v%ts)*uint64(time.Second)/ts)
}

// buffered returns the range covered by all tracks.
func (p *fragmentParser) buffered() (time.Duration, time.Duration, bool) {
	var start, end time.Duration
	ok := false
	for _, t := range p.tracks {
		if !t.seen {
			continue
		}
		s := ticks(t.start, t.timescale)
		e := ticks(t.end, t.timescale)
		if !ok {
			start, end, ok = s, e, true
			continue
		}
		if s > start {
			start = s
		}
		if e < end {
			end = e
		}
	}
	if !ok || end < start {
		return 0, 0, false
	}
	return start, end, true
}
