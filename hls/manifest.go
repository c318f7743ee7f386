package hls

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/grafov/m3u8"
)

var ErrBadManifest = errors.New("bad manifest")

type Manifest struct {
	Data []byte
	// Codecs is the CODECS attribute of the first variant.
	Codecs string
}

func resolve(base *url.URL, uri string) string {
	if uri == "" {
		return uri
	}
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return base.ResolveReference(u).String()
}

// Rewrite makes all the URIs in manifest absolute, relative to base.
func Rewrite(manifest string, base *url.URL) (*Manifest, error) {
	p, lt, err := m3u8.DecodeFrom(strings.NewReader(manifest), false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadManifest, err)
	}
	m := &Manifest{}
	switch lt {
	case m3u8.MASTER:
		master := p.(*m3u8.MasterPlaylist)
		if len(master.Variants) == 0 {
			return nil, ErrBadManifest
		}
		for _, v := range master.Variants {
			if v == nil {
				continue
			}
			v.URI = resolve(base, v.URI)
			for _, a := range v.Alternatives {
				if a != nil {
					a.URI = resolve(base, a.URI)
				}
			}
			if m.Codecs == "" {
				m.Codecs = v.Codecs
			}
		}
		m.Data = master.Encode().Bytes()
	case m3u8.MEDIA:
		media := p.(*m3u8.MediaPlaylist)
		resolveMedia(media, base)
		m.Data = media.Encode().Bytes()
	default:
		return nil, ErrBadManifest
	}
	return m, nil
}

func resolveMedia(media *m3u8.MediaPlaylist, base *url.URL) {
	if media.Map != nil {
		media.Map.URI = resolve(base, media.Map.URI)
	}
	for _, s := range media.Segments {
		if s == nil {
			continue
		}
		s.URI = resolve(base, s.URI)
		if s.Map != nil && s.Map != media.Map {
			s.Map.URI = resolve(base, s.Map.URI)
		}
	}
}
