package channel

import (
	"errors"
	"net/url"
	"strings"
)

var ErrBadScheme = errors.New("unsupported URL scheme")

// NormalizeURL converts an http(s) URL, or a path relative to origin,
// into the corresponding websocket URL.
func NormalizeURL(raw, origin string) (string, error) {
	if strings.HasPrefix(raw, "/") {
		if origin == "" {
			return "", errors.New("relative URL without origin")
		}
		raw = strings.TrimSuffix(origin, "/") + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", ErrBadScheme
	}
	return u.String(), nil
}

// HTTPBase returns the http(s) URL of the directory containing the
// websocket endpoint ws, which is used to resolve relative resources
// announced by the gateway.
func HTTPBase(ws string) (*url.URL, error) {
	u, err := url.Parse(ws)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return nil, ErrBadScheme
	}
	p := u.Path
	if i := strings.LastIndex(p, "/ws"); i >= 0 {
		p = p[:i]
	} else if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[:i]
	}
	u.Path = p + "/"
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
