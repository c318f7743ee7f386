package token

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Param is the query parameter that carries the signature.
const Param = "authSig"

const DefaultExpiry = 24 * time.Hour

var (
	ErrUnsigned = errors.New("path is not signed")
	ErrMismatch = errors.New("signature does not match path")
)

type Signer struct {
	Key    []byte
	Method jwt.SigningMethod
	KeyID  string
	Issuer string
	Expiry time.Duration

	now func() time.Time
}

// NewSigner returns a signer for the symmetric JWK key.
func NewSigner(key map[string]interface{}, issuer string) (*Signer, error) {
	alg, _ := key["alg"].(string)
	method, err := signingMethod(alg)
	if err != nil {
		return nil, err
	}
	k, err := ParseKey(key)
	if err != nil {
		return nil, err
	}
	kk, ok := k.([]byte)
	if !ok {
		return nil, errors.New("not a symmetric key")
	}
	kid, _ := key["kid"].(string)
	return &Signer{
		Key:    kk,
		Method: method,
		KeyID:  kid,
		Issuer: issuer,
	}, nil
}

func (s *Signer) time() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Sign returns rawurl with a signature of its path and query
// parameters.  An existing signature is replaced.
func (s *Signer) Sign(rawurl string) (string, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Del(Param)

	expiry := s.Expiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	method := s.Method
	if method == nil {
		method = jwt.SigningMethodHS256
	}
	now := s.time()
	claims := jwt.MapClaims{
		"path":   u.Path,
		"params": q.Encode(),
		"iat":    now.Unix(),
		"exp":    now.Add(expiry).Unix(),
	}
	if s.Issuer != "" {
		claims["iss"] = s.Issuer
	}
	tok := jwt.NewWithClaims(method, claims)
	if s.KeyID != "" {
		tok.Header["kid"] = s.KeyID
	}
	sig, err := tok.SignedString(s.Key)
	if err != nil {
		return "", err
	}
	q.Set(Param, sig)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Verify checks the signature of rawurl against keys, and returns the
// issuer.
func Verify(rawurl string, keys []map[string]interface{}) (string, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", err
	}
	q := u.Query()
	sig := q.Get(Param)
	if sig == "" {
		return "", ErrUnsigned
	}
	q.Del(Param)

	t, err := jwt.Parse(
		sig,
		func(t *jwt.Token) (interface{}, error) {
			return getKey(t.Header, keys)
		},
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil {
		return "", err
	}
	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("unexpected type for token")
	}
	path, _ := claims["path"].(string)
	params, _ := claims["params"].(string)
	if path != u.Path {
		return "", fmt.Errorf("%w: path %v", ErrMismatch, path)
	}
	if params != q.Encode() {
		return "", fmt.Errorf("%w: params %v", ErrMismatch, params)
	}
	iss, _ := claims.GetIssuer()
	return iss, nil
}
