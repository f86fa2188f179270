// Package auth inspects the bearer tokens the chat server hands to agents.
//
// Tokens are not verified here. The bridge only forwards them to the
// services that issued them; it reads the embedded url claim to learn where
// those services live.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for tokens that cannot be parsed.
	ErrInvalidToken = errors.New("invalid token")

	// ErrMissingURL is returned for tokens without a url claim.
	ErrMissingURL = errors.New("token has no url claim")
)

// Claims are the fields the bridge reads from a bearer token.
type Claims struct {
	URL string `json:"url,omitempty"`
	jwt.RegisteredClaims
}

// Rewrite replaces every occurrence of From with To.
type Rewrite struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// Inspect decodes token claims without verifying the signature.
func Inspect(token string) (*Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// BaseURL returns the token's url claim with the trailing slash removed and
// rewrites applied in order.
func BaseURL(token string, rewrites []Rewrite) (string, error) {
	claims, err := Inspect(token)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(claims.URL) == "" {
		return "", ErrMissingURL
	}
	return ApplyRewrites(strings.TrimRight(strings.TrimSpace(claims.URL), "/"), rewrites), nil
}

// ApplyRewrites applies each rewrite to s in order.
func ApplyRewrites(s string, rewrites []Rewrite) string {
	for _, rw := range rewrites {
		if rw.From == "" {
			continue
		}
		s = strings.ReplaceAll(s, rw.From, rw.To)
	}
	return s
}

// Sign issues an HS256 token carrying url. The chat server issues real
// tokens; this exists for local tooling and tests.
func Sign(url, secret string, expiry time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("secret required")
	}
	claims := Claims{
		URL: url,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(expiry))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
