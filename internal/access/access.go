// Package access implements request authentication for the gateway. A single
// bearer key is configured at startup; comparisons are constant time. In
// browser-optional mode the endpoints the web UI talks to accept requests
// with no Authorization header at all, while a present-but-wrong key still
// fails.
package access

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"
)

// ErrMissingKey means no Authorization header was presented.
var ErrMissingKey = errors.New("missing API key")

// ErrInvalidKey means the presented key does not match the configured one.
var ErrInvalidKey = errors.New("invalid API key")

// Authenticator checks bearer keys against the configured API key.
type Authenticator struct {
	keyDigest        [sha256.Size]byte
	webuiAuthEnabled bool
}

// NewAuthenticator builds an authenticator for the given key. The key is
// stored as a digest; comparing digests keeps the comparison constant time
// regardless of attacker-controlled key length.
func NewAuthenticator(apiKey string, webuiAuthEnabled bool) *Authenticator {
	return &Authenticator{
		keyDigest:        sha256.Sum256([]byte(apiKey)),
		webuiAuthEnabled: webuiAuthEnabled,
	}
}

// Authorize checks the Authorization header value. optionalAuth marks
// endpoints the browser UI may call without credentials; when web UI auth is
// disabled, an absent header on those endpoints is accepted.
func (a *Authenticator) Authorize(authHeader string, optionalAuth bool) error {
	if authHeader == "" {
		if optionalAuth && !a.webuiAuthEnabled {
			return nil
		}
		return ErrMissingKey
	}

	key := authHeader
	if parts := strings.SplitN(authHeader, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		key = parts[1]
	}

	digest := sha256.Sum256([]byte(key))
	if subtle.ConstantTimeCompare(digest[:], a.keyDigest[:]) != 1 {
		return ErrInvalidKey
	}
	return nil
}
