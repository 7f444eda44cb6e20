// Package auth checks the bearer token presented on the WebSocket upgrade.
package auth

import (
	"golang.org/x/crypto/bcrypt"

	hostErrors "github.com/channelhost/host/internal/errors"
)

var (
	// ErrTokenMissing is returned when auth is on and no token was sent.
	ErrTokenMissing = hostErrors.New(hostErrors.CodeAuthRequired, "missing token")

	// ErrTokenInvalid is returned when the token does not match the hash.
	ErrTokenInvalid = hostErrors.New(hostErrors.CodeAuthInvalid, "invalid token")
)

// TokenValidator compares presented tokens against one bcrypt hash.
// A validator with an empty hash accepts every connection.
type TokenValidator struct {
	hash []byte
}

// NewTokenValidator creates a validator for the configured hash.
func NewTokenValidator(hash string) *TokenValidator {
	if hash == "" {
		return &TokenValidator{}
	}
	return &TokenValidator{hash: []byte(hash)}
}

// Enabled reports whether connections must present a token.
func (tv *TokenValidator) Enabled() bool {
	return tv != nil && len(tv.hash) > 0
}

// ValidateToken returns nil when auth is off or the token matches.
func (tv *TokenValidator) ValidateToken(token string) error {
	if !tv.Enabled() {
		return nil
	}
	if token == "" {
		return ErrTokenMissing
	}
	// bcrypt.CompareHashAndPassword handles timing-safe comparison
	if err := bcrypt.CompareHashAndPassword(tv.hash, []byte(token)); err != nil {
		return ErrTokenInvalid
	}
	return nil
}

// HashToken returns the bcrypt hash to store as auth_token_hash.
func HashToken(token string, cost int) (string, error) {
	if token == "" {
		return "", hostErrors.ConfigInvalid("token must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", hostErrors.Internal("hash token", err)
	}
	return string(hash), nil
}
