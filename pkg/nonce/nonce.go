// Package nonce issues single-use challenge values and redeems them exactly once.
package nonce

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

type Stats struct {
	Active int `json:"active"`
}

// Service issues nonces and consumes them. Consume must be an atomic
// test-and-delete: for every issued value at most one call returns true.
type Service interface {
	Issue() (string, error)
	Consume(candidate string) bool
	Stats() (*Stats, error)
}

type Backend string

const (
	BackendMemory    Backend = "memory"
	BackendHashicorp Backend = "hashicorp"
	BackendValkey    Backend = "valkey"
)

type Options struct {
	Backend Backend
	// Expiry of outstanding nonces. Zero keeps them until consumed
	// (memory backend only, valkey requires a positive value).
	Expiry        time.Duration
	ValkeyAddress string
}

const nonceBits = 256

// randomNonce returns 256 random bits encoded as base64url without padding.
func randomNonce() (string, error) {
	randomBytes := make([]byte, nonceBits/8)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// New creates the nonce service selected by options.Backend.
// Services holding connections implement io.Closer.
func New(options Options) (Service, error) {
	switch options.Backend {
	case "", BackendMemory:
		return NewRegistry(WithExpiry(options.Expiry)), nil
	case BackendHashicorp:
		service, err := NewHashicorpService()
		if err != nil {
			return nil, err
		}
		return service, nil
	case BackendValkey:
		service, err := NewValkeyServiceFromAddress(options.ValkeyAddress, options)
		if err != nil {
			return nil, err
		}
		return service, nil
	default:
		return nil, fmt.Errorf("unknown nonce backend: %s", options.Backend)
	}
}
