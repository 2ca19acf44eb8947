package nonce

import (
	"errors"
	"sync"
	"time"
)

const maxIssueAttempts = 8

var ErrNoUniqueNonce = errors.New("unable to generate a unique nonce")

// Registry is the in-memory nonce service. All access to the outstanding
// set happens under one mutex, so Consume is a test-and-delete.
type Registry struct {
	mu          sync.Mutex
	outstanding map[string]time.Time // value -> expiry, zero if none
	expiry      time.Duration
	nextSweep   time.Time
	generate    func() (string, error)
	now         func() time.Time
}

type RegistryOption func(*Registry)

// WithExpiry makes issued nonces unusable after d. Zero disables expiry.
func WithExpiry(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.expiry = d
	}
}

// WithGenerator replaces the random value generator.
func WithGenerator(generate func() (string, error)) RegistryOption {
	return func(r *Registry) {
		r.generate = generate
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		outstanding: make(map[string]time.Time),
		generate:    randomNonce,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Issue returns a fresh nonce and records it as outstanding. With the
// default generator it does not fail.
func (r *Registry) Issue() (string, error) {
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		value, err := r.generate()
		if err != nil {
			return "", err
		}
		if r.insert(value) {
			return value, nil
		}
	}
	return "", ErrNoUniqueNonce
}

func (r *Registry) insert(value string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweep(now)

	if expiresAt, ok := r.outstanding[value]; ok && !r.expired(expiresAt, now) {
		return false
	}

	var expiresAt time.Time
	if r.expiry > 0 {
		expiresAt = now.Add(r.expiry)
	}
	r.outstanding[value] = expiresAt
	return true
}

// Consume removes candidate and reports whether it was outstanding.
func (r *Registry) Consume(candidate string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiresAt, ok := r.outstanding[candidate]
	if !ok {
		return false
	}
	delete(r.outstanding, candidate)
	return !r.expired(expiresAt, r.now())
}

func (r *Registry) Stats() (*Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	active := 0
	for _, expiresAt := range r.outstanding {
		if !r.expired(expiresAt, now) {
			active++
		}
	}
	return &Stats{Active: active}, nil
}

func (r *Registry) expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}

// sweep drops expired entries at most once per expiry period. Caller holds mu.
func (r *Registry) sweep(now time.Time) {
	if r.expiry <= 0 || now.Before(r.nextSweep) {
		return
	}
	for value, expiresAt := range r.outstanding {
		if r.expired(expiresAt, now) {
			delete(r.outstanding, value)
		}
	}
	r.nextSweep = now.Add(r.expiry)
}
