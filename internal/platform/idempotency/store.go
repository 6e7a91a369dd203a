// Package idempotency replays the stored response when a client retries a mutating request with
// the same Idempotency-Key, so a network retry of checkout never creates a second order.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// DefaultTTL is how long keys are remembered.
const DefaultTTL = 24 * time.Hour

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reused for a different request")

// Outcome describes what a reservation found.
type Outcome int

const (
	// OutcomeNew means the caller owns the key and should run the handler.
	OutcomeNew Outcome = iota
	// OutcomeReplay means a completed response is available.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key.
	OutcomeInFlight
)

// Record is a stored response.
type Record struct {
	Fingerprint string
	Completed   bool
	StatusCode  int
	ContentType string
	Body        []byte
	ExpiresAt   time.Time
}

// Store persists reservations and completed responses. Implementations must make Reserve atomic
// per key.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Record, error)
	Complete(ctx context.Context, key string, record Record) error
	Release(ctx context.Context, key string) error
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

func documentID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// reserve applies the reservation rules to an existing record.
func reserve(existing *Record, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Record, error) {
	if existing == nil || !now.Before(existing.ExpiresAt) {
		return OutcomeNew, Record{Fingerprint: fingerprint, ExpiresAt: now.Add(ttl)}, nil
	}
	if existing.Fingerprint != fingerprint {
		return 0, Record{}, ErrFingerprintMismatch
	}
	if existing.Completed {
		return OutcomeReplay, *existing, nil
	}
	return OutcomeInFlight, *existing, nil
}
