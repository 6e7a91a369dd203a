package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps keys in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty memory-backed store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *Record
	if record, ok := s.records[key]; ok {
		existing = &record
	}
	outcome, record, err := reserve(existing, fingerprint, now.UTC(), ttl)
	if err == nil && outcome == OutcomeNew {
		s.records[key] = record
	}
	return outcome, record, err
}

func (s *MemoryStore) Complete(_ context.Context, key string, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[key]; ok && existing.Fingerprint != record.Fingerprint {
		return ErrFingerprintMismatch
	}
	record.Completed = true
	record.Body = append([]byte(nil), record.Body...)
	s.records[key] = record
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) Purge(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, record := range s.records {
		if limit > 0 && removed >= limit {
			break
		}
		if now.Before(record.ExpiresAt) {
			continue
		}
		delete(s.records, key)
		removed++
	}
	return removed, nil
}
