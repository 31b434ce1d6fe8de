package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Claim records the key as in-flight, or reports the existing claim.
func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := docID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if ok && !record.ExpiresAt.IsZero() && !now.Before(record.ExpiresAt) {
		delete(s.records, id)
		ok = false
	}

	if !ok {
		record = Record{
			Key:         key,
			Fingerprint: fingerprint,
			CreatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		s.records[id] = record
		return Claim{State: StateNew, Record: record}, nil
	}

	if record.Fingerprint != fingerprint {
		return Claim{}, ErrFingerprintMismatch
	}
	if record.Completed {
		return Claim{State: StateReplay, Record: record}, nil
	}
	return Claim{State: StateInFlight, Record: record}, nil
}

// Complete stores the finished response for later replays.
func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := docID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if ok && record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !ok {
		record = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	}

	record.Completed = true
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = storableHeaders(resp.Headers)
	record.ResponseBody = append([]byte(nil), resp.Body...)
	record.ExpiresAt = now.Add(ttl)
	s.records[id] = record
	return nil
}

// Release removes the claim so callers can retry.
func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, docID(key))
	return nil
}
