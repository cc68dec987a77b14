package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements domain.IdempotencyStore in process memory.
// Used as the community tier store.
type MemoryStore struct {
	mu        sync.Mutex
	retention time.Duration
	processed map[string]time.Time
}

// NewMemoryStore creates an in-memory idempotency store.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{
		retention: retention,
		processed: make(map[string]time.Time),
	}
}

// MarkProcessed records a transaction id with the retention expiry.
func (s *MemoryStore) MarkProcessed(ctx context.Context, tenantID, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[tenantID+":"+txID] = time.Now().Add(s.retention)
	return nil
}

// HasProcessed reports whether an unexpired marker exists.
func (s *MemoryStore) HasProcessed(ctx context.Context, tenantID, txID string) (bool, error) {
	key := tenantID + ":" + txID

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.processed[key]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiresAt) {
		delete(s.processed, key)
		return false, nil
	}
	return true, nil
}

// Close cleans up the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = make(map[string]time.Time)
	return nil
}
