package velocity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MemoryStore implements domain.VelocityStore in process memory.
// Used as the community tier store. Distinct counts are exact here; only
// the Redis store uses probabilistic sketches.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*windowEntry
}

type windowEntry struct {
	count     int64
	total     decimal.Decimal
	merchants map[string]struct{}
	locations map[string]struct{}
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory velocity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*windowEntry)}
}

// Record increments the window's counters, refreshing expiry to the full
// window duration.
func (s *MemoryStore) Record(ctx context.Context, tenantID, accountID string, window domain.VelocityWindow, amount decimal.Decimal, merchantKey, locationKey string) error {
	if tenantID == "" || accountID == "" {
		return fmt.Errorf("tenantID and accountID are required")
	}

	key := s.makeKey(tenantID, accountID, window)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.windows[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &windowEntry{
			total:     decimal.Zero,
			merchants: make(map[string]struct{}),
			locations: make(map[string]struct{}),
		}
		s.windows[key] = entry
	}

	entry.count++
	entry.total = entry.total.Add(amount)
	if merchantKey != "" {
		entry.merchants[merchantKey] = struct{}{}
	}
	if locationKey != "" {
		entry.locations[locationKey] = struct{}{}
	}
	entry.expiresAt = now.Add(window.Duration)

	return nil
}

// Snapshot reads the window's current counters.
func (s *MemoryStore) Snapshot(ctx context.Context, tenantID, accountID string, window domain.VelocityWindow) (domain.WindowMetrics, error) {
	if tenantID == "" || accountID == "" {
		return domain.WindowMetrics{}, fmt.Errorf("tenantID and accountID are required")
	}

	key := s.makeKey(tenantID, accountID, window)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.windows[key]
	if !ok || now.After(entry.expiresAt) {
		if ok {
			delete(s.windows, key)
		}
		return domain.WindowMetrics{Total: decimal.Zero}, nil
	}

	return domain.WindowMetrics{
		Count:             entry.count,
		Total:             entry.total,
		DistinctMerchants: int64(len(entry.merchants)),
		DistinctLocations: int64(len(entry.locations)),
	}, nil
}

// Ping checks store health.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close cleans up the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = make(map[string]*windowEntry)
	return nil
}

func (s *MemoryStore) makeKey(tenantID, accountID string, window domain.VelocityWindow) string {
	return tenantID + ":" + accountID + ":" + window.Name
}
