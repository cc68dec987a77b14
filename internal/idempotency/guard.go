// Package idempotency prevents duplicate processing of transactions under
// at-least-once delivery.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Guard wraps an expiring shared set keyed by transaction identifier.
// Marking is idempotent; entries expire after the retention window rather
// than being retained indefinitely.
type Guard struct {
	store domain.IdempotencyStore
}

// NewGuard creates an idempotency guard.
func NewGuard(store domain.IdempotencyStore) *Guard {
	return &Guard{store: store}
}

// MarkProcessed records that a transaction has been scored. Safe to call
// repeatedly for the same id.
func (g *Guard) MarkProcessed(ctx context.Context, tenantID, txID string) error {
	if txID == "" {
		return fmt.Errorf("transaction id is required")
	}
	return g.store.MarkProcessed(ctx, tenantID, txID)
}

// HasProcessed reports whether a transaction has already been scored
// within the retention window.
func (g *Guard) HasProcessed(ctx context.Context, tenantID, txID string) (bool, error) {
	if txID == "" {
		return false, fmt.Errorf("transaction id is required")
	}
	return g.store.HasProcessed(ctx, tenantID, txID)
}

// New creates an idempotency store based on configuration.
func New(cfg domain.IdempotencyConfig) (domain.IdempotencyStore, error) {
	retention := cfg.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}

	switch cfg.Store {
	case "memory":
		return NewMemoryStore(retention), nil

	case "redis":
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, retention)

	default:
		return nil, fmt.Errorf("unsupported idempotency store: %s", cfg.Store)
	}
}
