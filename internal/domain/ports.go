package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// VelocityStore is the shared expiring store behind the velocity tracker.
// All keys are scoped by (tenant, account, window); every write refreshes the
// key's expiry to the full window duration.
type VelocityStore interface {
	// Record atomically increments the window's count by one, its running
	// total by amount, and adds the merchant and location keys to the
	// window's cardinality sketches.
	Record(ctx context.Context, tenantID, accountID string, window VelocityWindow, amount decimal.Decimal, merchantKey, locationKey string) error

	// Snapshot reads the window's current counters. Must return an error
	// when the store is unreachable, never silent zeros.
	Snapshot(ctx context.Context, tenantID, accountID string, window VelocityWindow) (WindowMetrics, error)

	Ping(ctx context.Context) error
	Close() error
}

// TransactionHistory resolves an account's most recent prior located
// transaction for geographic comparison.
type TransactionHistory interface {
	// MostRecentLocation returns the location of the account's most recent
	// transaction strictly before the given time, or nil when the account
	// has no located history.
	MostRecentLocation(ctx context.Context, tenantID, accountID string, before time.Time) (*Geolocation, error)
}

// MLPredictionPort is the external fraud-probability model. Predict may fail
// or time out; callers apply circuit breaking and substitute
// UnavailablePrediction rather than propagating the error.
type MLPredictionPort interface {
	Predict(ctx context.Context, tx *Transaction) (MLPrediction, error)
}

// IdempotencyStore is an expiring shared set keyed by transaction identifier,
// used to avoid re-scoring a transaction delivered more than once.
type IdempotencyStore interface {
	MarkProcessed(ctx context.Context, tenantID, txID string) error
	HasProcessed(ctx context.Context, tenantID, txID string) (bool, error)
	Close() error
}

// Cache is a read-through cache for small serialized values with per-key TTL.
// Sits in front of velocity snapshot reads.
type Cache interface {
	// Get returns nil, nil when the key is not present.
	Get(ctx context.Context, tenantID, key string) ([]byte, error)
	Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, tenantID, key string) error

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (community tier)
	LocalMaxSize int

	// Redis settings (pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}
