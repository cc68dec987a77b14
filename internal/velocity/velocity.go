// Package velocity maintains rolling per-account activity counters.
package velocity

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Tracker maintains per-account velocity counters across the tracked
// windows, backed by a shared expiring store with a short-TTL read-through
// cache in front of snapshot reads.
//
// Window expiry is refreshed to the full window duration on every write.
// This is a refresh-on-write approximation of a sliding window, not a true
// rolling log: under continuous activity a window may retain entries older
// than its nominal duration. Preserved deliberately.
type Tracker struct {
	store       domain.VelocityStore
	cache       domain.Cache
	snapshotTTL time.Duration
}

// NewTracker creates a velocity tracker. cache may be nil to disable
// snapshot caching.
func NewTracker(store domain.VelocityStore, cache domain.Cache, snapshotTTL time.Duration) *Tracker {
	if snapshotTTL <= 0 {
		snapshotTTL = 2 * time.Second
	}
	return &Tracker{
		store:       store,
		cache:       cache,
		snapshotTTL: snapshotTTL,
	}
}

// RecordActivity increments all window counters for the transaction's
// account and invalidates the account's cached snapshot.
func (t *Tracker) RecordActivity(ctx context.Context, tx *domain.Transaction) error {
	if tx.TenantID == "" || tx.AccountID == "" {
		return fmt.Errorf("tenantID and accountID are required")
	}

	merchantKey := ""
	if tx.Merchant != nil {
		merchantKey = tx.Merchant.ID
	}
	locationKey := ""
	if tx.Location != nil {
		locationKey = LocationKey(tx.Location.Latitude, tx.Location.Longitude)
	}

	for _, w := range domain.VelocityWindows() {
		if err := t.store.Record(ctx, tx.TenantID, tx.AccountID, w, tx.Amount.Value, merchantKey, locationKey); err != nil {
			return fmt.Errorf("%w: velocity record %s: %v", domain.ErrUnavailable, w.Name, err)
		}
	}

	if t.cache != nil {
		_ = t.cache.Delete(ctx, tx.TenantID, snapshotKey(tx.AccountID))
	}

	return nil
}

// CurrentMetrics returns the latest velocity snapshot for the transaction's
// account. Store failures are propagated: velocity is a risk signal, so a
// missing snapshot must never be mistaken for zero activity.
func (t *Tracker) CurrentMetrics(ctx context.Context, tx *domain.Transaction) (*domain.VelocityMetrics, error) {
	if tx.TenantID == "" || tx.AccountID == "" {
		return nil, fmt.Errorf("tenantID and accountID are required")
	}

	key := snapshotKey(tx.AccountID)

	if t.cache != nil {
		if data, err := t.cache.Get(ctx, tx.TenantID, key); err == nil && data != nil {
			var m domain.VelocityMetrics
			if err := json.Unmarshal(data, &m); err == nil {
				return &m, nil
			}
		}
	}

	metrics := &domain.VelocityMetrics{
		AccountID:  tx.AccountID,
		Windows:    make(map[string]domain.WindowMetrics, 3),
		ObservedAt: time.Now().UTC(),
	}

	for _, w := range domain.VelocityWindows() {
		wm, err := t.store.Snapshot(ctx, tx.TenantID, tx.AccountID, w)
		if err != nil {
			return nil, fmt.Errorf("%w: velocity snapshot %s: %v", domain.ErrUnavailable, w.Name, err)
		}
		metrics.Windows[w.Name] = wm
	}

	if t.cache != nil {
		if data, err := json.Marshal(metrics); err == nil {
			_ = t.cache.Set(ctx, tx.TenantID, key, data, t.snapshotTTL)
		}
	}

	return metrics, nil
}

// LocationKey rounds a coordinate pair to a stable cardinality-sketch key.
func LocationKey(lat, lon float64) string {
	return strconv.FormatFloat(round2(lat), 'f', 2, 64) + "," + strconv.FormatFloat(round2(lon), 'f', 2, 64)
}

func round2(v float64) float64 {
	return float64(int64(v*100+copysignHalf(v))) / 100
}

func copysignHalf(v float64) float64 {
	if v < 0 {
		return -0.5
	}
	return 0.5
}

func snapshotKey(accountID string) string {
	return "velocity:snapshot:" + accountID
}

// New creates a velocity store based on configuration.
func New(cfg domain.VelocityConfig) (domain.VelocityStore, error) {
	switch cfg.Store {
	case "memory":
		return NewMemoryStore(), nil

	case "redis":
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported velocity store: %s", cfg.Store)
	}
}
