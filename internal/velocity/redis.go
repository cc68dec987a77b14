package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RedisStore implements domain.VelocityStore on Redis.
// Exact counters use INCR / INCRBYFLOAT; distinct-merchant and
// distinct-location estimates use HyperLogLog sketches (PFADD / PFCOUNT).
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed velocity store.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// recordScript performs all per-window increments and refreshes every key's
// expiry to the full window duration in a single atomic round trip.
var recordScript = redis.NewScript(`
	redis.call('INCR', KEYS[1])
	redis.call('INCRBYFLOAT', KEYS[2], ARGV[1])
	if ARGV[3] ~= '' then
		redis.call('PFADD', KEYS[3], ARGV[3])
	end
	if ARGV[4] ~= '' then
		redis.call('PFADD', KEYS[4], ARGV[4])
	end
	for i = 1, 4 do
		redis.call('PEXPIRE', KEYS[i], ARGV[2])
	end
	return redis.status_reply('OK')
`)

// Record atomically increments the window's counters for an account.
func (s *RedisStore) Record(ctx context.Context, tenantID, accountID string, window domain.VelocityWindow, amount decimal.Decimal, merchantKey, locationKey string) error {
	if tenantID == "" || accountID == "" {
		return fmt.Errorf("tenantID and accountID are required")
	}

	keys := s.windowKeys(tenantID, accountID, window)
	args := []interface{}{
		amount.String(),
		window.Duration.Milliseconds(),
		merchantKey,
		locationKey,
	}

	if err := recordScript.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("velocity record failed: %w", err)
	}
	return nil
}

// Snapshot reads the window's current counters for an account.
func (s *RedisStore) Snapshot(ctx context.Context, tenantID, accountID string, window domain.VelocityWindow) (domain.WindowMetrics, error) {
	if tenantID == "" || accountID == "" {
		return domain.WindowMetrics{}, fmt.Errorf("tenantID and accountID are required")
	}

	keys := s.windowKeys(tenantID, accountID, window)

	pipe := s.client.Pipeline()
	countCmd := pipe.Get(ctx, keys[0])
	sumCmd := pipe.Get(ctx, keys[1])
	merchantsCmd := pipe.PFCount(ctx, keys[2])
	locationsCmd := pipe.PFCount(ctx, keys[3])

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.WindowMetrics{}, fmt.Errorf("velocity snapshot failed: %w", err)
	}

	metrics := domain.WindowMetrics{Total: decimal.Zero}

	if count, err := countCmd.Int64(); err == nil {
		metrics.Count = count
	} else if err != redis.Nil {
		return domain.WindowMetrics{}, fmt.Errorf("velocity count read failed: %w", err)
	}

	if raw, err := sumCmd.Result(); err == nil {
		total, perr := decimal.NewFromString(raw)
		if perr != nil {
			return domain.WindowMetrics{}, fmt.Errorf("velocity sum parse failed: %w", perr)
		}
		metrics.Total = total
	} else if err != redis.Nil {
		return domain.WindowMetrics{}, fmt.Errorf("velocity sum read failed: %w", err)
	}

	metrics.DistinctMerchants = merchantsCmd.Val()
	metrics.DistinctLocations = locationsCmd.Val()

	return metrics, nil
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// windowKeys returns [count, sum, merchants, locations] keys for a window.
func (s *RedisStore) windowKeys(tenantID, accountID string, window domain.VelocityWindow) []string {
	prefix := fmt.Sprintf("kestrel:%s:velocity:%s:%s:", tenantID, accountID, window.Name)
	return []string{
		prefix + "count",
		prefix + "sum",
		prefix + "merchants",
		prefix + "locations",
	}
}
