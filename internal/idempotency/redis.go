package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements domain.IdempotencyStore on Redis using SET with a
// retention TTL.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisStore creates a Redis-backed idempotency store.
func NewRedisStore(addr, password string, db int, retention time.Duration) (*RedisStore, error) {
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

	return &RedisStore{client: client, retention: retention}, nil
}

// MarkProcessed records a transaction id. SET NX keeps repeated marks
// side-effect-free: the original marker and its expiry are left untouched.
func (s *RedisStore) MarkProcessed(ctx context.Context, tenantID, txID string) error {
	return s.client.SetNX(ctx, s.makeKey(tenantID, txID), 1, s.retention).Err()
}

// HasProcessed reports whether an unexpired marker exists.
func (s *RedisStore) HasProcessed(ctx context.Context, tenantID, txID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.makeKey(tenantID, txID)).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency lookup failed: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) makeKey(tenantID, txID string) string {
	return "kestrel:" + tenantID + ":processed:" + txID
}
