package progress

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/motionrender/render-api/internal/fault"
)

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// RedisStore is the redis-backed progress store. SET with expiry gives
// the atomic set-with-TTL the contract requires; redis replication lag is
// well inside the one-second staleness bound.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store over an existing client. The caller owns
// the client lifecycle unless Close is used.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Set writes a value with TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fault.Wrap(fault.KindStoreUnavailable, "progress set", err)
	}
	return nil
}

// Get reads a value; a missing key is not an error.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fault.Wrap(fault.KindStoreUnavailable, "progress get", err)
	}
	return data, true, nil
}

// MGet bulk-reads keys; missing keys yield nil entries.
func (s *RedisStore) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fault.Wrap(fault.KindStoreUnavailable, "progress mget", err)
	}
	out := make([][]byte, len(values))
	for i, v := range values {
		if str, ok := v.(string); ok {
			out[i] = []byte(str)
		}
	}
	return out, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
