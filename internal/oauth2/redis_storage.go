package oauth2

import (
	"context"
	"time"
)

// RedisInterface is the subset of the Redis client used for token storage.
// *redis.Client from internal/redis satisfies it.
type RedisInterface interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RedisTokenStorage implements TokenStorage on Redis so a still-valid token
// survives restarts and is shared between processes. Expiry is left to
// Redis key TTLs.
type RedisTokenStorage struct {
	client RedisInterface
	prefix string
}

// NewRedisTokenStorage creates a Redis-backed token storage. prefix is
// prepended to every key and may be empty.
func NewRedisTokenStorage(client RedisInterface, prefix string) *RedisTokenStorage {
	return &RedisTokenStorage{client: client, prefix: prefix}
}

// Get implements TokenStorage
func (s *RedisTokenStorage) Get(ctx context.Context, key string) (string, bool, error) {
	value, found, err := s.client.Get(ctx, s.prefix+key)
	if err != nil || !found || value == "" {
		return "", false, err
	}
	return value, true, nil
}

// Set implements TokenStorage
func (s *RedisTokenStorage) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, value, ttl)
}

// Delete implements TokenStorage
func (s *RedisTokenStorage) Delete(ctx context.Context, key string) error {
	return s.client.Delete(ctx, s.prefix+key)
}
