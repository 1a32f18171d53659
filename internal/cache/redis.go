package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const generationKey = "generation"

// RedisStore shares cached results between instances. Invalidation bumps a generation
// counter that is part of every key, so stale entries are never read again and expire on their own.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client. prefix namespaces every key.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Generation(ctx context.Context) (string, error) {
	generation, err := s.client.Get(ctx, s.prefix+generationKey).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read cache generation: %w", err)
	}
	return generation, nil
}

func (s *RedisStore) Get(ctx context.Context, generation, key string) ([]byte, bool, error) {
	versioned := s.versionedKey(generation, key)
	data, err := s.client.Get(ctx, versioned).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache key %s: %w", versioned, err)
	}
	return data, true, nil
}

func (s *RedisStore) Set(ctx context.Context, generation, key string, value []byte, ttl time.Duration) error {
	versioned := s.versionedKey(generation, key)
	if err := s.client.Set(ctx, versioned, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache key %s: %w", versioned, err)
	}
	return nil
}

func (s *RedisStore) Invalidate(ctx context.Context) error {
	if err := s.client.Incr(ctx, s.prefix+generationKey).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

func (s *RedisStore) versionedKey(generation, key string) string {
	return s.prefix + generation + ":" + key
}
