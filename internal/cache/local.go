package cache

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// LocalStore keeps entries in process memory.
type LocalStore struct {
	cache      *gocache.Cache
	generation atomic.Uint64
}

// NewLocalStore creates an in-memory store. Entries without a TTL use defaultTTL.
func NewLocalStore(defaultTTL time.Duration) *LocalStore {
	return &LocalStore{cache: gocache.New(defaultTTL, 2*defaultTTL)}
}

func (s *LocalStore) Generation(_ context.Context) (string, error) {
	return strconv.FormatUint(s.generation.Load(), 10), nil
}

func (s *LocalStore) Get(_ context.Context, generation, key string) ([]byte, bool, error) {
	value, ok := s.cache.Get(generation + ":" + key)
	if !ok {
		return nil, false, nil
	}
	data, ok := value.([]byte)
	return data, ok, nil
}

func (s *LocalStore) Set(ctx context.Context, generation, key string, value []byte, ttl time.Duration) error {
	if current, _ := s.Generation(ctx); current != generation {
		return nil
	}
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	s.cache.Set(generation+":"+key, value, ttl)
	return nil
}

func (s *LocalStore) Invalidate(_ context.Context) error {
	s.generation.Add(1)
	s.cache.Flush()
	return nil
}
