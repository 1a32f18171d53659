package cache

import (
	"context"
	"time"
)

// Store holds encoded query results keyed by query name and arguments.
// Reads and writes are pinned to a generation so a result loaded before an
// Invalidate is never served after it.
type Store interface {
	// Generation returns the token for the current cache contents. It changes on every Invalidate.
	Generation(ctx context.Context) (string, error)
	// Get returns false when the key is absent, expired or belongs to another generation.
	Get(ctx context.Context, generation, key string) ([]byte, bool, error)
	// Set stores value for generation. Writes for a superseded generation are never read back.
	Set(ctx context.Context, generation, key string, value []byte, ttl time.Duration) error
	// Invalidate drops every cached entry.
	Invalidate(ctx context.Context) error
}
