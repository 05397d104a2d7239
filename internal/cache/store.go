// Package cache provides the byte-oriented TTL store the orchestrator
// fronts providers with. Two implementations: process-local memory and
// Redis. Store failures must be treated as misses by callers, never as
// request failures.
package cache

import (
	"context"
	"time"
)

// Store is a string-keyed TTL value store.
type Store interface {
	// Get returns the value and whether it was present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Remove(ctx context.Context, key string) error
	Close() error
}
