// Package cache holds short-lived copies of settings snapshots so the admission
// path does not hit the settings store on every request.
package cache

import (
	"context"
	"fmt"
	"time"

	"antiddos/internal/models"
)

// Cache stores string maps under string keys with a per-entry TTL.
//
// Every key carries a version that Invalidate bumps. A reader takes the version
// before loading from the source of truth and passes it to Fill, which stores
// the value only if no invalidation happened in between. For a shared backend
// the version is shared too, so a slow reader in one process cannot overwrite
// another process's invalidation.
type Cache interface {
	// Get returns the cached map and true on a hit.
	Get(ctx context.Context, key string) (map[string]string, bool, error)

	// Version returns the current invalidation version of key.
	Version(ctx context.Context, key string) (uint64, error)

	// Fill stores value when key is still at version. It reports whether the
	// value was stored.
	Fill(ctx context.Context, key string, value map[string]string, ttl time.Duration, version uint64) (bool, error)

	// Invalidate drops the cached value and bumps the version.
	Invalidate(ctx context.Context, key string) error

	Close() error
}

// New builds the cache selected by cfg. A disabled cache never hits.
func New(cfg models.CacheConfig) (Cache, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	switch cfg.Type {
	case models.CacheTypeMemory:
		return NewMemory(), nil
	case models.CacheTypeRedis:
		return NewRedis(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// Noop is a cache that stores nothing.
type Noop struct{}

func (Noop) Get(context.Context, string) (map[string]string, bool, error) { return nil, false, nil }

func (Noop) Version(context.Context, string) (uint64, error) { return 0, nil }

func (Noop) Fill(context.Context, string, map[string]string, time.Duration, uint64) (bool, error) {
	return false, nil
}

func (Noop) Invalidate(context.Context, string) error { return nil }

func (Noop) Close() error { return nil }
