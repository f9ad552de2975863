// Package cachemanager provides a generic in-memory cache and a read-through
// wrapper over it.
package cachemanager

import (
	"context"
	"time"
)

// CacheManager stores values by key with a per-entry time to live.
type CacheManager[K ~string, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Keys(ctx context.Context) []K
	Delete(ctx context.Context, keys ...K) error
	Flush(ctx context.Context) error
}
