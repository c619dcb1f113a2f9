// Package cachemanager provides the generic cache tiers used by the registry.
package cachemanager

import (
	"context"
	"time"
)

// CacheManager is one keyed cache tier.
type CacheManager[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K) error
	Flush(ctx context.Context) error
	Keys(ctx context.Context) []K
	Len() int
}
