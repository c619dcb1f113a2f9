package cachemanager

import (
	"context"
	"time"
)

// ReadThroughCache loads missing values with fn and stores them when
// shouldCache accepts the input. Rejected inputs always call fn.
type ReadThroughCache[K comparable, V any, I any] struct {
	cache       CacheManager[K, V]
	fn          func(ctx context.Context, input I) (V, error)
	shouldCache func(input I) bool
}

// NewReadThroughCache wires a loader in front of cache. A nil shouldCache
// caches every input.
func NewReadThroughCache[K comparable, V any, I any](
	cache CacheManager[K, V],
	fn func(ctx context.Context, input I) (V, error),
	shouldCache func(input I) bool,
) *ReadThroughCache[K, V, I] {
	if shouldCache == nil {
		shouldCache = func(I) bool { return true }
	}
	return &ReadThroughCache[K, V, I]{
		cache:       cache,
		fn:          fn,
		shouldCache: shouldCache,
	}
}

// Get returns the cached value for key or loads it from input. Load errors
// are returned and nothing is stored.
func (r *ReadThroughCache[K, V, I]) Get(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	return r.get(ctx, key, input, ttl, false)
}

// GetWithRefresh is Get but extends the ttl of a hit.
func (r *ReadThroughCache[K, V, I]) GetWithRefresh(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	return r.get(ctx, key, input, ttl, true)
}

func (r *ReadThroughCache[K, V, I]) get(ctx context.Context, key K, input I, ttl time.Duration, refresh bool) (V, error) {
	if !r.shouldCache(input) {
		return r.fn(ctx, input)
	}

	var (
		value V
		ok    bool
	)
	if refresh {
		value, ok = r.cache.GetWithRefresh(ctx, key, ttl)
	} else {
		value, ok = r.cache.Get(ctx, key)
	}
	if ok {
		return value, nil
	}

	value, err := r.fn(ctx, input)
	if err != nil {
		return value, err
	}

	r.cache.Set(ctx, key, value, ttl)

	return value, nil
}
