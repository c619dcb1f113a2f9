package cachemanager

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/defreg/internal/log"
	"github.com/zjrosen/defreg/internal/metrics"
)

// NoExpiration keeps an entry until it is deleted or the tier is flushed.
const NoExpiration = gocache.NoExpiration

// UseDefaultTTL stores an entry with the tier's default expiration.
const UseDefaultTTL = gocache.DefaultExpiration

const DefaultExpiration = 10 * time.Minute
const DefaultCleanupInterval = 30 * time.Minute

// Option configures an InMemoryCacheManager.
type Option func(*options)

type options struct {
	metrics *metrics.Metrics
}

// WithMetrics records hits, misses, stores and evictions under the tier name.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// NewInMemoryCacheManager creates a tier named useCase. A defaultExpiration of
// NoExpiration keeps entries for the process lifetime.
func NewInMemoryCacheManager[K ~string, V any](useCase string, defaultExpiration, cleanupInterval time.Duration, opts ...Option) *InMemoryCacheManager[K, V] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &InMemoryCacheManager[K, V]{
		useCase: useCase,
		cache:   gocache.New(defaultExpiration, cleanupInterval),
		metrics: o.metrics,
	}
}

// InMemoryCacheManager is a CacheManager backed by go-cache. Reads take only
// go-cache's internal read lock.
type InMemoryCacheManager[K ~string, V any] struct {
	useCase string
	cache   *gocache.Cache
	metrics *metrics.Metrics
}

var _ CacheManager[string, int] = (*InMemoryCacheManager[string, int])(nil)

// Name returns the tier name.
func (c *InMemoryCacheManager[K, V]) Name() string {
	return c.useCase
}

// Get retrieves an item from the cache by its key
func (c *InMemoryCacheManager[K, V]) Get(ctx context.Context, key K) (V, bool) {
	var zeroValue V

	value, found := c.cache.Get(string(key))
	if !found {
		c.metrics.Miss(c.useCase)
		return zeroValue, false
	}

	v, ok := value.(V)
	if !ok {
		log.Error(log.CatCache, "wrong type assertion when getting value", "tier", c.useCase, "key", key)
		c.metrics.Miss(c.useCase)
		return zeroValue, false
	}

	c.metrics.Hit(c.useCase)
	return v, true
}

// GetWithRefresh retrieves an item and, when found, stores it again to extend
// its ttl.
func (c *InMemoryCacheManager[K, V]) GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool) {
	value, found := c.Get(ctx, key)
	if !found {
		return value, false
	}

	c.cache.Set(string(key), value, ttl)

	return value, true
}

// Set stores value under key with ttl.
func (c *InMemoryCacheManager[K, V]) Set(ctx context.Context, key K, value V, ttl time.Duration) {
	c.cache.Set(string(key), value, ttl)
	c.metrics.Stored(c.useCase)
	log.Debug(log.CatCache, "cache store", "tier", c.useCase, "key", key)
}

// Delete removes the given keys.
func (c *InMemoryCacheManager[K, V]) Delete(ctx context.Context, keys ...K) error {
	if len(keys) == 0 {
		return nil
	}

	for _, key := range keys {
		c.cache.Delete(string(key))
	}
	c.metrics.Evicted(c.useCase, len(keys))

	return nil
}

// Flush removes every entry.
func (c *InMemoryCacheManager[K, V]) Flush(ctx context.Context) error {
	c.metrics.Evicted(c.useCase, c.cache.ItemCount())
	c.cache.Flush()

	return nil
}

// Keys returns the keys of unexpired entries, in no particular order.
func (c *InMemoryCacheManager[K, V]) Keys(ctx context.Context) []K {
	items := c.cache.Items()
	keys := make([]K, 0, len(items))
	for k := range items {
		keys = append(keys, K(k))
	}
	return keys
}

// Len returns the number of stored entries, expired ones included until the
// next cleanup.
func (c *InMemoryCacheManager[K, V]) Len() int {
	return c.cache.ItemCount()
}
