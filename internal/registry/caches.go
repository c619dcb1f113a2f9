package registry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/defreg/internal/cachemanager"
	"github.com/zjrosen/defreg/internal/definition"
	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/metrics"
	"github.com/zjrosen/defreg/internal/policy"
	"github.com/zjrosen/defreg/internal/tracing"
)

// Tier names, used as metric labels.
const (
	TierDefinitions  = "definitions"
	TierExists       = "exists"
	TierDependencies = "dependencies"
	TierFilters      = "filters"
	TierStrings      = "strings"
	TierFailures     = "failures"
	TierAccess       = "access"
)

// defEntry is a committed definition or a confirmed-absent marker.
type defEntry struct {
	tracked *definition.Tracked
	absent  bool
}

type tiers struct {
	defs     *cachemanager.InMemoryCacheManager[string, defEntry]
	exists   *cachemanager.InMemoryCacheManager[string, bool]
	deps     *cachemanager.InMemoryCacheManager[string, DependencyEntry]
	filters  *cachemanager.InMemoryCacheManager[string, []descriptor.Descriptor]
	strings  *cachemanager.InMemoryCacheManager[string, string]
	failures *cachemanager.InMemoryCacheManager[string, error]
	access   *cachemanager.InMemoryCacheManager[string, policy.Decision]
}

func newTiers(cleanup time.Duration, m *metrics.Metrics) *tiers {
	if cleanup <= 0 {
		cleanup = cachemanager.DefaultCleanupInterval
	}
	opt := cachemanager.WithMetrics(m)
	return &tiers{
		defs:     cachemanager.NewInMemoryCacheManager[string, defEntry](TierDefinitions, cachemanager.NoExpiration, cleanup, opt),
		exists:   cachemanager.NewInMemoryCacheManager[string, bool](TierExists, cachemanager.NoExpiration, cleanup, opt),
		deps:     cachemanager.NewInMemoryCacheManager[string, DependencyEntry](TierDependencies, cachemanager.NoExpiration, cleanup, opt),
		filters:  cachemanager.NewInMemoryCacheManager[string, []descriptor.Descriptor](TierFilters, cachemanager.NoExpiration, cleanup, opt),
		strings:  cachemanager.NewInMemoryCacheManager[string, string](TierStrings, cachemanager.NoExpiration, cleanup, opt),
		failures: cachemanager.NewInMemoryCacheManager[string, error](TierFailures, cachemanager.NoExpiration, cleanup, opt),
		access:   cachemanager.NewInMemoryCacheManager[string, policy.Decision](TierAccess, cachemanager.NoExpiration, cleanup, opt),
	}
}

func (t *tiers) flushAll(ctx context.Context) {
	_ = t.defs.Flush(ctx)
	_ = t.exists.Flush(ctx)
	_ = t.deps.Flush(ctx)
	_ = t.filters.Flush(ctx)
	_ = t.strings.Flush(ctx)
	_ = t.failures.Flush(ctx)
	_ = t.access.Flush(ctx)
}

// Stats reports the number of entries per shared tier.
type Stats struct {
	Definitions  int `json:"definitions"`
	Exists       int `json:"exists"`
	Dependencies int `json:"dependencies"`
	Filters      int `json:"filters"`
	Strings      int `json:"strings"`
	Failures     int `json:"failures"`
	Access       int `json:"access"`
	Pending      int `json:"pending"`
}

// Stats returns current tier sizes.
func (r *Registry) Stats() Stats {
	pending := 0
	r.pending.Range(func(any, any) bool {
		pending++
		return true
	})
	return Stats{
		Definitions:  r.tiers.defs.Len(),
		Exists:       r.tiers.exists.Len(),
		Dependencies: r.tiers.deps.Len(),
		Filters:      r.tiers.filters.Len(),
		Strings:      r.tiers.strings.Len(),
		Failures:     r.tiers.failures.Len(),
		Access:       r.tiers.access.Len(),
		Pending:      pending,
	}
}

type stringRequest struct {
	desc descriptor.Descriptor
	load func(ctx context.Context) (string, error)
}

func stringKey(uid string, d descriptor.Descriptor, key string) string {
	return uid + "|" + d.Key() + "|" + key
}

// GetCachedString returns a string cached for (uid, d, key).
func (r *Registry) GetCachedString(ctx context.Context, uid string, d descriptor.Descriptor, key string) (string, bool) {
	if !r.shouldCache(d) {
		return "", false
	}
	return r.tiers.strings.Get(ctx, stringKey(uid, d, key))
}

// PutCachedString stores value for (uid, d, key). Non-privileged descriptors
// are not stored.
func (r *Registry) PutCachedString(ctx context.Context, uid string, d descriptor.Descriptor, key, value string) {
	if !r.shouldCache(d) {
		return
	}
	r.tiers.strings.Set(ctx, stringKey(uid, d, key), value, r.stringsTTL)
}

// CachedString returns the string for (uid, d, key), computing it with load
// on a miss. Load errors are returned and nothing is stored.
func (r *Registry) CachedString(ctx context.Context, uid string, d descriptor.Descriptor, key string, load func(ctx context.Context) (string, error)) (string, error) {
	return r.stringLoader.Get(ctx, stringKey(uid, d, key), stringRequest{desc: d, load: load}, r.stringsTTL)
}

func cacheHit(hit bool) attribute.KeyValue {
	return attribute.Bool(tracing.AttrCacheHit, hit)
}
