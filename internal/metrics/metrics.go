// Package metrics holds the Prometheus collectors for the definition registry.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all registry collectors.
type Metrics struct {
	// Cache metrics
	CacheLookups *prometheus.CounterVec
	CacheStores  *prometheus.CounterVec
	CacheEvicts  *prometheus.CounterVec

	// Compile metrics
	Compiles        *prometheus.CounterVec
	CompileFailures *prometheus.CounterVec
	ClosureSize     prometheus.Histogram

	// Access metrics
	AccessChecks *prometheus.CounterVec

	// Invalidation metrics
	Invalidations *prometheus.CounterVec

	registry *prometheus.Registry
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Default returns the process-wide collectors, created on first use.
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New(prometheus.NewRegistry())
	})
	return defaultMetrics
}

// New creates collectors registered on reg.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "defreg_cache_lookups_total",
				Help: "Cache lookups by tier and result (hit or miss)",
			},
			[]string{"tier", "result"},
		),
		CacheStores: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "defreg_cache_stores_total",
				Help: "Cache stores by tier",
			},
			[]string{"tier"},
		),
		CacheEvicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "defreg_cache_evictions_total",
				Help: "Explicit cache evictions by tier",
			},
			[]string{"tier"},
		),

		Compiles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "defreg_compiles_total",
				Help: "Source compilations by def type",
			},
			[]string{"def_type"},
		),
		CompileFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "defreg_closure_failures_total",
				Help: "Failed closure builds by error kind",
			},
			[]string{"kind"},
		),
		ClosureSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "defreg_closure_size",
				Help:    "Number of descriptors in built closures",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),

		AccessChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "defreg_access_checks_total",
				Help: "Access checks by outcome (allowed, denied, hidden) and source (evaluated or cached)",
			},
			[]string{"outcome", "source"},
		),

		Invalidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "defreg_invalidations_total",
				Help: "Source change invalidations by change kind",
			},
			[]string{"kind"},
		),
	}
}

// Registry returns the Prometheus registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Hit records a cache hit for tier.
func (m *Metrics) Hit(tier string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(tier, "hit").Inc()
}

// Miss records a cache miss for tier.
func (m *Metrics) Miss(tier string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(tier, "miss").Inc()
}

// Stored records a cache store for tier.
func (m *Metrics) Stored(tier string) {
	if m == nil {
		return
	}
	m.CacheStores.WithLabelValues(tier).Inc()
}

// Evicted records n explicit evictions for tier.
func (m *Metrics) Evicted(tier string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CacheEvicts.WithLabelValues(tier).Add(float64(n))
}

// Compiled records one compilation of a descriptor of defType.
func (m *Metrics) Compiled(defType string) {
	if m == nil {
		return
	}
	m.Compiles.WithLabelValues(defType).Inc()
}

// ClosureBuilt records the size of a successfully built closure.
func (m *Metrics) ClosureBuilt(size int) {
	if m == nil {
		return
	}
	m.ClosureSize.Observe(float64(size))
}

// ClosureFailed records a failed closure build by error kind.
func (m *Metrics) ClosureFailed(kind string) {
	if m == nil {
		return
	}
	m.CompileFailures.WithLabelValues(kind).Inc()
}

// AccessChecked records an access decision. source is "evaluated" or "cached".
func (m *Metrics) AccessChecked(outcome, source string) {
	if m == nil {
		return
	}
	m.AccessChecks.WithLabelValues(outcome, source).Inc()
}

// Invalidated records a source change of the given kind.
func (m *Metrics) Invalidated(kind string) {
	if m == nil {
		return
	}
	m.Invalidations.WithLabelValues(kind).Inc()
}
