// Package registry resolves descriptors to validated definitions, computes
// closure UIDs and keeps the shared cache tiers coherent under concurrent use
// and live source changes.
//
// A Registry is shared by every request. Each request carries a *Context that
// holds its local overlay and request-scoped memos. A definition becomes
// visible through any cache only after its whole dependency closure has been
// validated and committed.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/zjrosen/defreg/internal/cachemanager"
	"github.com/zjrosen/defreg/internal/definition"
	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/flags"
	"github.com/zjrosen/defreg/internal/log"
	"github.com/zjrosen/defreg/internal/metrics"
	"github.com/zjrosen/defreg/internal/policy"
	"github.com/zjrosen/defreg/internal/pubsub"
	"github.com/zjrosen/defreg/internal/source"
	"github.com/zjrosen/defreg/internal/tracing"
)

// SubRegistry owns part of descriptor space: a set of prefixes, namespace
// patterns and DefTypes. source.Registry is the standard implementation.
type SubRegistry interface {
	Name() string
	Prefixes() []string
	Namespaces() []string
	DefTypes() []descriptor.DefType
	// Cacheable reports whether find results from this sub-registry may be
	// kept in the shared filter tier.
	Cacheable() bool
	Exists(d descriptor.Descriptor) bool
	Compile(ctx context.Context, d descriptor.Descriptor) (definition.Definition, error)
	Find(f descriptor.Filter) ([]descriptor.Descriptor, error)
}

var _ SubRegistry = (*source.Registry)(nil)

// StaleUIDPolicy selects how GetUID treats a candidate UID that no longer
// matches the fresh one.
type StaleUIDPolicy int

const (
	// ReturnFresh returns the fresh UID without error.
	ReturnFresh StaleUIDPolicy = iota
	// ErrorOnMismatch returns the fresh UID with a *StaleUIDError.
	ErrorOnMismatch
)

func (p StaleUIDPolicy) String() string {
	if p == ErrorOnMismatch {
		return "error"
	}
	return "fresh"
}

// ParseStaleUIDPolicy accepts "fresh" and "error". Empty means fresh.
func ParseStaleUIDPolicy(s string) (StaleUIDPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fresh":
		return ReturnFresh, nil
	case "error":
		return ErrorOnMismatch, nil
	}
	return ReturnFresh, fmt.Errorf("unknown stale uid policy %q", s)
}

// Options configures a Registry. Zero values select the defaults noted on
// each field.
type Options struct {
	SubRegistries []SubRegistry

	// Privileged decides which namespaces the shared tiers retain. Nil
	// privileges nothing.
	Privileged policy.PrivilegePredicate

	// Evaluator decides reference access. Nil uses policy.DefaultEvaluator
	// over Privileged with "java" unsecured.
	Evaluator policy.AccessEvaluator

	// AlwaysCacheablePrefixes bypass the privilege gate. Nil means ["java"].
	AlwaysCacheablePrefixes []string

	StaleUIDPolicy StaleUIDPolicy

	// DefinitionsTTL bounds the definition, existence, dependency, failure
	// and access tiers. Zero keeps entries until invalidated.
	DefinitionsTTL time.Duration
	// StringsTTL bounds the opaque string tier. Zero keeps entries until
	// invalidated.
	StringsTTL      time.Duration
	CleanupInterval time.Duration

	Flags   *flags.Registry
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

// Invalidation is published on the registry's broker for every source change.
// A nil Descriptor means every tier was discarded.
type Invalidation struct {
	Descriptor *descriptor.Descriptor
	Kind       source.ChangeKind
}

// Registry is the shared definition registry service.
type Registry struct {
	subs            []SubRegistry
	privileged      policy.PrivilegePredicate
	evaluator       policy.AccessEvaluator
	alwaysCacheable []string
	stalePolicy     StaleUIDPolicy
	defsTTL         time.Duration
	stringsTTL      time.Duration

	flags   *flags.Registry
	metrics *metrics.Metrics
	tracer  trace.Tracer

	tiers        *tiers
	stringLoader *cachemanager.ReadThroughCache[string, string, stringRequest]

	compiles singleflight.Group
	// pending holds compiled definitions whose closure has not committed yet,
	// so concurrent closures share one Tracked per descriptor.
	pending sync.Map

	// gen counts invalidations. Work started under an older generation may
	// still serve its own request but never writes a shared tier. Shared
	// writes hold invalidating for reading; invalidation holds it for writing.
	gen          atomic.Uint64
	invalidating sync.RWMutex

	broker *pubsub.Broker[Invalidation]
}

// New creates a registry.
func New(opts Options) *Registry {
	privileged := opts.Privileged
	if privileged == nil {
		privileged = policy.NewNamespaceList()
	}
	always := opts.AlwaysCacheablePrefixes
	if always == nil {
		always = []string{"java"}
	}
	evaluator := opts.Evaluator
	if evaluator == nil {
		evaluator = policy.DefaultEvaluator{Privileged: privileged, UnsecuredPrefixes: []string{"java"}}
	}
	f := opts.Flags
	if f == nil {
		f = flags.New(nil)
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = tracing.Noop()
	}

	r := &Registry{
		subs:            append([]SubRegistry(nil), opts.SubRegistries...),
		privileged:      privileged,
		evaluator:       evaluator,
		alwaysCacheable: always,
		stalePolicy:     opts.StaleUIDPolicy,
		defsTTL:         ttlOrForever(opts.DefinitionsTTL),
		stringsTTL:      ttlOrForever(opts.StringsTTL),
		flags:           f,
		metrics:         opts.Metrics,
		tracer:          tracer,
		tiers:           newTiers(opts.CleanupInterval, opts.Metrics),
		broker:          pubsub.NewBroker[Invalidation](),
	}
	r.stringLoader = cachemanager.NewReadThroughCache[string, string, stringRequest](
		r.tiers.strings,
		func(ctx context.Context, in stringRequest) (string, error) { return in.load(ctx) },
		func(in stringRequest) bool { return r.shouldCache(in.desc) },
	)

	log.Info(log.CatRegistry, "registry created",
		"subRegistries", len(r.subs),
		"stalePolicy", r.stalePolicy.String(),
		"flags", f.All())
	return r
}

func ttlOrForever(d time.Duration) time.Duration {
	if d <= 0 {
		return cachemanager.NoExpiration
	}
	return d
}

// Close ends every invalidation subscription.
func (r *Registry) Close() {
	r.broker.Close()
}

// Changes subscribes to invalidation events until ctx is cancelled.
func (r *Registry) Changes(ctx context.Context) <-chan pubsub.Event[Invalidation] {
	return r.broker.Subscribe(ctx)
}

func (r *Registry) generation() uint64 { return r.gen.Load() }

// storeShared runs write if no invalidation happened since gen and reports
// whether it ran. Invalidation waits for write to finish.
func (r *Registry) storeShared(gen uint64, write func()) bool {
	r.invalidating.RLock()
	defer r.invalidating.RUnlock()
	if r.gen.Load() != gen {
		return false
	}
	write()
	return true
}

// StalePolicy returns the configured stale UID policy.
func (r *Registry) StalePolicy() StaleUIDPolicy { return r.stalePolicy }

// shouldCache is the privilege gate shared by every tier.
func (r *Registry) shouldCache(d descriptor.Descriptor) bool {
	return r.cacheableParts(d.Prefix(), d.Namespace())
}

func (r *Registry) cacheableParts(prefix, namespace string) bool {
	for _, p := range r.alwaysCacheable {
		if strings.EqualFold(p, prefix) {
			return true
		}
	}
	return r.privileged.IsPrivileged(namespace)
}

// Resolve returns the validated definition for d, building and committing its
// closure when it is not cached.
func (r *Registry) Resolve(ctx context.Context, rc *Context, d descriptor.Descriptor) (definition.Definition, error) {
	rc = orDefault(rc)
	ctx, span := tracing.StartDescriptor(ctx, r.tracer, tracing.SpanResolve, d)

	if def, ok := r.committed(ctx, rc, d); ok {
		span.SetAttributes(cacheHit(true))
		tracing.End(span, nil)
		return def, nil
	}
	span.SetAttributes(cacheHit(false))

	cl, err := r.closureFor(ctx, rc, d)
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}
	return cl.rootDefinition(), nil
}

// committed returns d from the overlay, the request cache or the shared tier
// when it is already fully validated.
func (r *Registry) committed(ctx context.Context, rc *Context, d descriptor.Descriptor) (definition.Definition, bool) {
	key := d.Key()
	if t, ok := rc.overlayDef(key); ok {
		if t.Valid() {
			return t.Definition(), true
		}
		return nil, false
	}
	if t, ok := rc.cachedDef(key); ok {
		return t.Definition(), true
	}
	if !r.shouldCache(d) {
		return nil, false
	}
	if e, ok := r.tiers.defs.Get(ctx, key); ok && !e.absent {
		return e.tracked.Definition(), true
	}
	return nil, false
}

// Exists reports whether any sub-registry, or the request overlay, has d.
func (r *Registry) Exists(ctx context.Context, rc *Context, d descriptor.Descriptor) bool {
	rc = orDefault(rc)
	key := d.Key()
	if _, ok := rc.overlayDef(key); ok {
		return true
	}
	if _, ok := rc.cachedDef(key); ok {
		return true
	}

	shared := r.shouldCache(d)
	if shared {
		if v, ok := r.tiers.exists.Get(ctx, key); ok {
			return v
		}
		if e, ok := r.tiers.defs.Get(ctx, key); ok {
			return !e.absent
		}
	}

	gen := r.generation()
	found := false
	for _, sub := range r.owners(d) {
		if sub.Exists(d) {
			found = true
			break
		}
	}
	if shared {
		r.storeShared(gen, func() { r.tiers.exists.Set(ctx, key, found, r.defsTTL) })
	}
	return found
}

// GetDependencies returns the closure recorded under uid by GetUID.
func (r *Registry) GetDependencies(ctx context.Context, rc *Context, uid string) ([]descriptor.Descriptor, bool) {
	rc = orDefault(rc)
	if e, ok := rc.dependencies(uid); ok {
		return e.Descriptors, true
	}
	if e, ok := r.tiers.deps.Get(ctx, uid); ok {
		return e.Descriptors, true
	}
	return nil, false
}

func orDefault(rc *Context) *Context {
	if rc == nil {
		return NewContext()
	}
	return rc
}
