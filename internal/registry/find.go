package registry

import (
	"context"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/flags"
	"github.com/zjrosen/defreg/internal/tracing"
)

// Find returns every descriptor matching f across the sub-registries that may
// hold it, plus matching overlay descriptors of rc, sorted.
//
// Results enter the shared filter tier only for filters naming one concrete
// privileged namespace, containing at least one wildcard, and served solely
// by cacheable sub-registries.
func (r *Registry) Find(ctx context.Context, rc *Context, f descriptor.Filter) ([]descriptor.Descriptor, error) {
	rc = orDefault(rc)
	ctx, span := r.tracer.Start(ctx, tracing.SpanFind)
	span.SetAttributes(attribute.String(tracing.AttrFilter, f.String()))

	found, err := r.findShared(ctx, f)
	if err != nil {
		tracing.End(span, err)
		return nil, err
	}

	for _, d := range rc.LocalDefs() {
		if f.Match(d) {
			found = append(found, d)
		}
	}
	found = sortUnique(found)

	span.SetAttributes(attribute.Int(tracing.AttrMatches, len(found)))
	tracing.End(span, nil)
	return found, nil
}

func (r *Registry) findShared(ctx context.Context, f descriptor.Filter) ([]descriptor.Descriptor, error) {
	var subs []SubRegistry
	for _, sub := range r.subs {
		if overlaps(sub, f) {
			subs = append(subs, sub)
		}
	}

	cacheable := r.filterCacheable(f, subs)
	key := f.String()
	if cacheable {
		if cached, ok := r.tiers.filters.Get(ctx, key); ok {
			return slices.Clone(cached), nil
		}
	}

	gen := r.generation()
	var found []descriptor.Descriptor
	for _, sub := range subs {
		ds, err := sub.Find(f)
		if err != nil {
			return nil, err
		}
		found = append(found, ds...)
	}
	found = sortUnique(found)

	if cacheable {
		r.storeShared(gen, func() { r.tiers.filters.Set(ctx, key, slices.Clone(found), r.defsTTL) })
	}
	return found, nil
}

func (r *Registry) filterCacheable(f descriptor.Filter, subs []SubRegistry) bool {
	if !r.flags.Enabled(flags.FlagFilterCache) || f.AllNamespaces() || f.IsConstant() {
		return false
	}
	if strings.ContainsAny(f.Namespace(), "*?[{") || strings.ContainsAny(f.Prefix(), "*?[{") {
		return false
	}
	if !r.cacheableParts(f.Prefix(), f.Namespace()) {
		return false
	}
	for _, sub := range subs {
		if !sub.Cacheable() {
			return false
		}
	}
	return true
}

func sortUnique(ds []descriptor.Descriptor) []descriptor.Descriptor {
	slices.SortFunc(ds, descriptor.Compare)
	return slices.CompactFunc(ds, func(a, b descriptor.Descriptor) bool { return a.Equal(b) })
}
