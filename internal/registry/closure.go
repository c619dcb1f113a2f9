package registry

import (
	"context"
	"errors"
	"slices"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/defreg/internal/definition"
	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/flags"
	"github.com/zjrosen/defreg/internal/log"
	"github.com/zjrosen/defreg/internal/tracing"
)

type node struct {
	desc    descriptor.Descriptor
	tracked *definition.Tracked
	overlay bool
}

// closure is the transitive dependency set of one root, keyed by descriptor.
type closure struct {
	root  descriptor.Descriptor
	nodes map[string]*node
	order []*node
	uid   string
}

func (c *closure) rootDefinition() definition.Definition {
	return c.nodes[c.root.Key()].tracked.Definition()
}

func (c *closure) descriptors() []descriptor.Descriptor {
	out := make([]descriptor.Descriptor, len(c.order))
	for i, n := range c.order {
		out[i] = n.desc
	}
	slices.SortFunc(out, descriptor.Compare)
	return out
}

func (c *closure) uidEntries() []UIDEntry {
	out := make([]UIDEntry, len(c.order))
	for i, n := range c.order {
		out[i] = UIDEntry{Descriptor: n.desc, OwnHash: n.tracked.Definition().OwnHash()}
	}
	return out
}

// closureFor returns the committed closure of root, replaying a recorded
// failure instead of rebuilding. Results reach the shared tiers only if no
// source changed while the closure was being built.
func (r *Registry) closureFor(ctx context.Context, rc *Context, root descriptor.Descriptor) (*closure, error) {
	gen := r.generation()
	key := root.Key()
	if err := rc.failure(key); err != nil {
		return nil, err
	}
	shared := !rc.hasOverlay() && r.shouldCache(root)
	if shared && r.negativeCaching() {
		if err, ok := r.tiers.failures.Get(ctx, key); ok {
			rc.storeFailure(key, err)
			return nil, err
		}
	}

	cl, err := r.buildClosure(ctx, rc, root, gen)
	if err != nil {
		r.metrics.ClosureFailed(ErrorKind(err))
		log.Debug(log.CatRegistry, "closure failed", "root", root.String(), "error", err)
		if definition.Cacheable(err) {
			rc.storeFailure(key, err)
			if shared && r.negativeCaching() {
				r.storeShared(gen, func() { r.tiers.failures.Set(ctx, key, err, r.defsTTL) })
			}
		}
		return nil, err
	}

	cl.uid = ComputeUID(cl.uidEntries())
	entry := DependencyEntry{UID: cl.uid, Descriptors: cl.descriptors()}
	rc.storeUID(key, entry)
	if shared {
		r.storeShared(gen, func() { r.tiers.deps.Set(ctx, cl.uid, entry, r.defsTTL) })
	}
	r.metrics.ClosureBuilt(len(cl.order))
	return cl, nil
}

// buildClosure discovers every node breadth first, validating each locally as
// it is found, then validates references across the whole set and commits it.
// Any failure abandons the closure and nothing is committed.
func (r *Registry) buildClosure(ctx context.Context, rc *Context, root descriptor.Descriptor, gen uint64) (*closure, error) {
	cl := &closure{root: root, nodes: make(map[string]*node)}
	referencers := make(map[string]descriptor.Descriptor)
	queue := []descriptor.Descriptor{root}

	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		if _, seen := cl.nodes[d.Key()]; seen {
			continue
		}

		t, overlay, err := r.lookup(ctx, rc, d, gen)
		if err != nil {
			if ref, ok := referencers[d.Key()]; ok && errors.Is(err, definition.ErrDefinitionNotFound) {
				err = definition.NotFoundFrom(d, ref)
			}
			return nil, r.abandon(cl, err)
		}
		n := &node{desc: d, tracked: t, overlay: overlay}
		cl.nodes[d.Key()] = n
		cl.order = append(cl.order, n)

		if err := t.ValidateLocal(); err != nil {
			return nil, r.abandon(cl, err)
		}
		for _, dep := range t.Definition().Dependencies() {
			if _, seen := cl.nodes[dep.Key()]; seen {
				continue
			}
			if _, ok := referencers[dep.Key()]; !ok {
				referencers[dep.Key()] = d
			}
			queue = append(queue, dep)
		}
	}

	resolver := &closureResolver{ctx: ctx, rc: rc, registry: r, closure: cl}
	for _, n := range cl.order {
		if err := n.tracked.ValidateReferences(resolver); err != nil {
			return nil, r.abandon(cl, err)
		}
	}
	for _, n := range cl.order {
		if err := n.tracked.Commit(); err != nil {
			return nil, r.abandon(cl, err)
		}
	}

	r.publish(ctx, rc, cl, gen)
	log.Debug(log.CatRegistry, "closure committed", "root", root.String(), "size", len(cl.order))
	return cl, nil
}

// abandon forgets the uncommitted members of a failed closure so the next
// attempt compiles them again.
func (r *Registry) abandon(cl *closure, err error) error {
	for _, n := range cl.order {
		if !n.tracked.Valid() {
			r.pending.CompareAndDelete(n.desc.Key(), n.tracked)
		}
	}
	return err
}

// publish moves committed nodes out of pending. Nodes may enter the shared
// definition tier only when the request has no overlay and the privilege
// gate admits them and no invalidation happened since gen; otherwise they
// stay in the request.
func (r *Registry) publish(ctx context.Context, rc *Context, cl *closure, gen uint64) {
	shareable := !rc.hasOverlay()
	for _, n := range cl.order {
		if n.overlay {
			continue
		}
		key := n.desc.Key()
		stored := shareable && r.shouldCache(n.desc) && r.storeShared(gen, func() {
			r.tiers.defs.Set(ctx, key, defEntry{tracked: n.tracked}, r.defsTTL)
		})
		if !stored {
			rc.storeDef(key, n.tracked)
		}
		r.pending.CompareAndDelete(key, n.tracked)
	}
}

// lookup finds d in the overlay, the request cache, the shared tier or
// pending, compiling it as a last resort. A request with an overlay compiles
// its own copy and never touches pending. The bool reports an overlay hit.
func (r *Registry) lookup(ctx context.Context, rc *Context, d descriptor.Descriptor, gen uint64) (*definition.Tracked, bool, error) {
	key := d.Key()
	if t, ok := rc.overlayDef(key); ok {
		return t, true, nil
	}
	if t, ok := rc.cachedDef(key); ok {
		return t, false, nil
	}
	if r.shouldCache(d) {
		if e, ok := r.tiers.defs.Get(ctx, key); ok {
			if e.absent {
				return nil, false, definition.NotFound(d)
			}
			return e.tracked, false, nil
		}
	}

	if rc.hasOverlay() {
		def, err := r.compile(ctx, d)
		if err != nil {
			return nil, false, err
		}
		return definition.Track(def), false, nil
	}

	t, err := r.compileShared(ctx, d, gen)
	if err != nil {
		return nil, false, err
	}
	return t, false, nil
}

// compileShared compiles d at most once among concurrent callers of the same
// generation and parks the result in pending until its closure commits.
// A result compiled across an invalidation is returned but not parked.
func (r *Registry) compileShared(ctx context.Context, d descriptor.Descriptor, gen uint64) (*definition.Tracked, error) {
	key := d.Key()
	v, err, _ := r.compiles.Do(key+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
		if t, ok := r.pending.Load(key); ok {
			return t, nil
		}
		if r.shouldCache(d) {
			if e, ok := r.tiers.defs.Get(ctx, key); ok {
				if e.absent {
					return nil, definition.NotFound(d)
				}
				return e.tracked, nil
			}
		}

		def, err := r.compile(ctx, d)
		if err != nil {
			if errors.Is(err, definition.ErrDefinitionNotFound) && r.negativeCaching() && r.shouldCache(d) {
				r.storeShared(gen, func() { r.tiers.defs.Set(ctx, key, defEntry{absent: true}, r.defsTTL) })
			}
			return nil, err
		}
		t := definition.Track(def)
		r.storeShared(gen, func() { r.pending.Store(key, t) })
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*definition.Tracked), nil
}

// compile asks the owning sub-registries, in order, for d.
func (r *Registry) compile(ctx context.Context, d descriptor.Descriptor) (definition.Definition, error) {
	ctx, span := tracing.StartDescriptor(ctx, r.tracer, tracing.SpanCompile, d)

	var err error = definition.NotFound(d)
	for _, sub := range r.owners(d) {
		span.SetAttributes(attribute.String(tracing.AttrSubRegistry, sub.Name()))
		def, cerr := sub.Compile(ctx, d)
		if cerr == nil {
			r.metrics.Compiled(d.DefType().String())
			log.Debug(log.CatCompile, "compiled", "descriptor", d.String(), "type", d.DefType().String(), "subRegistry", sub.Name())
			tracing.End(span, nil)
			return def, nil
		}
		err = definition.AsFault(d, cerr)
		if !errors.Is(err, definition.ErrDefinitionNotFound) {
			break
		}
	}
	span.SetAttributes(attribute.String(tracing.AttrErrorKind, ErrorKind(err)))
	tracing.End(span, err)
	return nil, err
}

func (r *Registry) negativeCaching() bool {
	return r.flags.Enabled(flags.FlagNegativeCache)
}

// closureResolver serves reference validation from the closure under
// construction.
type closureResolver struct {
	ctx      context.Context
	rc       *Context
	registry *Registry
	closure  *closure
}

func (cr *closureResolver) Resolve(d descriptor.Descriptor) (definition.Definition, error) {
	if n, ok := cr.closure.nodes[d.Key()]; ok {
		return n.tracked.Definition(), nil
	}
	return nil, definition.NotFound(d)
}

func (cr *closureResolver) AssertAccess(referencer *descriptor.Descriptor, target definition.Definition) error {
	return cr.registry.AssertAccess(cr.ctx, cr.rc, referencer, target)
}

// ErrorKind labels err for metrics, spans and CLI output.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrClientOutOfSync):
		return "client_out_of_sync"
	case errors.Is(err, definition.ErrDefinitionNotFound):
		return "not_found"
	case errors.Is(err, definition.ErrInvalidDefinition):
		return "invalid"
	case errors.Is(err, definition.ErrNoAccess):
		return "no_access"
	case errors.Is(err, definition.ErrMalformedIdentifier):
		return "malformed"
	default:
		return "internal"
	}
}
