package registry

import (
	"context"

	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/log"
	"github.com/zjrosen/defreg/internal/pubsub"
	"github.com/zjrosen/defreg/internal/source"
)

// OnSourceChanged applies one source change. d is evicted from the
// definition and existence tiers, and the filter and failure tiers are
// cleared. Closures depending on d are not evicted; their next build picks
// up the new source. A nil d discards every tier.
//
// Closures still being built when the change arrives keep serving their own
// request but publish nothing to the shared tiers. Everything pending is
// dropped, so the next build compiles those descriptors again.
func (r *Registry) OnSourceChanged(d *descriptor.Descriptor, kind source.ChangeKind) {
	ctx := context.Background()

	r.invalidating.Lock()
	r.gen.Add(1)
	// Pending entries may be validated against d's old source.
	r.pending.Clear()
	if d == nil {
		r.tiers.flushAll(ctx)
		r.invalidating.Unlock()

		r.metrics.Invalidated("RESET")
		log.Info(log.CatRegistry, "all caches discarded", "kind", kind.String())
		r.broker.Publish(pubsub.ResetEvent, Invalidation{Kind: kind})
		return
	}

	key := d.Key()
	_ = r.tiers.defs.Delete(ctx, key)
	_ = r.tiers.exists.Delete(ctx, key)
	_ = r.tiers.filters.Flush(ctx)
	_ = r.tiers.failures.Flush(ctx)
	r.invalidating.Unlock()

	r.metrics.Invalidated(kind.String())
	log.Debug(log.CatRegistry, "source changed", "descriptor", d.String(), "kind", kind.String())

	dd := *d
	r.broker.Publish(eventType(kind), Invalidation{Descriptor: &dd, Kind: kind})
}

// Follow applies every change received on changes until ctx is cancelled or
// the channel closes.
func (r *Registry) Follow(ctx context.Context, changes <-chan pubsub.Event[source.Change]) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-changes:
			if !ok {
				return
			}
			r.OnSourceChanged(ev.Payload.Descriptor, ev.Payload.Kind)
		}
	}
}

func eventType(kind source.ChangeKind) pubsub.EventType {
	switch kind {
	case source.Created:
		return pubsub.CreatedEvent
	case source.Deleted:
		return pubsub.DeletedEvent
	default:
		return pubsub.UpdatedEvent
	}
}
