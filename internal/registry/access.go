package registry

import (
	"context"
	"fmt"

	"github.com/zjrosen/defreg/internal/definition"
	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/flags"
	"github.com/zjrosen/defreg/internal/log"
	"github.com/zjrosen/defreg/internal/policy"
)

const topLevel = "<top>"

func accessKey(referencer *descriptor.Descriptor, target descriptor.Descriptor) string {
	from := topLevel
	if referencer != nil {
		from = referencer.Key()
	}
	return from + "|" + target.Key()
}

// AssertAccess checks whether referencer may use def. A nil referencer is a
// top-level request. Decisions are memoized per pair, denials included; a
// hidden target is reported as not found.
func (r *Registry) AssertAccess(ctx context.Context, rc *Context, referencer *descriptor.Descriptor, def definition.Definition) error {
	rc = orDefault(rc)
	if def == nil {
		return fmt.Errorf("%w: access check without a definition", definition.ErrInternalFault)
	}
	target := def.Descriptor()
	key := accessKey(referencer, target)
	memo := r.flags.Enabled(flags.FlagAccessCache)
	shared := memo && r.accessShareable(rc, referencer, target)

	if memo {
		if dec, ok := rc.accessDecision(key); ok {
			return r.decide(target, dec, "cached")
		}
		if shared {
			if dec, ok := r.tiers.access.Get(ctx, key); ok {
				rc.storeAccess(key, dec)
				return r.decide(target, dec, "cached")
			}
		}
	}

	dec := r.evaluator.Evaluate(referencer, def)
	if memo {
		rc.storeAccess(key, dec)
		if shared {
			r.tiers.access.Set(ctx, key, dec, r.defsTTL)
		}
	}
	if !dec.Allowed {
		log.Debug(log.CatAccess, "access refused", "key", key, "hidden", dec.Hidden, "reason", dec.Reason)
	}
	return r.decide(target, dec, "evaluated")
}

func (r *Registry) accessShareable(rc *Context, referencer *descriptor.Descriptor, target descriptor.Descriptor) bool {
	if rc.hasOverlay() || !r.shouldCache(target) {
		return false
	}
	return referencer == nil || r.shouldCache(*referencer)
}

func (r *Registry) decide(target descriptor.Descriptor, dec policy.Decision, source string) error {
	switch {
	case dec.Allowed:
		r.metrics.AccessChecked("allowed", source)
		return nil
	case dec.Hidden:
		r.metrics.AccessChecked("hidden", source)
		return definition.NotFound(target)
	default:
		r.metrics.AccessChecked("denied", source)
		return definition.NoAccess(target, dec.Reason)
	}
}
