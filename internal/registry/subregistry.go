package registry

import (
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/zjrosen/defreg/internal/descriptor"
)

// owners returns the sub-registries owning d, in registration order.
func (r *Registry) owners(d descriptor.Descriptor) []SubRegistry {
	var out []SubRegistry
	for _, sub := range r.subs {
		if owns(sub, d) {
			out = append(out, sub)
		}
	}
	return out
}

func owns(sub SubRegistry, d descriptor.Descriptor) bool {
	return slices.Contains(sub.DefTypes(), d.DefType()) &&
		matchesAny(sub.Prefixes(), d.Prefix()) &&
		matchesAny(sub.Namespaces(), d.Namespace())
}

func matchesAny(patterns []string, value string) bool {
	v := strings.ToLower(value)
	for _, p := range patterns {
		p = strings.ToLower(p)
		if p == descriptor.Wildcard || p == v {
			return true
		}
		if ok, err := doublestar.Match(p, v); err == nil && ok {
			return true
		}
	}
	return false
}

// overlaps reports whether sub may hold descriptors matching f.
func overlaps(sub SubRegistry, f descriptor.Filter) bool {
	if types := f.DefTypes(); len(types) > 0 {
		if !slices.ContainsFunc(sub.DefTypes(), func(t descriptor.DefType) bool { return slices.Contains(types, t) }) {
			return false
		}
	}
	prefixOK := slices.ContainsFunc(sub.Prefixes(), func(p string) bool {
		return p == descriptor.Wildcard || f.MatchesPrefix(p)
	})
	if !prefixOK {
		return false
	}
	if f.AllNamespaces() {
		return true
	}
	return slices.ContainsFunc(sub.Namespaces(), func(ns string) bool {
		if ns == descriptor.Wildcard || f.MatchesNamespace(ns) {
			return true
		}
		ok, err := doublestar.Match(strings.ToLower(ns), strings.ToLower(f.Namespace()))
		return err == nil && ok
	})
}
