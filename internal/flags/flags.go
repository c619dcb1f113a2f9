// Package flags provides feature flags read from configuration. Flags are
// read-only after initialization and unknown flags are disabled.
package flags

import (
	"maps"

	"github.com/zjrosen/defreg/internal/log"
)

const (
	// FlagFilterCache enables the shared filtered-find cache tier.
	FlagFilterCache = "filter-cache"

	// FlagAccessCache memoizes access decisions per referencer and target.
	FlagAccessCache = "access-cache"

	// FlagNegativeCache records closure failures and confirmed-absent
	// descriptors so repeated requests skip compilation.
	FlagNegativeCache = "negative-cache"
)

// Defaults returns the value of every known flag when configuration is silent.
func Defaults() map[string]bool {
	return map[string]bool{
		FlagFilterCache:   true,
		FlagAccessCache:   true,
		FlagNegativeCache: true,
	}
}

// Registry holds feature flag state.
type Registry struct {
	flags map[string]bool
}

// New creates a Registry from configured values layered over Defaults.
func New(configured map[string]bool) *Registry {
	flags := Defaults()
	maps.Copy(flags, configured)
	r := &Registry{flags: flags}
	log.Debug(log.CatConfig, "Feature flags initialized", "count", len(flags), "flags", r.All())
	return r
}

// Enabled reports whether the named flag is on. Unknown flags and a nil
// registry report false.
func (r *Registry) Enabled(name string) bool {
	if r == nil || r.flags == nil {
		return false
	}
	value, exists := r.flags[name]
	if !exists {
		log.Debug(log.CatConfig, "Unknown flag accessed", "flag", name, "result", false)
		return false
	}
	return value
}

// All returns a copy of every flag.
func (r *Registry) All() map[string]bool {
	if r == nil || r.flags == nil {
		return make(map[string]bool)
	}
	return maps.Clone(r.flags)
}
