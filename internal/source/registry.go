package source

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/zjrosen/defreg/internal/definition"
	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/log"
)

// Registry pairs a Loader with a Compiler and declares which part of
// descriptor space it owns. It satisfies registry.SubRegistry.
type Registry struct {
	loader     Loader
	compiler   Compiler
	prefixes   []string
	namespaces []string
	defTypes   []descriptor.DefType
	cacheable  bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithPrefixes restricts ownership to the given schemes. The default is "*".
func WithPrefixes(prefixes ...string) RegistryOption {
	return func(r *Registry) { r.prefixes = lowerAll(prefixes) }
}

// WithNamespaces restricts ownership to namespaces matching the given
// patterns. The default is "*".
func WithNamespaces(namespaces ...string) RegistryOption {
	return func(r *Registry) { r.namespaces = lowerAll(namespaces) }
}

// WithDefTypes restricts ownership to the given DefTypes. The default is every
// DefType.
func WithDefTypes(types ...descriptor.DefType) RegistryOption {
	return func(r *Registry) { r.defTypes = slices.Clone(types) }
}

// WithCacheable controls whether results from this registry may enter the
// shared find cache. Registries over mutable stores usually pass false.
func WithCacheable(cacheable bool) RegistryOption {
	return func(r *Registry) { r.cacheable = cacheable }
}

// NewRegistry creates a sub-registry over loader. It is cacheable unless
// configured otherwise.
func NewRegistry(loader Loader, compiler Compiler, opts ...RegistryOption) *Registry {
	r := &Registry{
		loader:     loader,
		compiler:   compiler,
		prefixes:   []string{descriptor.Wildcard},
		namespaces: []string{descriptor.Wildcard},
		defTypes:   descriptor.AllDefTypes(),
		cacheable:  true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the loader name.
func (r *Registry) Name() string { return r.loader.Name() }

// Prefixes returns the owned schemes.
func (r *Registry) Prefixes() []string { return r.prefixes }

// Namespaces returns the owned namespace patterns.
func (r *Registry) Namespaces() []string { return r.namespaces }

// DefTypes returns the owned DefTypes.
func (r *Registry) DefTypes() []descriptor.DefType { return r.defTypes }

// Cacheable reports whether find results may be cached.
func (r *Registry) Cacheable() bool { return r.cacheable }

// Loader returns the underlying loader.
func (r *Registry) Loader() Loader { return r.loader }

// Exists reports whether the loader has a source for d.
func (r *Registry) Exists(d descriptor.Descriptor) bool {
	return r.loader.Exists(d)
}

// Compile loads and compiles d. A missing source is DefinitionNotFound and any
// failure that is not a definition error becomes an InternalFault.
func (r *Registry) Compile(ctx context.Context, d descriptor.Descriptor) (definition.Definition, error) {
	src, err := r.loader.Load(d)
	if err != nil {
		if errors.Is(err, ErrNoSource) {
			return nil, definition.NotFound(d)
		}
		return nil, definition.InternalFault(d, err)
	}

	def, err := r.compiler.Compile(ctx, src, r.loader)
	if err != nil {
		log.Debug(log.CatCompile, "compile failed", "descriptor", d.String(), "loader", r.Name(), "error", err)
		return nil, definition.AsFault(d, err)
	}
	if def == nil {
		return nil, definition.InternalFault(d, fmt.Errorf("compiler returned no definition"))
	}
	return def, nil
}

// Find returns the loader's descriptors matching f.
func (r *Registry) Find(f descriptor.Filter) ([]descriptor.Descriptor, error) {
	found, err := r.loader.Find(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.Name(), err)
	}
	return found, nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
