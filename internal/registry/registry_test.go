package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/defreg/internal/definition"
	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/flags"
	"github.com/zjrosen/defreg/internal/policy"
	"github.com/zjrosen/defreg/internal/source"
	"github.com/zjrosen/defreg/internal/testutil"
	"github.com/zjrosen/defreg/internal/yamldef"
)

// fixture wires a registry over the built-in prototypes and one memory
// loader. Namespaces "aura" and "test" are privileged.
type fixture struct {
	reg      *Registry
	loader   *source.MemoryLoader
	compiler *testutil.CountingCompiler
	eval     *testutil.CountingEvaluator
}

type fixtureOption func(*Options, *fixtureConfig)

type fixtureConfig struct {
	compiler source.Compiler
}

func withOptions(fn func(*Options)) fixtureOption {
	return func(o *Options, _ *fixtureConfig) { fn(o) }
}

func withCompiler(c source.Compiler) fixtureOption {
	return func(_ *Options, cfg *fixtureConfig) { cfg.compiler = c }
}

func newFixture(t *testing.T, loader *source.MemoryLoader, opts ...fixtureOption) *fixture {
	t.Helper()
	privileged := policy.NewNamespaceList("aura", "test")
	cfg := &fixtureConfig{compiler: yamldef.New(nil)}
	o := Options{Privileged: privileged}
	for _, opt := range opts {
		opt(&o, cfg)
	}

	counting := testutil.NewCountingCompiler(cfg.compiler)
	eval := testutil.NewCountingEvaluator(policy.DefaultEvaluator{
		Privileged:        privileged,
		UnsecuredPrefixes: []string{"java"},
	})
	if o.Evaluator == nil {
		o.Evaluator = eval
	}
	o.SubRegistries = append([]SubRegistry{
		yamldef.Builtins(),
		source.NewRegistry(loader, counting),
	}, o.SubRegistries...)

	reg := New(o)
	t.Cleanup(reg.Close)
	return &fixture{reg: reg, loader: loader, compiler: counting, eval: eval}
}

func cmp(raw string) descriptor.Descriptor { return descriptor.MustParse(raw, descriptor.Component) }
func app(raw string) descriptor.Descriptor { return descriptor.MustParse(raw, descriptor.Application) }

func names(ds []descriptor.Descriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.QualifiedName()
	}
	return out
}

// countedDef counts validation passes of the wrapped definition.
type countedDef struct {
	definition.Definition
	local atomic.Int32
	refs  atomic.Int32
}

func (c *countedDef) ValidateLocal() error {
	c.local.Add(1)
	return c.Definition.ValidateLocal()
}

func (c *countedDef) ValidateReferences(r definition.Resolver) error {
	c.refs.Add(1)
	return c.Definition.ValidateReferences(r)
}

// validationCounter wraps every compiled definition in a countedDef and
// remembers each one by descriptor key.
type validationCounter struct {
	mu   sync.Mutex
	defs map[string][]*countedDef
	next source.Compiler
}

func newValidationCounter(next source.Compiler) *validationCounter {
	return &validationCounter{defs: make(map[string][]*countedDef), next: next}
}

func (v *validationCounter) Compile(ctx context.Context, src source.Source, env source.Env) (definition.Definition, error) {
	def, err := v.next.Compile(ctx, src, env)
	if err != nil {
		return nil, err
	}
	c := &countedDef{Definition: def}
	v.mu.Lock()
	key := src.Descriptor.Key()
	v.defs[key] = append(v.defs[key], c)
	v.mu.Unlock()
	return c, nil
}

// counts sums validation passes over every definition compiled for d.
func (v *validationCounter) counts(d descriptor.Descriptor) (local, refs int32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, c := range v.defs[d.Key()] {
		local += c.local.Load()
		refs += c.refs.Load()
	}
	return local, refs
}

// maxPerDefinition is the largest number of passes any single definition
// compiled for d received.
func (v *validationCounter) maxPerDefinition(d descriptor.Descriptor) (local, refs int32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, c := range v.defs[d.Key()] {
		local = max(local, c.local.Load())
		refs = max(refs, c.refs.Load())
	}
	return local, refs
}

func TestRegistry_ResolveCommitsClosure(t *testing.T) {
	f := newFixture(t, testutil.NewBuilder(t).WithChainTestData().Build())
	ctx := context.Background()

	def, err := f.reg.Resolve(ctx, NewContext(), app("test:top"))
	require.NoError(t, err)
	require.True(t, def.Descriptor().Equal(app("test:top")))

	stats := f.reg.Stats()
	require.Equal(t, 6, stats.Definitions, "top, middle, bottom, leafEvent and both prototypes")
	require.Zero(t, stats.Pending)

	_, err = f.reg.Resolve(ctx, NewContext(), cmp("test:middle"))
	require.NoError(t, err)
	require.Equal(t, 1, f.compiler.Count(cmp("test:middle")))
}

func TestRegistry_ResolveNotFound(t *testing.T) {
	f := newFixture(t, source.NewMemoryLoader("empty"))

	_, err := f.reg.Resolve(context.Background(), nil, cmp("test:nothing"))
	require.ErrorIs(t, err, definition.ErrDefinitionNotFound)
	require.Equal(t, "No COMPONENT named markup://test:nothing found", err.Error())
}

func TestRegistry_Exists(t *testing.T) {
	f := newFixture(t, testutil.NewBuilder(t).WithChainTestData().Build())
	ctx := context.Background()

	require.True(t, f.reg.Exists(ctx, nil, app("test:top")))
	require.True(t, f.reg.Exists(ctx, nil, yamldef.BaseComponent))
	require.False(t, f.reg.Exists(ctx, nil, cmp("test:nothing")))
	require.False(t, f.reg.Exists(ctx, nil, cmp("other:nothing")))
	require.Equal(t, 3, f.reg.Stats().Exists, "only privileged lookups are retained")
}

func TestRegistry_ExactlyOnceUnderConcurrency(t *testing.T) {
	loader := testutil.NewBuilder(t).WithChainTestData().Build()
	counter := newValidationCounter(yamldef.New(nil))
	f := newFixture(t, loader, withCompiler(counter))
	top := app("test:top")
	f.compiler.Delay(top, 50*time.Millisecond)

	const n = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	uids := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			uids[i], errs[i] = f.reg.GetUID(context.Background(), NewContext(), "", top)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, uids[0], uids[i])
	}

	chain := []descriptor.Descriptor{
		top,
		cmp("test:middle"),
		cmp("test:bottom"),
		descriptor.MustParse("test:leafEvent", descriptor.Event),
	}
	for _, d := range chain {
		require.Equal(t, 1, f.compiler.Count(d), "compile %s", d)
		local, refs := counter.counts(d)
		require.Equal(t, int32(1), local, "validateLocal %s", d)
		require.Equal(t, int32(1), refs, "validateReferences %s", d)
	}
	require.Zero(t, f.reg.Stats().Pending)
}

func TestRegistry_FailedClosureCommitsNothing(t *testing.T) {
	loader := testutil.NewBuilder(t).
		WithComponent("test:root", testutil.Global(), testutil.Components("test:good", "test:bad")).
		WithComponent("test:good", testutil.Global()).
		WithSource("test:bad", descriptor.Component, "abstract: true\n").
		Build()
	f := newFixture(t, loader)
	ctx := context.Background()

	_, err := f.reg.GetUID(ctx, NewContext(), "", cmp("test:root"))
	require.ErrorIs(t, err, definition.ErrInvalidDefinition)
	require.ErrorIs(t, err, definition.ErrCorrectable)

	stats := f.reg.Stats()
	require.Zero(t, stats.Definitions, "no member of a failed closure is published")
	require.Zero(t, stats.Dependencies)
	require.Zero(t, stats.Pending)
	require.Equal(t, 1, stats.Failures)

	// test:good is fine on its own.
	_, err = f.reg.GetUID(ctx, NewContext(), "", cmp("test:good"))
	require.NoError(t, err)
}

func TestRegistry_CachedFailureIsNotRecompiled(t *testing.T) {
	loader := testutil.NewBuilder(t).
		WithSource("test:broken", descriptor.Component, "kind: [").
		Build()
	f := newFixture(t, loader)
	broken := cmp("test:broken")

	for i := 0; i < 3; i++ {
		_, err := f.reg.GetUID(context.Background(), NewContext(), "", broken)
		require.ErrorIs(t, err, definition.ErrInvalidDefinition)
	}
	require.Equal(t, 1, f.compiler.Count(broken))
}

func TestRegistry_NegativeCacheDisabled(t *testing.T) {
	loader := testutil.NewBuilder(t).
		WithSource("test:broken", descriptor.Component, "kind: [").
		Build()
	f := newFixture(t, loader, withOptions(func(o *Options) {
		o.Flags = flags.New(map[string]bool{flags.FlagNegativeCache: false})
	}))
	broken := cmp("test:broken")

	for i := 0; i < 3; i++ {
		_, err := f.reg.GetUID(context.Background(), NewContext(), "", broken)
		require.ErrorIs(t, err, definition.ErrInvalidDefinition)
	}
	require.Equal(t, 3, f.compiler.Count(broken))
	require.Zero(t, f.reg.Stats().Failures)
}

func TestRegistry_InternalFaultIsRetried(t *testing.T) {
	f := newFixture(t, testutil.NewBuilder(t).WithComponent("test:flaky", testutil.Global()).Build())
	flaky := cmp("test:flaky")
	ctx := context.Background()
	f.compiler.FailWith(flaky, context.DeadlineExceeded)

	rc := NewContext()
	for i := 0; i < 2; i++ {
		_, err := f.reg.GetUID(ctx, rc, "", flaky)
		require.ErrorIs(t, err, definition.ErrInternalFault)
		require.False(t, definition.Cacheable(err))
	}
	require.Equal(t, 2, f.compiler.Count(flaky))
	require.Zero(t, f.reg.Stats().Failures)

	f.compiler.Clear(flaky)
	_, err := f.reg.GetUID(ctx, rc, "", flaky)
	require.NoError(t, err)
}

func TestRegistry_CycleSymmetry(t *testing.T) {
	f := newFixture(t, testutil.NewBuilder(t).WithCycleTestData().Build())
	ctx := context.Background()

	pairs := [][2]descriptor.Descriptor{
		{cmp("test:cycleA"), cmp("test:cycleB")},
		{cmp("test:parentA"), cmp("test:parentB")},
		{cmp("test:depA"), cmp("test:depB")},
	}
	for _, pair := range pairs {
		t.Run(pair[0].Name(), func(t *testing.T) {
			uidA, err := f.reg.GetUID(ctx, NewContext(), "", pair[0])
			require.NoError(t, err)
			uidB, err := f.reg.GetUID(ctx, NewContext(), "", pair[1])
			require.NoError(t, err)
			require.Equal(t, uidA, uidB)

			depsA, ok := f.reg.GetDependencies(ctx, nil, uidA)
			require.True(t, ok)
			depsB, ok := f.reg.GetDependencies(ctx, nil, uidB)
			require.True(t, ok)
			require.Equal(t, names(depsA), names(depsB))
			require.Contains(t, names(depsA), pair[0].QualifiedName())
			require.Contains(t, names(depsA), pair[1].QualifiedName())
		})
	}
}

func TestRegistry_BaseClosureHasTwoMembers(t *testing.T) {
	f := newFixture(t, testutil.NewBuilder(t).WithComponent("test:plain", testutil.Global()).Build())
	ctx := context.Background()

	uid, err := f.reg.GetUID(ctx, NewContext(), "", cmp("test:plain"))
	require.NoError(t, err)
	deps, ok := f.reg.GetDependencies(ctx, nil, uid)
	require.True(t, ok)
	require.Equal(t, []string{"markup://aura:component", "markup://test:plain"}, names(deps))
}

func TestRegistry_NestedReferenceIsInClosure(t *testing.T) {
	f := newFixture(t, testutil.NewBuilder(t).WithChainTestData().Build())
	ctx := context.Background()

	uid, err := f.reg.GetUID(ctx, NewContext(), "", cmp("test:middle"))
	require.NoError(t, err)
	deps, ok := f.reg.GetDependencies(ctx, nil, uid)
	require.True(t, ok)
	require.Equal(t, []string{
		"markup://aura:component",
		"markup://test:bottom",
		"markup://test:leafEvent",
		"markup://test:middle",
	}, names(deps))
}

func TestRegistry_PrivilegeBoundary(t *testing.T) {
	loader := testutil.NewBuilder(t).
		WithComponent("test:usesGhost", testutil.Global(), testutil.Components("other:ghost")).
		WithComponent("test:usesWidget", testutil.Global(), testutil.Components("other:widget")).
		WithComponent("other:widget", testutil.Global()).
		Build()
	f := newFixture(t, loader)
	ctx := context.Background()

	_, err := f.reg.GetUID(ctx, NewContext(), "", cmp("test:usesGhost"))
	require.ErrorIs(t, err, definition.ErrDefinitionNotFound)
	require.Contains(t, err.Error(), "No COMPONENT named markup://other:ghost found")
	require.Contains(t, err.Error(), "markup://test:usesGhost")

	_, err = f.reg.GetUID(ctx, NewContext(), "", cmp("test:usesWidget"))
	require.ErrorIs(t, err, definition.ErrDefinitionNotFound, "non-privileged targets are hidden from privileged referencers")
	require.Contains(t, err.Error(), "No COMPONENT named markup://other:widget")

	stats := f.reg.Stats()
	require.Zero(t, stats.Dependencies)
	require.Zero(t, stats.Definitions)
	require.Zero(t, stats.Pending)
}

func TestRegistry_NonPrivilegedRootStaysInRequest(t *testing.T) {
	f := newFixture(t, testutil.NewBuilder(t).WithComponent("other:page", testutil.Global()).Build())
	ctx := context.Background()
	rc := NewContext()

	uid, err := f.reg.GetUID(ctx, rc, "", cmp("other:page"))
	require.NoError(t, err)

	deps, ok := f.reg.GetDependencies(ctx, rc, uid)
	require.True(t, ok)
	require.Len(t, deps, 2)

	_, ok = f.reg.GetDependencies(ctx, NewContext(), uid)
	require.False(t, ok, "dependency tier only retains privileged roots")
	require.Equal(t, 1, f.reg.Stats().Definitions, "only the prototype is shared")

	_, err = f.reg.GetUID(ctx, NewContext(), "", cmp("other:page"))
	require.NoError(t, err)
	require.Equal(t, 2, f.compiler.Count(cmp("other:page")))
}

func TestParseStaleUIDPolicy(t *testing.T) {
	p, err := ParseStaleUIDPolicy("")
	require.NoError(t, err)
	require.Equal(t, ReturnFresh, p)

	p, err = ParseStaleUIDPolicy("ERROR")
	require.NoError(t, err)
	require.Equal(t, ErrorOnMismatch, p)
	require.Equal(t, "error", p.String())

	_, err = ParseStaleUIDPolicy("sometimes")
	require.Error(t, err)
}
