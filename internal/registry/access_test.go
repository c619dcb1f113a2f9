package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/defreg/internal/definition"
	"github.com/zjrosen/defreg/internal/flags"
	"github.com/zjrosen/defreg/internal/testutil"
)

func accessFixture(t *testing.T, opts ...fixtureOption) (*fixture, definition.Definition, definition.Definition) {
	t.Helper()
	loader := testutil.NewBuilder(t).
		WithComponent("test:shared", testutil.Global()).
		WithComponent("other:private").
		Build()
	f := newFixture(t, loader, opts...)
	ctx := context.Background()

	shared, err := f.reg.Resolve(ctx, NewContext(), cmp("test:shared"))
	require.NoError(t, err)
	private, err := f.reg.Resolve(ctx, NewContext(), cmp("other:private"))
	require.NoError(t, err)
	return f, shared, private
}

func TestAssertAccess_AllowIsMemoized(t *testing.T) {
	f, shared, _ := accessFixture(t)
	ctx := context.Background()
	target := cmp("test:shared")
	ref := cmp("test:page")
	before := f.eval.Count(&ref, target)

	rc := NewContext()
	require.NoError(t, f.reg.AssertAccess(ctx, rc, &ref, shared))
	require.NoError(t, f.reg.AssertAccess(ctx, rc, &ref, shared))
	require.Equal(t, before+1, f.eval.Count(&ref, target))

	require.NoError(t, f.reg.AssertAccess(ctx, NewContext(), &ref, shared))
	require.Equal(t, before+1, f.eval.Count(&ref, target), "privileged pairs are shared across requests")
	require.Positive(t, f.reg.Stats().Access)
}

func TestAssertAccess_NonPrivilegedPairStaysInRequest(t *testing.T) {
	f, shared, _ := accessFixture(t)
	ctx := context.Background()
	target := cmp("test:shared")
	ref := cmp("other:page")

	require.NoError(t, f.reg.AssertAccess(ctx, NewContext(), &ref, shared))
	require.NoError(t, f.reg.AssertAccess(ctx, NewContext(), &ref, shared))
	require.Equal(t, 2, f.eval.Count(&ref, target))
}

func TestAssertAccess_DenyIsMemoized(t *testing.T) {
	f, _, private := accessFixture(t)
	ctx := context.Background()
	rc := NewContext()

	err := f.reg.AssertAccess(ctx, rc, nil, private)
	require.ErrorIs(t, err, definition.ErrNoAccess)
	require.Contains(t, err.Error(), "disallowed by access level PUBLIC")

	err = f.reg.AssertAccess(ctx, rc, nil, private)
	require.ErrorIs(t, err, definition.ErrNoAccess)
	require.Equal(t, 1, f.eval.Count(nil, cmp("other:private")))
}

func TestAssertAccess_HiddenIsNotFound(t *testing.T) {
	f, _, private := accessFixture(t)
	ref := cmp("test:page")

	err := f.reg.AssertAccess(context.Background(), NewContext(), &ref, private)
	require.ErrorIs(t, err, definition.ErrDefinitionNotFound)
	require.Equal(t, "No COMPONENT named markup://other:private found", err.Error())
}

func TestAssertAccess_CacheDisabled(t *testing.T) {
	f, shared, _ := accessFixture(t, withOptions(func(o *Options) {
		o.Flags = flags.New(map[string]bool{flags.FlagAccessCache: false})
	}))
	ctx := context.Background()
	ref := cmp("test:page")
	rc := NewContext()

	require.NoError(t, f.reg.AssertAccess(ctx, rc, &ref, shared))
	require.NoError(t, f.reg.AssertAccess(ctx, rc, &ref, shared))
	require.Equal(t, 2, f.eval.Count(&ref, cmp("test:shared")))
	require.Zero(t, f.reg.Stats().Access)
}

func TestAssertAccess_NilDefinition(t *testing.T) {
	f := newFixture(t, testutil.NewBuilder(t).Build())
	err := f.reg.AssertAccess(context.Background(), nil, nil, nil)
	require.ErrorIs(t, err, definition.ErrInternalFault)
}
