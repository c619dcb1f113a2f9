package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/defreg/internal/definition"
	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/source"
	"github.com/zjrosen/defreg/internal/yamldef"
)

func compile(t *testing.T, loader source.Loader, d descriptor.Descriptor) definition.Definition {
	t.Helper()
	def, err := source.NewRegistry(loader, yamldef.New(nil)).Compile(context.Background(), d)
	require.NoError(t, err)
	return def
}

func TestBuilder_WithComponent(t *testing.T) {
	loader := NewBuilder(t).
		WithComponent("test:button").
		Build()

	d := descriptor.MustParse("test:button", descriptor.Component)
	require.True(t, loader.Exists(d))
	src, err := loader.Load(d)
	require.NoError(t, err)
	require.Equal(t, "kind: component\n", string(src.Contents))

	def := compile(t, loader, d)
	require.Equal(t, definition.AccessPublic, def.Access())
	require.Equal(t, []descriptor.Descriptor{yamldef.BaseComponent}, def.Dependencies())
}

func TestBuilder_WithComponent_AllOptions(t *testing.T) {
	loader := NewBuilder(t).
		WithComponent("test:button",
			Global(),
			Description("a button"),
			Extends("test:base"),
			Implements("test:clickable"),
			Components("test:icon"),
			Events("test:press"),
			DependsOn("test:theme", "tokens"),
			Extensible(),
			Support("beta"),
			Attribute("label", "String"),
			RequiredAttribute("value", "String"),
		).
		WithController("test:button", "({})").
		WithStyle("markup://test:button", ".THIS {}").
		Build()

	def := compile(t, loader, descriptor.MustParse("test:button", descriptor.Component))
	require.Equal(t, definition.AccessGlobal, def.Access())

	var got []string
	for _, dep := range def.Dependencies() {
		got = append(got, dep.DefType().String()+" "+dep.QualifiedName())
	}
	require.Equal(t, []string{
		"COMPONENT markup://test:base",
		"INTERFACE markup://test:clickable",
		"COMPONENT markup://test:icon",
		"EVENT markup://test:press",
		"TOKENS markup://test:theme",
		"CONTROLLER js://test.button",
		"STYLE css://test.button",
	}, got)

	bundle, ok := def.(*yamldef.BundleDef)
	require.True(t, ok)
	require.Len(t, bundle.Attributes(), 2)
	require.True(t, bundle.Extensible())
	require.Equal(t, definition.SupportBeta, bundle.Support())
}

func TestBuilder_Abstract(t *testing.T) {
	loader := NewBuilder(t).
		WithComponent("test:shape", Abstract()).
		Build()

	bundle := compile(t, loader, descriptor.MustParse("test:shape", descriptor.Component)).(*yamldef.BundleDef)
	require.True(t, bundle.Abstract())
	require.True(t, bundle.Extensible())
	require.NoError(t, bundle.ValidateLocal())
}

func TestBuilder_WithSource(t *testing.T) {
	loader := NewBuilder(t).
		Named("raw").
		WithSource("test:broken", descriptor.Component, "kind: [").
		Build()
	require.Equal(t, "raw", loader.Name())

	_, err := source.NewRegistry(loader, yamldef.New(nil)).
		Compile(context.Background(), descriptor.MustParse("test:broken", descriptor.Component))
	require.ErrorIs(t, err, definition.ErrInvalidDefinition)
}

func TestBuilder_Into(t *testing.T) {
	loader := source.NewMemoryLoader("shared")
	NewBuilder(t).WithEvent("test:press", Global()).Into(loader)
	NewBuilder(t).WithInterface("test:clickable").Into(loader)

	require.True(t, loader.Exists(descriptor.MustParse("test:press", descriptor.Event)))
	require.True(t, loader.Exists(descriptor.MustParse("test:clickable", descriptor.Interface)))
}

func TestCountingCompiler(t *testing.T) {
	loader := NewBuilder(t).WithComponent("test:button").Build()
	counting := NewCountingCompiler(yamldef.New(nil))
	sub := source.NewRegistry(loader, counting)
	d := descriptor.MustParse("test:button", descriptor.Component)
	ctx := context.Background()

	_, err := sub.Compile(ctx, d)
	require.NoError(t, err)
	_, err = sub.Compile(ctx, d)
	require.NoError(t, err)
	require.Equal(t, 2, counting.Count(d))
	require.Equal(t, 2, counting.Total())

	counting.FailWith(d, errors.New("disk on fire"))
	_, err = sub.Compile(ctx, d)
	require.ErrorIs(t, err, definition.ErrInternalFault)

	counting.Clear(d)
	_, err = sub.Compile(ctx, d)
	require.NoError(t, err)
	require.Equal(t, 4, counting.Count(d))
}

func TestCountingEvaluator(t *testing.T) {
	loader := NewBuilder(t).WithComponent("test:button").Build()
	d := descriptor.MustParse("test:button", descriptor.Component)
	def := compile(t, loader, d)

	eval := NewCountingEvaluator(nil)
	require.True(t, eval.Evaluate(nil, def).Allowed)
	require.True(t, eval.Evaluate(nil, def).Allowed)
	ref := descriptor.MustParse("other:page", descriptor.Application)
	require.True(t, eval.Evaluate(&ref, def).Allowed)

	require.Equal(t, 2, eval.Count(nil, d))
	require.Equal(t, 1, eval.Count(&ref, d))
	require.Equal(t, 3, eval.Total())
}

func TestNewTestStore(t *testing.T) {
	store := NewTestStore(t)
	d := descriptor.MustParse("test:button", descriptor.Component)
	require.NoError(t, store.Put(context.Background(), d, []byte("kind: component\n")))
	require.True(t, store.Exists(d))
}
