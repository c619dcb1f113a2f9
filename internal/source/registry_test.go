package source

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/defreg/internal/definition"
	"github.com/zjrosen/defreg/internal/descriptor"
)

type stubDef struct {
	desc descriptor.Descriptor
	hash string
}

func (d stubDef) Descriptor() descriptor.Descriptor            { return d.desc }
func (d stubDef) OwnHash() string                              { return d.hash }
func (d stubDef) Dependencies() []descriptor.Descriptor        { return nil }
func (d stubDef) ValidateLocal() error                         { return nil }
func (d stubDef) ValidateReferences(definition.Resolver) error { return nil }
func (d stubDef) Access() definition.Access                    { return definition.AccessGlobal }
func (d stubDef) Serialize() map[string]any                    { return nil }

func TestRegistry_Compile(t *testing.T) {
	m := NewMemoryLoader("mem")
	good := descriptor.MustParse("test:good", descriptor.Component)
	bad := descriptor.MustParse("test:bad", descriptor.Component)
	boom := descriptor.MustParse("test:boom", descriptor.Component)
	m.Put(good, "ok")
	m.Put(bad, "bad")
	m.Put(boom, "boom")

	compiler := CompilerFunc(func(_ context.Context, src Source, env Env) (definition.Definition, error) {
		switch string(src.Contents) {
		case "bad":
			return nil, definition.Invalid(src.Descriptor, "Invalid attribute %q", "x")
		case "boom":
			return nil, errors.New("parser crashed")
		}
		require.True(t, env.Exists(src.Descriptor))
		return stubDef{desc: src.Descriptor, hash: src.Hash()}, nil
	})
	r := NewRegistry(m, compiler, WithNamespaces("test"), WithCacheable(false))
	require.Equal(t, []string{"test"}, r.Namespaces())
	require.Equal(t, []string{descriptor.Wildcard}, r.Prefixes())
	require.False(t, r.Cacheable())

	def, err := r.Compile(context.Background(), good)
	require.NoError(t, err)
	require.True(t, good.Equal(def.Descriptor()))

	_, err = r.Compile(context.Background(), bad)
	require.ErrorIs(t, err, definition.ErrInvalidDefinition)

	_, err = r.Compile(context.Background(), boom)
	require.ErrorIs(t, err, definition.ErrInternalFault)

	_, err = r.Compile(context.Background(), descriptor.MustParse("test:absent", descriptor.Component))
	require.ErrorIs(t, err, definition.ErrDefinitionNotFound)
	require.Equal(t, "No COMPONENT named markup://test:absent found", err.Error())
}

func TestRegistry_Find(t *testing.T) {
	m := NewMemoryLoader("mem")
	m.Put(descriptor.MustParse("ns:houseboat", descriptor.Application), "")
	r := NewRegistry(m, nil, WithPrefixes("MARKUP"), WithDefTypes(descriptor.Application))
	require.Equal(t, []string{"markup"}, r.Prefixes())
	require.Equal(t, []descriptor.DefType{descriptor.Application}, r.DefTypes())

	found, err := r.Find(descriptor.MustFilter("ns:*"))
	require.NoError(t, err)
	require.Len(t, found, 1)
}
