package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/pubsub"
)

func TestMemoryLoader_PutLoadRemove(t *testing.T) {
	m := NewMemoryLoader("test")
	d := descriptor.MustParse("test:thing", descriptor.Component)

	_, err := m.Load(d)
	require.ErrorIs(t, err, ErrNoSource)
	require.False(t, m.Exists(d))

	m.Put(d, "kind: component\n")
	require.True(t, m.Exists(d))
	require.True(t, m.Exists(descriptor.MustParse("TEST:Thing", descriptor.Component)))

	src, err := m.Load(d)
	require.NoError(t, err)
	require.Equal(t, FormatMarkup, src.Format)
	require.Equal(t, "kind: component\n", string(src.Contents))
	require.Len(t, src.Hash(), 64)

	require.True(t, m.Remove(d))
	require.False(t, m.Remove(d))
	require.False(t, m.Exists(d))
}

func TestMemoryLoader_PublishesChanges(t *testing.T) {
	m := NewMemoryLoader("test")
	t.Cleanup(m.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := m.Changes(ctx)

	d := descriptor.MustParse("test:thing", descriptor.Component)
	m.Put(d, "a")
	m.Put(d, "b")
	m.Remove(d)

	want := []struct {
		typ  pubsub.EventType
		kind ChangeKind
	}{
		{pubsub.CreatedEvent, Created},
		{pubsub.UpdatedEvent, Changed},
		{pubsub.DeletedEvent, Deleted},
	}
	for _, w := range want {
		select {
		case ev := <-events:
			require.Equal(t, w.typ, ev.Type)
			require.Equal(t, w.kind, ev.Payload.Kind)
			require.NotNil(t, ev.Payload.Descriptor)
			require.True(t, d.Equal(*ev.Payload.Descriptor))
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", w.kind)
		}
	}
}

func TestMemoryLoader_FindAndNamespaces(t *testing.T) {
	m := NewMemoryLoader("test")
	m.Put(descriptor.MustParse("ns:houseboat", descriptor.Application), "")
	m.Put(descriptor.MustParse("ns:houseparty", descriptor.Application), "")
	m.Put(descriptor.MustParse("other:pantsparty", descriptor.Application), "")

	found, err := m.Find(descriptor.MustFilter("ns:house*"))
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.Equal(t, "houseboat", found[0].Name())

	namespaces, err := m.Namespaces()
	require.NoError(t, err)
	require.Equal(t, []string{"ns", "other"}, namespaces)
}
