package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/pubsub"
	"github.com/zjrosen/defreg/internal/source"
	"github.com/zjrosen/defreg/internal/testutil"
)

func nextInvalidation(t *testing.T, events <-chan pubsub.Event[Invalidation]) pubsub.Event[Invalidation] {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for invalidation")
		return pubsub.Event[Invalidation]{}
	}
}

func TestOnSourceChanged_EvictsOneDescriptor(t *testing.T) {
	f := newFixture(t, testutil.NewBuilder(t).WithChainTestData().Build())
	ctx := context.Background()
	events := f.reg.Changes(ctx)

	_, err := f.reg.GetUID(ctx, NewContext(), "", app("test:top"))
	require.NoError(t, err)
	before := f.reg.Stats()

	bottom := cmp("test:bottom")
	f.reg.OnSourceChanged(&bottom, source.Changed)

	after := f.reg.Stats()
	require.Equal(t, before.Definitions-1, after.Definitions)
	require.Equal(t, before.Dependencies, after.Dependencies, "closure records are immutable")

	ev := nextInvalidation(t, events)
	require.Equal(t, pubsub.UpdatedEvent, ev.Type)
	require.Equal(t, source.Changed, ev.Payload.Kind)
	require.True(t, bottom.Equal(*ev.Payload.Descriptor))
}

func TestOnSourceChanged_DuringBuild(t *testing.T) {
	loader := testutil.NewBuilder(t).WithChainTestData().Build()
	f := newFixture(t, loader)
	ctx := context.Background()
	top, middle, bottom := app("test:top"), cmp("test:middle"), cmp("test:bottom")
	f.compiler.Delay(bottom, 300*time.Millisecond)

	type result struct {
		uid string
		err error
	}
	done := make(chan result, 1)
	go func() {
		uid, err := f.reg.GetUID(ctx, NewContext(), "", top)
		done <- result{uid, err}
	}()
	require.Eventually(t, func() bool { return f.compiler.Count(bottom) == 1 }, time.Second, 5*time.Millisecond)

	testutil.NewBuilder(t).
		WithComponent("test:middle", testutil.Global(), testutil.Components("test:bottom"), testutil.Description("edited")).
		Into(loader)
	f.reg.OnSourceChanged(&middle, source.Changed)

	var stale result
	select {
	case stale = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for in-flight build")
	}
	require.NoError(t, stale.err)
	f.compiler.Clear(bottom)

	fresh, err := f.reg.GetUID(ctx, NewContext(), "", top)
	require.NoError(t, err)
	require.NotEqual(t, stale.uid, fresh, "the edit made during the build is visible")
	require.Equal(t, 2, f.compiler.Count(middle))

	again, err := f.reg.GetUID(ctx, NewContext(), "", top)
	require.NoError(t, err)
	require.Equal(t, fresh, again)
	require.Equal(t, 2, f.compiler.Count(middle), "the edited source is now shared")
	require.Zero(t, f.reg.Stats().Pending)
}

func TestOnSourceChanged_ClearsFailures(t *testing.T) {
	loader := testutil.NewBuilder(t).
		WithComponent("test:page", testutil.Global(), testutil.Components("test:later")).
		Build()
	f := newFixture(t, loader)
	ctx := context.Background()
	page, later := cmp("test:page"), cmp("test:later")

	_, err := f.reg.GetUID(ctx, NewContext(), "", page)
	require.Error(t, err)
	require.Equal(t, 1, f.reg.Stats().Failures)

	testutil.NewBuilder(t).WithComponent("test:later", testutil.Global()).Into(loader)
	f.reg.OnSourceChanged(&later, source.Created)
	require.Zero(t, f.reg.Stats().Failures)

	_, err = f.reg.GetUID(ctx, NewContext(), "", page)
	require.NoError(t, err)
}

func TestOnSourceChanged_NilDiscardsEverything(t *testing.T) {
	f := newFixture(t, testutil.NewBuilder(t).WithChainTestData().WithHouseboatTestData().Build())
	ctx := context.Background()
	events := f.reg.Changes(ctx)

	uid, err := f.reg.GetUID(ctx, NewContext(), "", app("test:top"))
	require.NoError(t, err)
	_, err = f.reg.Find(ctx, nil, descriptor.MustFilter("markup://test:house*"))
	require.NoError(t, err)
	f.reg.PutCachedString(ctx, uid, app("test:top"), "css", "body{}")
	require.True(t, f.reg.Exists(ctx, nil, app("test:top")))

	f.reg.OnSourceChanged(nil, source.Changed)
	require.Equal(t, Stats{}, f.reg.Stats())

	ev := nextInvalidation(t, events)
	require.Equal(t, pubsub.ResetEvent, ev.Type)
	require.Nil(t, ev.Payload.Descriptor)

	_, ok := f.reg.GetDependencies(ctx, nil, uid)
	require.False(t, ok)
}

func TestFollow_AppliesLoaderChanges(t *testing.T) {
	loader := testutil.NewBuilder(t).WithChainTestData().Build()
	t.Cleanup(loader.Close)
	f := newFixture(t, loader)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	invalidations := f.reg.Changes(ctx)
	changes := loader.Changes(ctx)
	done := make(chan struct{})
	go func() {
		f.reg.Follow(ctx, changes)
		close(done)
	}()

	top := app("test:top")
	before, err := f.reg.GetUID(ctx, NewContext(), "", top)
	require.NoError(t, err)

	bottom := cmp("test:bottom")
	testutil.NewBuilder(t).
		WithComponent("test:bottom", testutil.Global(), testutil.Events("test:leafEvent"), testutil.Description("followed")).
		Into(loader)

	ev := nextInvalidation(t, invalidations)
	require.True(t, bottom.Equal(*ev.Payload.Descriptor))
	require.Equal(t, source.Changed, ev.Payload.Kind)

	after, err := f.reg.GetUID(ctx, NewContext(), "", top)
	require.NoError(t, err)
	require.NotEqual(t, before, after)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Follow did not stop on cancel")
	}
}

func TestFollow_StopsWhenChannelCloses(t *testing.T) {
	f := newFixture(t, source.NewMemoryLoader("empty"))
	changes := make(chan pubsub.Event[source.Change])
	close(changes)

	done := make(chan struct{})
	go func() {
		f.reg.Follow(context.Background(), changes)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Follow did not return")
	}
}
