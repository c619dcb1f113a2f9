package source

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/pubsub"
)

// MemoryLoader is a mutable in-memory Loader. Every mutation is published as
// a Change on its broker.
type MemoryLoader struct {
	name    string
	mu      sync.RWMutex
	sources map[string]Source
	broker  *pubsub.Broker[Change]
}

// NewMemoryLoader creates an empty loader.
func NewMemoryLoader(name string) *MemoryLoader {
	return &MemoryLoader{
		name:    name,
		sources: make(map[string]Source),
		broker:  pubsub.NewBroker[Change](),
	}
}

// Name implements Loader.
func (m *MemoryLoader) Name() string { return m.name }

// Put adds or replaces the source for d.
func (m *MemoryLoader) Put(d descriptor.Descriptor, contents string) {
	m.mu.Lock()
	_, existed := m.sources[d.Key()]
	m.sources[d.Key()] = Source{
		Descriptor:   d,
		Contents:     []byte(contents),
		Format:       FormatFor(d.DefType()),
		Origin:       "memory:" + m.name,
		LastModified: time.Now(),
	}
	m.mu.Unlock()

	kind, eventType := Created, pubsub.CreatedEvent
	if existed {
		kind, eventType = Changed, pubsub.UpdatedEvent
	}
	dd := d
	m.broker.Publish(eventType, Change{Descriptor: &dd, Kind: kind, Origin: m.name})
}

// Remove deletes the source for d. It reports whether a source existed.
func (m *MemoryLoader) Remove(d descriptor.Descriptor) bool {
	m.mu.Lock()
	_, existed := m.sources[d.Key()]
	delete(m.sources, d.Key())
	m.mu.Unlock()

	if existed {
		dd := d
		m.broker.Publish(pubsub.DeletedEvent, Change{Descriptor: &dd, Kind: Deleted, Origin: m.name})
	}
	return existed
}

// Changes subscribes to mutations until ctx is cancelled.
func (m *MemoryLoader) Changes(ctx context.Context) <-chan pubsub.Event[Change] {
	return m.broker.Subscribe(ctx)
}

// Close ends every change subscription.
func (m *MemoryLoader) Close() {
	m.broker.Close()
}

// Load implements Loader.
func (m *MemoryLoader) Load(d descriptor.Descriptor) (Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.sources[d.Key()]
	if !ok {
		return Source{}, ErrNoSource
	}
	return src, nil
}

// Exists implements Loader.
func (m *MemoryLoader) Exists(d descriptor.Descriptor) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sources[d.Key()]
	return ok
}

// Find implements Loader.
func (m *MemoryLoader) Find(f descriptor.Filter) ([]descriptor.Descriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []descriptor.Descriptor
	for _, src := range m.sources {
		if f.Match(src.Descriptor) {
			out = append(out, src.Descriptor)
		}
	}
	slices.SortFunc(out, descriptor.Compare)
	return out, nil
}

// Namespaces implements Loader.
func (m *MemoryLoader) Namespaces() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, src := range m.sources {
		seen[strings.ToLower(src.Descriptor.Namespace())] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	slices.Sort(out)
	return out, nil
}
