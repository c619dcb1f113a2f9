package registry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/zjrosen/defreg/internal/definition"
	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/policy"
)

// Context is the state of one request. It carries the local overlay, the
// default prefixes used to parse raw descriptors and request-scoped memos
// that never leave the request. A Context must not be shared between
// requests.
type Context struct {
	id       string
	prefixes descriptor.PrefixMap

	mu       sync.Mutex
	overlay  map[string]*definition.Tracked
	defs     map[string]*definition.Tracked
	uids     map[string]string
	deps     map[string]DependencyEntry
	failures map[string]error
	access   map[string]policy.Decision
}

var _ descriptor.PrefixDefaults = (*Context)(nil)

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithPrefixes overrides default prefixes per DefType.
func WithPrefixes(prefixes descriptor.PrefixMap) ContextOption {
	return func(c *Context) {
		for t, p := range prefixes {
			c.prefixes[t] = p
		}
	}
}

// WithID sets the request ID. The default is a random UUID.
func WithID(id string) ContextOption {
	return func(c *Context) { c.id = id }
}

// NewContext creates an empty request context.
func NewContext(opts ...ContextOption) *Context {
	c := &Context{
		id:       uuid.NewString(),
		prefixes: make(descriptor.PrefixMap),
		overlay:  make(map[string]*definition.Tracked),
		defs:     make(map[string]*definition.Tracked),
		uids:     make(map[string]string),
		deps:     make(map[string]DependencyEntry),
		failures: make(map[string]error),
		access:   make(map[string]policy.Decision),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the request ID.
func (c *Context) ID() string { return c.id }

// DefaultPrefix implements descriptor.PrefixDefaults.
func (c *Context) DefaultPrefix(t descriptor.DefType) string {
	if p, ok := c.prefixes[t]; ok {
		return p
	}
	return descriptor.DefaultPrefixes.DefaultPrefix(t)
}

// Parse canonicalizes raw with this context's default prefixes.
func (c *Context) Parse(raw string, t descriptor.DefType) (descriptor.Descriptor, error) {
	return descriptor.Parse(raw, t, c)
}

// AddLocalDef places def in the overlay, shadowing every other source of its
// descriptor for this request. The request's UID, dependency and failure
// memos are discarded since they may no longer hold.
func (c *Context) AddLocalDef(def definition.Definition) {
	key := def.Descriptor().Key()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overlay[key] = definition.Track(def)
	delete(c.defs, key)
	clear(c.uids)
	clear(c.deps)
	clear(c.failures)
	clear(c.access)
}

// LocalDef returns the overlay definition for d.
func (c *Context) LocalDef(d descriptor.Descriptor) (definition.Definition, bool) {
	t, ok := c.overlayDef(d.Key())
	if !ok {
		return nil, false
	}
	return t.Definition(), true
}

// LocalDefs returns every overlay descriptor.
func (c *Context) LocalDefs() []descriptor.Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]descriptor.Descriptor, 0, len(c.overlay))
	for _, t := range c.overlay {
		out = append(out, t.Definition().Descriptor())
	}
	return out
}

func (c *Context) hasOverlay() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.overlay) > 0
}

func (c *Context) overlayDef(key string) (*definition.Tracked, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.overlay[key]
	return t, ok
}

func (c *Context) cachedDef(key string) (*definition.Tracked, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.defs[key]
	return t, ok
}

func (c *Context) storeDef(key string, t *definition.Tracked) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, shadowed := c.overlay[key]; shadowed {
		return
	}
	c.defs[key] = t
}

func (c *Context) memoUID(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uid, ok := c.uids[key]
	return uid, ok
}

func (c *Context) storeUID(key string, entry DependencyEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.uids[key]; !ok {
		c.uids[key] = entry.UID
	}
	c.deps[entry.UID] = entry
}

func (c *Context) dependencies(uid string) (DependencyEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.deps[uid]
	return e, ok
}

// failure returns the recorded closure failure for key, or nil.
func (c *Context) failure(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[key]
}

func (c *Context) storeFailure(key string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[key] = err
}

func (c *Context) accessDecision(key string) (policy.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.access[key]
	return d, ok
}

func (c *Context) storeAccess(key string, d policy.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.access[key] = d
}
