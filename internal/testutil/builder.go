// Package testutil builds artifact sources and instrumented collaborators for
// registry tests.
package testutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/source"
)

// entry is one source to be written.
type entry struct {
	raw     string
	defType descriptor.DefType
	bundle  *bundleData
	body    string
}

// Builder accumulates sources and writes them into a loader.
type Builder struct {
	t       *testing.T
	name    string
	entries []entry
}

// NewBuilder creates a builder. The built loader is named "test".
func NewBuilder(t *testing.T) *Builder {
	t.Helper()
	return &Builder{t: t, name: "test"}
}

// Named sets the name of the built loader.
func (b *Builder) Named(name string) *Builder {
	b.name = name
	return b
}

func (b *Builder) withBundle(raw string, t descriptor.DefType, opts []BundleOption) *Builder {
	data := &bundleData{Kind: strings.ToLower(t.String())}
	for _, opt := range opts {
		opt(data)
	}
	b.entries = append(b.entries, entry{raw: raw, defType: t, bundle: data})
	return b
}

// WithComponent adds a component bundle with optional configuration.
func (b *Builder) WithComponent(raw string, opts ...BundleOption) *Builder {
	return b.withBundle(raw, descriptor.Component, opts)
}

// WithApplication adds an application bundle with optional configuration.
func (b *Builder) WithApplication(raw string, opts ...BundleOption) *Builder {
	return b.withBundle(raw, descriptor.Application, opts)
}

// WithInterface adds an interface bundle with optional configuration.
func (b *Builder) WithInterface(raw string, opts ...BundleOption) *Builder {
	return b.withBundle(raw, descriptor.Interface, opts)
}

// WithEvent adds an event bundle with optional configuration.
func (b *Builder) WithEvent(raw string, opts ...BundleOption) *Builder {
	return b.withBundle(raw, descriptor.Event, opts)
}

// WithSource adds a raw source body of any type.
func (b *Builder) WithSource(raw string, t descriptor.DefType, body string) *Builder {
	b.entries = append(b.entries, entry{raw: raw, defType: t, body: body})
	return b
}

// WithController adds the client controller of the bundle named by raw
// (ns:name).
func (b *Builder) WithController(raw, body string) *Builder {
	return b.WithSource("js://"+classForm(raw), descriptor.Controller, body)
}

// WithStyle adds the stylesheet of the bundle named by raw (ns:name).
func (b *Builder) WithStyle(raw, body string) *Builder {
	return b.WithSource("css://"+classForm(raw), descriptor.Style, body)
}

func classForm(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		raw = raw[i+3:]
	}
	return strings.Replace(raw, ":", ".", 1)
}

// Build writes every accumulated source into a new loader.
func (b *Builder) Build() *source.MemoryLoader {
	b.t.Helper()
	loader := source.NewMemoryLoader(b.name)
	b.Into(loader)
	return loader
}

// Into writes every accumulated source into loader.
func (b *Builder) Into(loader *source.MemoryLoader) {
	b.t.Helper()
	for _, e := range b.entries {
		d, err := descriptor.Parse(e.raw, e.defType, nil)
		require.NoError(b.t, err, "descriptor %q", e.raw)

		body := e.body
		if e.bundle != nil {
			body, err = e.bundle.render()
			require.NoError(b.t, err)
		}
		loader.Put(d, body)
	}
}
