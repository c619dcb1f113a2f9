// Package source models raw artifact sources and the loaders that serve them.
//
// A Loader owns a slice of descriptor space (for example one directory tree or
// one database) and serves Source values by descriptor. A Registry pairs a
// Loader with a Compiler and exposes the pair to the definition registry as a
// sub-registry.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/defreg/internal/definition"
	"github.com/zjrosen/defreg/internal/descriptor"
)

// ErrNoSource is returned by a Loader that has no source for a descriptor.
var ErrNoSource = errors.New("no source")

// Format names the dialect of a source body.
type Format string

const (
	FormatMarkup Format = "markup"
	FormatJS     Format = "js"
	FormatCSS    Format = "css"
)

// FormatFor returns the dialect used by descriptors of type t.
func FormatFor(t descriptor.DefType) Format {
	switch t {
	case descriptor.Style, descriptor.FlavoredStyle:
		return FormatCSS
	case descriptor.Controller, descriptor.Renderer, descriptor.Helper,
		descriptor.Provider, descriptor.Model, descriptor.TestSuite, descriptor.Include:
		return FormatJS
	default:
		return FormatMarkup
	}
}

// Source is the raw body of one artifact.
type Source struct {
	Descriptor   descriptor.Descriptor
	Contents     []byte
	Format       Format
	Origin       string
	LastModified time.Time
}

// Hash returns the own hash of the source body.
func (s Source) Hash() string {
	return definition.HashSource(s.Contents)
}

// ChangeKind classifies a source change event.
type ChangeKind int

const (
	Created ChangeKind = iota
	Changed
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "CREATED"
	case Changed:
		return "CHANGED"
	case Deleted:
		return "DELETED"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// Change describes one source change. A nil Descriptor means the change could
// not be attributed and every cache must be discarded.
type Change struct {
	Descriptor *descriptor.Descriptor
	Kind       ChangeKind
	Origin     string
}

// Loader serves sources for part of descriptor space.
type Loader interface {
	Name() string
	Load(d descriptor.Descriptor) (Source, error)
	Exists(d descriptor.Descriptor) bool
	Find(f descriptor.Filter) ([]descriptor.Descriptor, error)
	Namespaces() ([]string, error)
}

// Env is what a compiler may learn about neighbouring sources.
type Env interface {
	// Exists reports whether a source for d is available in the same loader.
	Exists(d descriptor.Descriptor) bool
}

// Compiler turns a Source into a Definition. Returning a *definition.Error
// marks a correctable failure; any other error is an internal fault.
type Compiler interface {
	Compile(ctx context.Context, src Source, env Env) (definition.Definition, error)
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(ctx context.Context, src Source, env Env) (definition.Definition, error)

// Compile implements Compiler.
func (f CompilerFunc) Compile(ctx context.Context, src Source, env Env) (definition.Definition, error) {
	return f(ctx, src, env)
}
