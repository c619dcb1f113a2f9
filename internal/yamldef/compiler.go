// Package yamldef compiles YAML bundle sources into definitions.
//
// Markup sources (.cmp, .app, .intf, .evt, .lib, .tokens, .flavors) are YAML
// documents. Script and style sources compile to leaf definitions. Components
// and applications without an explicit parent extend the base prototype
// (markup://aura:component or markup://aura:application), which Builtins
// supplies.
package yamldef

import (
	"context"
	"strings"

	"github.com/zjrosen/defreg/internal/definition"
	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/source"
)

// Base prototypes.
var (
	BaseComponent   = descriptor.MustParse("markup://aura:component", descriptor.Component)
	BaseApplication = descriptor.MustParse("markup://aura:application", descriptor.Application)
)

// memberTypes are the bundle members picked up next to a component or
// application source.
var memberTypes = []descriptor.DefType{
	descriptor.Controller,
	descriptor.Renderer,
	descriptor.Helper,
	descriptor.Provider,
	descriptor.Model,
	descriptor.Style,
	descriptor.FlavoredStyle,
}

// Compiler implements source.Compiler for YAML bundles.
type Compiler struct {
	// Prefixes fills missing schemes in references. Nil uses
	// descriptor.DefaultPrefixes.
	Prefixes descriptor.PrefixDefaults
}

var _ source.Compiler = (*Compiler)(nil)

// New creates a compiler using the given prefix defaults.
func New(prefixes descriptor.PrefixDefaults) *Compiler {
	return &Compiler{Prefixes: prefixes}
}

// Compile implements source.Compiler.
func (c *Compiler) Compile(_ context.Context, src source.Source, env source.Env) (definition.Definition, error) {
	d := src.Descriptor
	switch src.Format {
	case source.FormatJS, source.FormatCSS:
		return &LeafDef{desc: d, hash: src.Hash(), body: string(src.Contents)}, nil
	}
	return c.compileBundle(src, env)
}

func (c *Compiler) compileBundle(src source.Source, env source.Env) (*BundleDef, error) {
	d := src.Descriptor
	doc, err := parseDocument(src.Contents)
	if err != nil {
		return nil, definition.Invalid(d, "%s", err.Error())
	}

	if doc.Kind != "" {
		kind, err := descriptor.ParseDefType(doc.Kind)
		if err != nil || kind != d.DefType() {
			return nil, definition.Invalid(d, "Invalid kind %q for %s %s", doc.Kind, d.DefType(), d.QualifiedName())
		}
	}

	access, ok := definition.ParseAccess(doc.Access)
	if !ok {
		return nil, definition.Invalid(d, "Invalid access %q", doc.Access)
	}
	support, ok := definition.ParseSupportLevel(doc.Support)
	if !ok {
		return nil, definition.Invalid(d, "Invalid support level %q", doc.Support)
	}

	b := &BundleDef{
		desc:        d,
		hash:        src.Hash(),
		access:      access,
		abstract:    doc.Abstract,
		extensible:  doc.Extensible,
		support:     support,
		tokens:      doc.Tokens,
		description: doc.Description,
	}

	if doc.Extends != "" {
		parent, err := c.ref(d, doc.Extends, d.DefType())
		if err != nil {
			return nil, err
		}
		b.extends = &parent
	} else if base, ok := implicitBase(d); ok {
		b.extends = &base
	}

	if b.implements, err = c.refs(d, doc.Implements, descriptor.Interface); err != nil {
		return nil, err
	}
	if b.components, err = c.refs(d, doc.Components, descriptor.Component); err != nil {
		return nil, err
	}
	if b.events, err = c.refs(d, doc.Events, descriptor.Event); err != nil {
		return nil, err
	}
	for _, dep := range doc.Dependencies {
		t := descriptor.Component
		if dep.Type != "" {
			if t, err = descriptor.ParseDefType(dep.Type); err != nil {
				return nil, definition.Invalid(d, "Invalid dependency type %q", dep.Type)
			}
		}
		ref, err := c.ref(d, dep.Descriptor, t)
		if err != nil {
			return nil, err
		}
		b.explicit = append(b.explicit, ref)
	}

	for _, a := range doc.Attributes {
		b.attributes = append(b.attributes, Attribute(a))
	}

	if env != nil && hasMembers(d.DefType()) {
		for _, t := range memberTypes {
			m := descriptor.Associate(d, t, string(source.FormatFor(t)))
			if env.Exists(m) {
				b.members = append(b.members, m)
			}
		}
	}
	return b, nil
}

func (c *Compiler) ref(owner descriptor.Descriptor, raw string, t descriptor.DefType) (descriptor.Descriptor, error) {
	if strings.TrimSpace(raw) == "" {
		return descriptor.Descriptor{}, definition.Invalid(owner, "Empty %s reference in %s", t, owner.QualifiedName())
	}
	ref, err := descriptor.Parse(raw, t, c.prefixes())
	if err != nil {
		return descriptor.Descriptor{}, definition.Invalid(owner, "Invalid %s reference %q in %s: %v", t, raw, owner.QualifiedName(), err)
	}
	return ref, nil
}

func (c *Compiler) refs(owner descriptor.Descriptor, raws []string, t descriptor.DefType) ([]descriptor.Descriptor, error) {
	out := make([]descriptor.Descriptor, 0, len(raws))
	for _, raw := range raws {
		ref, err := c.ref(owner, raw, t)
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, nil
}

func (c *Compiler) prefixes() descriptor.PrefixDefaults {
	if c.Prefixes == nil {
		return descriptor.DefaultPrefixes
	}
	return c.Prefixes
}

func implicitBase(d descriptor.Descriptor) (descriptor.Descriptor, bool) {
	var base descriptor.Descriptor
	switch d.DefType() {
	case descriptor.Component:
		base = BaseComponent
	case descriptor.Application:
		base = BaseApplication
	default:
		return descriptor.Descriptor{}, false
	}
	if base.Equal(d) {
		return descriptor.Descriptor{}, false
	}
	return base, true
}

func hasMembers(t descriptor.DefType) bool {
	return t == descriptor.Component || t == descriptor.Application
}
