package yamldef

import (
	"strings"

	"github.com/zjrosen/defreg/internal/definition"
	"github.com/zjrosen/defreg/internal/descriptor"
)

// Attribute is a declared attribute of a bundle definition.
type Attribute struct {
	Name     string
	Type     string
	Default  string
	Required bool
}

// BundleDef is the compiled form of a markup bundle: component, application,
// interface, event, library, tokens or flavors.
type BundleDef struct {
	desc       descriptor.Descriptor
	hash       string
	access     definition.Access
	abstract   bool
	extensible bool
	support    definition.SupportLevel

	extends    *descriptor.Descriptor
	implements []descriptor.Descriptor
	components []descriptor.Descriptor
	events     []descriptor.Descriptor
	explicit   []descriptor.Descriptor
	members    []descriptor.Descriptor

	attributes  []Attribute
	tokens      map[string]string
	description string
}

var (
	_ definition.Definition  = (*BundleDef)(nil)
	_ definition.Inheritable = (*BundleDef)(nil)
)

func (b *BundleDef) Descriptor() descriptor.Descriptor { return b.desc }
func (b *BundleDef) OwnHash() string                   { return b.hash }
func (b *BundleDef) Access() definition.Access         { return b.access }
func (b *BundleDef) Extensible() bool                  { return b.extensible }
func (b *BundleDef) Abstract() bool                    { return b.abstract }
func (b *BundleDef) Support() definition.SupportLevel  { return b.support }

// Extends returns the parent descriptor, or nil.
func (b *BundleDef) Extends() *descriptor.Descriptor { return b.extends }

// Attributes returns the declared attributes in declaration order.
func (b *BundleDef) Attributes() []Attribute { return b.attributes }

// Members returns the bundle members discovered next to the markup source.
func (b *BundleDef) Members() []descriptor.Descriptor { return b.members }

// Dependencies returns the parent, interfaces, nested components, events,
// explicit dependencies and bundle members, without duplicates.
func (b *BundleDef) Dependencies() []descriptor.Descriptor {
	seen := make(map[string]struct{})
	var out []descriptor.Descriptor
	add := func(ds ...descriptor.Descriptor) {
		for _, d := range ds {
			if _, ok := seen[d.Key()]; ok {
				continue
			}
			seen[d.Key()] = struct{}{}
			out = append(out, d)
		}
	}
	if b.extends != nil {
		add(*b.extends)
	}
	add(b.implements...)
	add(b.components...)
	add(b.events...)
	add(b.explicit...)
	add(b.members...)
	return out
}

// ValidateLocal checks the bundle in isolation.
func (b *BundleDef) ValidateLocal() error {
	if b.abstract && !b.extensible {
		return definition.Invalid(b.desc, "Abstract %s %s must be extensible", b.desc.DefType(), b.desc.QualifiedName())
	}

	seen := make(map[string]struct{}, len(b.attributes))
	for _, a := range b.attributes {
		if strings.TrimSpace(a.Name) == "" {
			return definition.Invalid(b.desc, "Attribute name is required in %s", b.desc.QualifiedName())
		}
		key := strings.ToLower(a.Name)
		if _, dup := seen[key]; dup {
			return definition.Invalid(b.desc, "Duplicate attribute %q in %s", a.Name, b.desc.QualifiedName())
		}
		seen[key] = struct{}{}
	}

	for name := range b.tokens {
		if strings.TrimSpace(name) == "" {
			return definition.Invalid(b.desc, "Token name is required in %s", b.desc.QualifiedName())
		}
	}

	if b.extends != nil && b.extends.Equal(b.desc) {
		return definition.Invalid(b.desc, "%s cannot extend itself", b.desc.QualifiedName())
	}
	return nil
}

// ValidateReferences resolves every dependency, checks access to it, and
// applies the inheritance rules to the parent.
func (b *BundleDef) ValidateReferences(r definition.Resolver) error {
	self := b.desc
	for _, dep := range b.Dependencies() {
		target, err := r.Resolve(dep)
		if err != nil {
			return err
		}
		if err := r.AssertAccess(&self, target); err != nil {
			return err
		}
	}

	if b.extends == nil {
		return nil
	}
	parent, err := r.Resolve(*b.extends)
	if err != nil {
		return err
	}
	inh, ok := parent.(definition.Inheritable)
	if !ok {
		return definition.Invalid(self, "%s cannot extend %s", self.QualifiedName(), b.extends.QualifiedName())
	}
	if !inh.Extensible() {
		return definition.Invalid(self, "%s cannot extend non-extensible %s", self.QualifiedName(), b.extends.QualifiedName())
	}
	if b.support > inh.Support() {
		return definition.Invalid(self, "%s cannot widen the support level to %s from %s's level of %s",
			self.QualifiedName(), b.support, b.extends.QualifiedName(), inh.Support())
	}
	return nil
}

// Serialize implements definition.Definition.
func (b *BundleDef) Serialize() map[string]any {
	out := map[string]any{
		"descriptor": b.desc.QualifiedName(),
		"defType":    b.desc.DefType().String(),
		"access":     b.access.String(),
		"support":    b.support.String(),
		"abstract":   b.abstract,
		"extensible": b.extensible,
		"ownHash":    b.hash,
	}
	if b.extends != nil {
		out["extends"] = b.extends.QualifiedName()
	}
	if b.description != "" {
		out["description"] = b.description
	}
	if len(b.attributes) > 0 {
		attrs := make([]map[string]any, len(b.attributes))
		for i, a := range b.attributes {
			attrs[i] = map[string]any{"name": a.Name, "type": a.Type, "required": a.Required}
			if a.Default != "" {
				attrs[i]["default"] = a.Default
			}
		}
		out["attributes"] = attrs
	}
	if len(b.tokens) > 0 {
		out["tokens"] = b.tokens
	}
	deps := b.Dependencies()
	if len(deps) > 0 {
		names := make([]string, len(deps))
		for i, d := range deps {
			names[i] = d.DefType().String() + ":" + d.QualifiedName()
		}
		out["dependencies"] = names
	}
	return out
}
