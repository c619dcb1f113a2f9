// Package descriptor implements the canonical identity of every compiled artifact.
//
// A Descriptor is an immutable value built from a raw string and a requested
// DefType. Two grammars exist:
//   - tag grammar, used by markup artifacts: markup://namespace:name
//   - class grammar, used by script, style and host types: js://namespace.name
//
// Equality and ordering ignore case on the prefix, namespace and name. The
// owning bundle participates in equality, so a sub-artifact of one bundle is
// distinct from an identically named sub-artifact of another.
//
// Descriptors are the universal cache key of the registry. Use Key for map
// keys and Compare for deterministic ordering.
package descriptor

import (
	"fmt"
	"strings"
)

// Descriptor identifies one artifact. The zero value is not a valid descriptor.
type Descriptor struct {
	prefix         string
	namespace      string
	name           string
	nameParameters string
	defType        DefType
	bundle         *Descriptor

	qualifiedName  string
	descriptorName string
	key            string
}

// New builds a descriptor from already split parts. An empty prefix is left
// empty; callers that need defaulting should go through Parse.
func New(prefix, namespace, name string, t DefType) Descriptor {
	return build(prefix, namespace, name, "", t, nil)
}

func build(prefix, namespace, name, params string, t DefType, bundle *Descriptor) Descriptor {
	d := Descriptor{
		prefix:         prefix,
		namespace:      namespace,
		name:           name,
		nameParameters: params,
		defType:        t,
		bundle:         bundle,
	}
	d.qualifiedName = buildQualifiedName(prefix, namespace, name+params)
	d.descriptorName = buildDescriptorName(prefix, namespace, name+params)
	d.key = makeKey(d)
	return d
}

func buildQualifiedName(prefix, namespace, name string) string {
	if namespace == "" {
		return fmt.Sprintf("%s://%s", prefix, name)
	}
	if prefix == MarkupPrefix {
		return fmt.Sprintf("%s://%s:%s", prefix, namespace, name)
	}
	return fmt.Sprintf("%s://%s.%s", prefix, namespace, name)
}

func buildDescriptorName(prefix, namespace, name string) string {
	if namespace == "" {
		return name
	}
	if prefix == MarkupPrefix {
		return namespace + ":" + name
	}
	return namespace + "." + name
}

func makeKey(d Descriptor) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(d.qualifiedName))
	b.WriteByte('@')
	b.WriteString(d.defType.String())
	if d.bundle != nil {
		b.WriteByte('^')
		b.WriteString(d.bundle.key)
	}
	return b.String()
}

// Prefix returns the scheme, e.g. "markup" or "js".
func (d Descriptor) Prefix() string { return d.prefix }

// Namespace returns the namespace, possibly empty.
func (d Descriptor) Namespace() string { return d.namespace }

// Name returns the bare name without namespace or parameters.
func (d Descriptor) Name() string { return d.name }

// NameParameters returns the generic parameters of a TYPE descriptor, e.g. "<String>".
func (d Descriptor) NameParameters() string { return d.nameParameters }

// DefType returns the artifact kind.
func (d Descriptor) DefType() DefType { return d.defType }

// Bundle returns the owning bundle, or nil.
func (d Descriptor) Bundle() *Descriptor { return d.bundle }

// QualifiedName returns the full form, e.g. markup://ui:button.
func (d Descriptor) QualifiedName() string { return d.qualifiedName }

// DescriptorName returns the short form, e.g. ui:button or ui.buttonController.
func (d Descriptor) DescriptorName() string { return d.descriptorName }

// Key returns a case-folded string unique per identity, suitable as a map key.
func (d Descriptor) Key() string { return d.key }

// IsZero reports whether d is the zero value.
func (d Descriptor) IsZero() bool { return d.key == "" }

// String returns the qualified name.
func (d Descriptor) String() string { return d.qualifiedName }

// Equal compares identities case-insensitively, bundle included.
func (d Descriptor) Equal(other Descriptor) bool {
	return d.key == other.key
}

// WithBundle returns a copy of d owned by bundle.
func (d Descriptor) WithBundle(bundle Descriptor) Descriptor {
	b := bundle
	return build(d.prefix, d.namespace, d.name, d.nameParameters, d.defType, &b)
}

// Associate derives a sibling descriptor sharing namespace and name under a new
// prefix and type. Used for bundle-implicit artifacts such as the controller of
// a component. The result has no bundle.
func Associate(base Descriptor, t DefType, prefix string) Descriptor {
	return build(prefix, base.namespace, base.name, "", t, nil)
}

// Compare orders descriptors by qualified name (ignoring case), then DefType,
// then bundle. A nil bundle sorts before any bundle.
func Compare(a, b Descriptor) int {
	if v := compareFold(a.qualifiedName, b.qualifiedName); v != 0 {
		return v
	}
	if a.defType != b.defType {
		if a.defType < b.defType {
			return -1
		}
		return 1
	}
	return compareBundle(a.bundle, b.bundle)
}

func compareBundle(a, b *Descriptor) int {
	switch {
	case a == b:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return Compare(*a, *b)
}

func compareFold(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}
