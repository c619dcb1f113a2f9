package yamldef

import (
	"strings"

	"github.com/zjrosen/defreg/internal/definition"
	"github.com/zjrosen/defreg/internal/descriptor"
)

// LeafDef is a script or style bundle member. It has no dependencies.
type LeafDef struct {
	desc descriptor.Descriptor
	hash string
	body string
}

var _ definition.Definition = (*LeafDef)(nil)

func (l *LeafDef) Descriptor() descriptor.Descriptor     { return l.desc }
func (l *LeafDef) OwnHash() string                       { return l.hash }
func (l *LeafDef) Dependencies() []descriptor.Descriptor { return nil }
func (l *LeafDef) Access() definition.Access             { return definition.AccessPublic }

// ValidateLocal rejects unbalanced braces.
func (l *LeafDef) ValidateLocal() error {
	depth := 0
	for _, r := range l.body {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
		}
		if depth < 0 {
			break
		}
	}
	if depth != 0 {
		return definition.Invalid(l.desc, "Unbalanced braces in %s %s", l.desc.DefType(), l.desc.QualifiedName())
	}
	return nil
}

func (l *LeafDef) ValidateReferences(definition.Resolver) error { return nil }

// Serialize implements definition.Definition.
func (l *LeafDef) Serialize() map[string]any {
	return map[string]any{
		"descriptor": l.desc.QualifiedName(),
		"defType":    l.desc.DefType().String(),
		"ownHash":    l.hash,
		"lines":      strings.Count(l.body, "\n") + 1,
	}
}
