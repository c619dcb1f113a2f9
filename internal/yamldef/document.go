package yamldef

import (
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the root structure of a markup bundle source.
type Document struct {
	Kind         string            `yaml:"kind"`         // component, application, interface, event, library, tokens, flavors
	Access       string            `yaml:"access"`       // global, public, private, internal
	Description  string            `yaml:"description"`  // Free text, ignored by validation
	Extends      string            `yaml:"extends"`      // Parent descriptor, same kind
	Implements   []string          `yaml:"implements"`   // Interface descriptors
	Abstract     bool              `yaml:"abstract"`     // Requires extensible
	Extensible   bool              `yaml:"extensible"`   // Whether children may extend this
	Support      string            `yaml:"support"`      // PROTO, DEPRECATED, BETA, GA
	Attributes   []AttributeDoc    `yaml:"attributes"`   // Declared attributes
	Components   []string          `yaml:"components"`   // Nested component references
	Events       []string          `yaml:"events"`       // Registered events
	Dependencies []DependencyDoc   `yaml:"dependencies"` // Explicit dependency tags
	Tokens       map[string]string `yaml:"tokens"`       // Token values (tokens kind only)
}

// AttributeDoc declares one attribute.
type AttributeDoc struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Default  string `yaml:"default"`
	Required bool   `yaml:"required"`
}

// DependencyDoc is an explicit dependency. It accepts either a bare
// descriptor string (a component) or a mapping with descriptor and type.
type DependencyDoc struct {
	Descriptor string `yaml:"descriptor"`
	Type       string `yaml:"type"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *DependencyDoc) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		d.Descriptor = node.Value
		return nil
	}
	type plain DependencyDoc
	return node.Decode((*plain)(d))
}

var knownKeys = []string{
	"kind", "access", "description", "extends", "implements", "abstract", "extensible",
	"support", "attributes", "components", "events", "dependencies", "tokens",
}

// errUnknownKey is returned by parseDocument for an unrecognized top-level key.
type errUnknownKey string

func (e errUnknownKey) Error() string {
	return fmt.Sprintf("Invalid attribute %q", string(e))
}

// parseDocument decodes body. An empty body is an empty document.
func parseDocument(body []byte) (Document, error) {
	var doc Document
	if strings.TrimSpace(string(body)) == "" {
		return doc, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(body, &root); err != nil {
		return doc, fmt.Errorf("parse yaml: %w", err)
	}
	if len(root.Content) == 0 {
		return doc, nil
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return doc, fmt.Errorf("parse yaml: top level must be a mapping")
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := mapping.Content[i].Value
		if !slices.Contains(knownKeys, key) {
			return doc, errUnknownKey(key)
		}
	}
	if err := mapping.Decode(&doc); err != nil {
		return doc, fmt.Errorf("parse yaml: %w", err)
	}
	return doc, nil
}
