package testutil

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// bundleData is the YAML body of a markup bundle being built.
type bundleData struct {
	Kind         string          `yaml:"kind"`
	Access       string          `yaml:"access,omitempty"`
	Description  string          `yaml:"description,omitempty"`
	Extends      string          `yaml:"extends,omitempty"`
	Implements   []string        `yaml:"implements,omitempty"`
	Abstract     bool            `yaml:"abstract,omitempty"`
	Extensible   bool            `yaml:"extensible,omitempty"`
	Support      string          `yaml:"support,omitempty"`
	Attributes   []attributeData `yaml:"attributes,omitempty"`
	Components   []string        `yaml:"components,omitempty"`
	Events       []string        `yaml:"events,omitempty"`
	Dependencies []dependency    `yaml:"dependencies,omitempty"`
}

type attributeData struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type,omitempty"`
	Required bool   `yaml:"required,omitempty"`
}

type dependency struct {
	Descriptor string `yaml:"descriptor"`
	Type       string `yaml:"type,omitempty"`
}

func (b bundleData) render() (string, error) {
	out, err := yaml.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("render bundle: %w", err)
	}
	return string(out), nil
}

// BundleOption configures a markup bundle during builder setup.
type BundleOption func(*bundleData)

// Access sets the declared access (global, public, private, internal).
func Access(a string) BundleOption {
	return func(b *bundleData) { b.Access = a }
}

// Global is Access("global").
func Global() BundleOption { return Access("global") }

// Description sets the free text description.
func Description(desc string) BundleOption {
	return func(b *bundleData) { b.Description = desc }
}

// Extends sets the parent descriptor.
func Extends(parent string) BundleOption {
	return func(b *bundleData) { b.Extends = parent }
}

// Implements adds interface references (nested option).
func Implements(interfaces ...string) BundleOption {
	return func(b *bundleData) { b.Implements = append(b.Implements, interfaces...) }
}

// Components adds nested component references (nested option).
func Components(components ...string) BundleOption {
	return func(b *bundleData) { b.Components = append(b.Components, components...) }
}

// Events adds registered event references (nested option).
func Events(events ...string) BundleOption {
	return func(b *bundleData) { b.Events = append(b.Events, events...) }
}

// DependsOn adds an explicit dependency. An empty defType means COMPONENT.
func DependsOn(raw, defType string) BundleOption {
	return func(b *bundleData) {
		b.Dependencies = append(b.Dependencies, dependency{Descriptor: raw, Type: defType})
	}
}

// Abstract marks the bundle abstract. It also marks it extensible, which
// abstract bundles require.
func Abstract() BundleOption {
	return func(b *bundleData) {
		b.Abstract = true
		b.Extensible = true
	}
}

// Extensible allows children to extend the bundle.
func Extensible() BundleOption {
	return func(b *bundleData) { b.Extensible = true }
}

// Support sets the support level (PROTO, DEPRECATED, BETA, GA).
func Support(level string) BundleOption {
	return func(b *bundleData) { b.Support = level }
}

// Attribute declares an attribute.
func Attribute(name, typ string) BundleOption {
	return func(b *bundleData) {
		b.Attributes = append(b.Attributes, attributeData{Name: name, Type: typ})
	}
}

// RequiredAttribute declares a required attribute.
func RequiredAttribute(name, typ string) BundleOption {
	return func(b *bundleData) {
		b.Attributes = append(b.Attributes, attributeData{Name: name, Type: typ, Required: true})
	}
}
