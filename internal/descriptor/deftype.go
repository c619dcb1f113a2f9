package descriptor

import (
	"fmt"
	"strings"
)

// DefType discriminates the kind of artifact a descriptor names.
// The ordinal order is significant: Compare falls back to it when two
// descriptors share a qualified name.
type DefType int

const (
	Application DefType = iota
	Component
	Interface
	Event
	Library
	Tokens
	Flavors
	Controller
	Renderer
	Helper
	Provider
	Model
	Style
	FlavoredStyle
	TestSuite
	Type
	Include
	Documentation
)

// Grammar selects how a raw descriptor string is split.
type Grammar int

const (
	// TagGrammar is prefix://namespace:name (markup artifacts).
	TagGrammar Grammar = iota
	// ClassGrammar is prefix://namespace.name (script, style and host types).
	ClassGrammar
)

// MarkupPrefix is the scheme of every tag-grammar descriptor.
const MarkupPrefix = "markup"

var defTypeNames = map[DefType]string{
	Application:   "APPLICATION",
	Component:     "COMPONENT",
	Interface:     "INTERFACE",
	Event:         "EVENT",
	Library:       "LIBRARY",
	Tokens:        "TOKENS",
	Flavors:       "FLAVORS",
	Controller:    "CONTROLLER",
	Renderer:      "RENDERER",
	Helper:        "HELPER",
	Provider:      "PROVIDER",
	Model:         "MODEL",
	Style:         "STYLE",
	FlavoredStyle: "FLAVORED_STYLE",
	TestSuite:     "TESTSUITE",
	Type:          "TYPE",
	Include:       "INCLUDE",
	Documentation: "DOCUMENTATION",
}

func (t DefType) String() string {
	if name, ok := defTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("DEFTYPE(%d)", int(t))
}

// Grammar returns the parsing grammar used for descriptors of this type.
func (t DefType) Grammar() Grammar {
	switch t {
	case Controller, Renderer, Helper, Provider, Model, Style, FlavoredStyle,
		TestSuite, Type, Include:
		return ClassGrammar
	default:
		return TagGrammar
	}
}

// AllDefTypes returns every known DefType in ordinal order.
func AllDefTypes() []DefType {
	types := make([]DefType, 0, len(defTypeNames))
	for t := Application; t <= Documentation; t++ {
		types = append(types, t)
	}
	return types
}

// ParseDefType converts a name such as "COMPONENT" or "flavored_style".
func ParseDefType(s string) (DefType, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for t, name := range defTypeNames {
		if name == upper {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown def type %q", s)
}

// PrefixDefaults supplies the scheme used when a raw descriptor omits one.
// A request context implements it; DefaultPrefixes is the static fallback.
type PrefixDefaults interface {
	DefaultPrefix(t DefType) string
}

// PrefixMap is a PrefixDefaults backed by a map.
type PrefixMap map[DefType]string

// DefaultPrefix implements PrefixDefaults.
func (m PrefixMap) DefaultPrefix(t DefType) string {
	if p, ok := m[t]; ok {
		return p
	}
	if t.Grammar() == TagGrammar {
		return MarkupPrefix
	}
	return ""
}

// DefaultPrefixes is the prefix table used when no context overrides it.
var DefaultPrefixes = PrefixMap{
	Controller:    "js",
	Renderer:      "js",
	Helper:        "js",
	Provider:      "js",
	TestSuite:     "js",
	Include:       "js",
	Model:         "java",
	Type:          "java",
	Style:         "css",
	FlavoredStyle: "css",
}
