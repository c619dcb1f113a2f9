package descriptor

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMalformedIdentifier is returned when a raw string cannot be split into
// prefix, namespace and name for the requested DefType.
var ErrMalformedIdentifier = errors.New("malformed identifier")

var (
	tagPattern   = regexp.MustCompile(`^(?:([\w*]+)://)?(?:([\w\-*]+):)?([\w$*\-]+)$`)
	classPattern = regexp.MustCompile(`^(?:([\w*]+)://)?(?:([\w\-*.]+)\.)?([\w$*\-]+)(<[\w\s,<>*.]*>)?$`)
)

// Parse canonicalizes raw into a Descriptor of type t. A missing prefix is
// filled from defaults (DefaultPrefixes when nil).
func Parse(raw string, t DefType, defaults PrefixDefaults) (Descriptor, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Descriptor{}, fmt.Errorf("%w: descriptor is required", ErrMalformedIdentifier)
	}
	if defaults == nil {
		defaults = DefaultPrefixes
	}

	var prefix, namespace, name, params string
	switch t.Grammar() {
	case TagGrammar:
		m := tagPattern.FindStringSubmatch(trimmed)
		if m == nil {
			return Descriptor{}, fmt.Errorf("%w: invalid descriptor format: %s[%s]", ErrMalformedIdentifier, raw, t)
		}
		prefix, namespace, name = m[1], m[2], m[3]
	default:
		m := classPattern.FindStringSubmatch(trimmed)
		if m == nil {
			return Descriptor{}, fmt.Errorf("%w: invalid descriptor format: %s[%s]", ErrMalformedIdentifier, raw, t)
		}
		prefix, namespace, name = m[1], m[2], m[3]
		if t == Type && m[4] != "" {
			params = strings.Join(strings.Fields(m[4]), "")
		}
	}

	if prefix == "" {
		prefix = defaults.DefaultPrefix(t)
	}
	if prefix == "" {
		return Descriptor{}, fmt.Errorf("%w: no default prefix for %s: %s", ErrMalformedIdentifier, t, raw)
	}

	return build(strings.ToLower(prefix), namespace, name, params, t, nil), nil
}

// MustParse is Parse for literals known to be valid. It panics on error.
func MustParse(raw string, t DefType) Descriptor {
	d, err := Parse(raw, t, nil)
	if err != nil {
		panic(err)
	}
	return d
}

// ParseInBundle parses raw and attaches it to bundle.
func ParseInBundle(raw string, t DefType, bundle Descriptor, defaults PrefixDefaults) (Descriptor, error) {
	d, err := Parse(raw, t, defaults)
	if err != nil {
		return Descriptor{}, err
	}
	return d.WithBundle(bundle), nil
}
