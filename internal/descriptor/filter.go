package descriptor

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Wildcard matches any value of a filter segment.
const Wildcard = "*"

// Filter selects descriptors with glob patterns on prefix, namespace and name,
// optionally restricted to a set of DefTypes.
//
// Accepted forms:
//
//	markup://ns:name
//	*://ns:house*
//	js://ns.*Controller
//	ns:*party*          (prefix defaults to *)
//	*party*             (prefix and namespace default to *)
type Filter struct {
	prefix    string
	namespace string
	name      string
	defTypes  []DefType
}

// NewFilter parses pattern. A DefType list narrows the match; none means any type.
func NewFilter(pattern string, types ...DefType) (Filter, error) {
	p := strings.TrimSpace(pattern)
	if p == "" {
		return Filter{}, fmt.Errorf("%w: filter pattern is required", ErrMalformedIdentifier)
	}

	f := Filter{prefix: Wildcard, namespace: Wildcard, defTypes: slices.Clone(types)}

	if i := strings.Index(p, "://"); i >= 0 {
		f.prefix = p[:i]
		p = p[i+3:]
	}

	sep := strings.IndexAny(p, ":")
	if sep < 0 {
		sep = strings.LastIndex(p, ".")
	}
	if sep >= 0 {
		f.namespace = p[:sep]
		f.name = p[sep+1:]
	} else {
		f.name = p
	}

	if f.prefix == "" || f.namespace == "" || f.name == "" {
		return Filter{}, fmt.Errorf("%w: invalid filter %q", ErrMalformedIdentifier, pattern)
	}
	for _, seg := range []string{f.prefix, f.namespace, f.name} {
		if !doublestar.ValidatePattern(strings.ToLower(seg)) {
			return Filter{}, fmt.Errorf("%w: invalid filter %q", ErrMalformedIdentifier, pattern)
		}
	}
	return f, nil
}

// MustFilter is NewFilter for literals. It panics on error.
func MustFilter(pattern string, types ...DefType) Filter {
	f, err := NewFilter(pattern, types...)
	if err != nil {
		panic(err)
	}
	return f
}

// Prefix returns the prefix pattern.
func (f Filter) Prefix() string { return f.prefix }

// Namespace returns the namespace pattern.
func (f Filter) Namespace() string { return f.namespace }

// Name returns the name pattern.
func (f Filter) Name() string { return f.name }

// DefTypes returns the DefType restriction, nil when unrestricted.
func (f Filter) DefTypes() []DefType { return f.defTypes }

// AllNamespaces reports whether the namespace segment is the universal wildcard.
func (f Filter) AllNamespaces() bool { return f.namespace == Wildcard }

// IsConstant reports whether no segment contains a wildcard, so the filter can
// match at most one identity per DefType.
func (f Filter) IsConstant() bool {
	return !strings.Contains(f.prefix, Wildcard) &&
		!strings.Contains(f.namespace, Wildcard) &&
		!strings.Contains(f.name, Wildcard)
}

// MatchesPrefix reports whether prefix satisfies the prefix pattern.
func (f Filter) MatchesPrefix(prefix string) bool {
	return globMatch(f.prefix, prefix)
}

// MatchesNamespace reports whether namespace satisfies the namespace pattern.
func (f Filter) MatchesNamespace(namespace string) bool {
	return globMatch(f.namespace, namespace)
}

// MatchesDefType reports whether t is allowed by the DefType restriction.
func (f Filter) MatchesDefType(t DefType) bool {
	return len(f.defTypes) == 0 || slices.Contains(f.defTypes, t)
}

// Match reports whether d satisfies every segment of the filter.
func (f Filter) Match(d Descriptor) bool {
	return f.MatchesDefType(d.defType) &&
		f.MatchesPrefix(d.prefix) &&
		f.MatchesNamespace(d.namespace) &&
		globMatch(f.name, d.name)
}

// String renders the filter canonically; it doubles as the filter cache key.
func (f Filter) String() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(f.prefix))
	b.WriteString("://")
	b.WriteString(strings.ToLower(f.namespace))
	b.WriteByte(':')
	b.WriteString(strings.ToLower(f.name))
	if len(f.defTypes) > 0 {
		names := make([]string, len(f.defTypes))
		for i, t := range f.defTypes {
			names[i] = t.String()
		}
		slices.Sort(names)
		b.WriteByte('[')
		b.WriteString(strings.Join(names, ","))
		b.WriteByte(']')
	}
	return b.String()
}

func globMatch(pattern, value string) bool {
	if pattern == Wildcard {
		return true
	}
	ok, err := doublestar.Match(strings.ToLower(pattern), strings.ToLower(value))
	return err == nil && ok
}
