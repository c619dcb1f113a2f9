// Package policy supplies the namespace privilege predicate and the reference
// access evaluator consumed by the registry.
package policy

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/zjrosen/defreg/internal/definition"
	"github.com/zjrosen/defreg/internal/descriptor"
)

// PrivilegePredicate classifies namespaces. Only privileged namespaces are
// retained by the shared caches.
type PrivilegePredicate interface {
	IsPrivileged(namespace string) bool
}

// PrivilegeFunc adapts a function to PrivilegePredicate.
type PrivilegeFunc func(namespace string) bool

// IsPrivileged implements PrivilegePredicate.
func (f PrivilegeFunc) IsPrivileged(namespace string) bool { return f(namespace) }

// NamespaceList is an immutable, case-insensitive privileged namespace set.
// Entries may be glob patterns such as "test*".
type NamespaceList struct {
	exact    map[string]struct{}
	patterns []string
}

// NewNamespaceList builds a list from names and patterns.
func NewNamespaceList(names ...string) *NamespaceList {
	l := &NamespaceList{exact: make(map[string]struct{}, len(names))}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if strings.ContainsAny(n, "*?[{") && doublestar.ValidatePattern(n) {
			l.patterns = append(l.patterns, n)
			continue
		}
		l.exact[n] = struct{}{}
	}
	return l
}

// IsPrivileged implements PrivilegePredicate. The empty namespace is never
// privileged.
func (l *NamespaceList) IsPrivileged(namespace string) bool {
	if l == nil || namespace == "" {
		return false
	}
	ns := strings.ToLower(namespace)
	if _, ok := l.exact[ns]; ok {
		return true
	}
	for _, p := range l.patterns {
		if ok, _ := doublestar.Match(p, ns); ok {
			return true
		}
	}
	return false
}

// Names returns the configured entries, sorted.
func (l *NamespaceList) Names() []string {
	out := make([]string, 0, len(l.exact)+len(l.patterns))
	for n := range l.exact {
		out = append(out, n)
	}
	out = append(out, l.patterns...)
	slices.Sort(out)
	return out
}

// Decision is the outcome of one access evaluation. The zero value denies.
type Decision struct {
	Allowed bool
	// Hidden means the target must be reported as not found rather than
	// denied.
	Hidden bool
	Reason string
}

// Allow is the allowing decision.
var Allow = Decision{Allowed: true}

// AccessEvaluator decides whether referencer may use target. A nil referencer
// is a top-level request. Evaluations must be deterministic per pair.
type AccessEvaluator interface {
	Evaluate(referencer *descriptor.Descriptor, target definition.Definition) Decision
}

// EvaluatorFunc adapts a function to AccessEvaluator.
type EvaluatorFunc func(referencer *descriptor.Descriptor, target definition.Definition) Decision

// Evaluate implements AccessEvaluator.
func (f EvaluatorFunc) Evaluate(referencer *descriptor.Descriptor, target definition.Definition) Decision {
	return f(referencer, target)
}

// DefaultEvaluator applies namespace-based access rules:
//   - top-level requests may use global or privileged targets
//   - referencers under an unsecured prefix may use anything
//   - a namespace may use its own definitions
//   - privileged namespaces cannot see non-privileged ones (hidden)
//   - global targets are open to everyone
//   - public and internal targets are open to privileged referencers
type DefaultEvaluator struct {
	Privileged        PrivilegePredicate
	UnsecuredPrefixes []string
}

// Evaluate implements AccessEvaluator.
func (e DefaultEvaluator) Evaluate(referencer *descriptor.Descriptor, target definition.Definition) Decision {
	td := target.Descriptor()
	access := target.Access()
	targetPrivileged := e.privileged(td.Namespace())

	if referencer == nil {
		if access == definition.AccessGlobal || targetPrivileged {
			return Allow
		}
		return deny(td, access, "top level")
	}

	for _, p := range e.UnsecuredPrefixes {
		if strings.EqualFold(p, referencer.Prefix()) {
			return Allow
		}
	}

	if strings.EqualFold(referencer.Namespace(), td.Namespace()) {
		return Allow
	}

	referencerPrivileged := e.privileged(referencer.Namespace())
	if referencerPrivileged && !targetPrivileged {
		return Decision{Hidden: true, Reason: definition.NotFound(td).Error()}
	}

	switch access {
	case definition.AccessGlobal:
		return Allow
	case definition.AccessPublic, definition.AccessInternal:
		if referencerPrivileged {
			return Allow
		}
	}
	return deny(td, access, "namespace '"+referencer.Namespace()+"'")
}

func (e DefaultEvaluator) privileged(namespace string) bool {
	return e.Privileged != nil && e.Privileged.IsPrivileged(namespace)
}

func deny(td descriptor.Descriptor, access definition.Access, from string) Decision {
	return Decision{
		Reason: fmt.Sprintf("Access to %s '%s' from %s disallowed by access level %s",
			td.DefType(), td.QualifiedName(), from, access),
	}
}

// AllowAll allows every reference.
var AllowAll = EvaluatorFunc(func(*descriptor.Descriptor, definition.Definition) Decision {
	return Allow
})
