// Package definition defines the compiled form of an artifact and its
// validation lifecycle.
//
// A Definition is produced by a compiler from one descriptor's source. The
// registry owns it from then on and drives it through two validation passes,
// each run at most once per Definition value:
//
//	Unvalidated -> LocallyValid -> ReferencesValid
//
// ValidateLocal checks the artifact in isolation. ValidateReferences resolves
// every referenced descriptor through a Resolver and checks cross-artifact
// rules. Definitions refer to each other by descriptor only, never by pointer.
package definition

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/zjrosen/defreg/internal/descriptor"
)

// Definition is the compiled representation of one descriptor's source.
// Behavior varies by DefType through the implementing type.
type Definition interface {
	Descriptor() descriptor.Descriptor
	// OwnHash is a content hash of this artifact's own source only.
	OwnHash() string
	// Dependencies returns the direct dependency descriptors.
	Dependencies() []descriptor.Descriptor
	ValidateLocal() error
	ValidateReferences(r Resolver) error
	Access() Access
	// Serialize returns a JSON-friendly view of the definition.
	Serialize() map[string]any
}

// Resolver is the registry surface visible during reference validation.
type Resolver interface {
	Resolve(d descriptor.Descriptor) (Definition, error)
	AssertAccess(referencer *descriptor.Descriptor, target Definition) error
}

// Inheritable is implemented by definitions that participate in extends chains.
type Inheritable interface {
	Extensible() bool
	Abstract() bool
	Support() SupportLevel
}

// Access is the declared visibility of a definition.
type Access int

const (
	AccessPublic Access = iota
	AccessGlobal
	AccessPrivate
	AccessInternal
)

func (a Access) String() string {
	switch a {
	case AccessGlobal:
		return "GLOBAL"
	case AccessPrivate:
		return "PRIVATE"
	case AccessInternal:
		return "INTERNAL"
	default:
		return "PUBLIC"
	}
}

// ParseAccess accepts global, public, private and internal, case-insensitively.
// An empty string is public.
func ParseAccess(s string) (Access, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "public":
		return AccessPublic, true
	case "global":
		return AccessGlobal, true
	case "private":
		return AccessPrivate, true
	case "internal":
		return AccessInternal, true
	}
	return AccessPublic, false
}

// SupportLevel orders the maturity of an artifact, lowest first. A child may
// not declare a level above its parent's.
type SupportLevel int

const (
	SupportProto SupportLevel = iota
	SupportDeprecated
	SupportBeta
	SupportGA
)

func (s SupportLevel) String() string {
	switch s {
	case SupportDeprecated:
		return "DEPRECATED"
	case SupportBeta:
		return "BETA"
	case SupportGA:
		return "GA"
	default:
		return "PROTO"
	}
}

// ParseSupportLevel accepts PROTO, DEPRECATED, BETA and GA. Empty means PROTO.
func ParseSupportLevel(s string) (SupportLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "PROTO":
		return SupportProto, true
	case "DEPRECATED":
		return SupportDeprecated, true
	case "BETA":
		return SupportBeta, true
	case "GA":
		return SupportGA, true
	}
	return SupportProto, false
}

// HashSource returns the own hash for canonical source bytes: hex SHA-256.
// CRLF line endings are folded to LF first.
func HashSource(src []byte) string {
	normalized := strings.ReplaceAll(string(src), "\r\n", "\n")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
