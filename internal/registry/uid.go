package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/blake2b"

	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/tracing"
)

// ErrClientOutOfSync matches a *StaleUIDError.
var ErrClientOutOfSync = errors.New("client out of sync")

// StaleUIDError reports that a client's UID no longer matches the fresh one.
type StaleUIDError struct {
	Descriptor descriptor.Descriptor
	Candidate  string
	Fresh      string
}

func (e *StaleUIDError) Error() string {
	return fmt.Sprintf("client out of sync for %s: have %s, current %s",
		e.Descriptor.QualifiedName(), e.Candidate, e.Fresh)
}

// Is matches ErrClientOutOfSync.
func (e *StaleUIDError) Is(target error) bool {
	return target == ErrClientOutOfSync
}

// DependencyEntry is an immutable closure record: its UID and every
// descriptor reachable from the root, root included, sorted.
type DependencyEntry struct {
	UID         string
	Descriptors []descriptor.Descriptor
}

// UIDEntry is one closure member as seen by ComputeUID.
type UIDEntry struct {
	Descriptor descriptor.Descriptor
	OwnHash    string
}

// ComputeUID hashes closure members with BLAKE2b-256 and renders the digest
// as unpadded base64url. The result does not depend on entry order.
func ComputeUID(entries []UIDEntry) string {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b UIDEntry) int {
		return descriptor.Compare(a.Descriptor, b.Descriptor)
	})

	h, _ := blake2b.New256(nil)
	for _, e := range sorted {
		h.Write([]byte(e.Descriptor.Key()))
		h.Write([]byte{0})
		h.Write([]byte(e.OwnHash))
		h.Write([]byte{'\n'})
	}
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// GetUID returns the fresh UID of d's closure. The candidate is only compared
// after the closure is built: under ReturnFresh a mismatch is ignored, under
// ErrorOnMismatch it yields the fresh UID together with a *StaleUIDError.
// Within one Context the first UID computed for d is returned again.
func (r *Registry) GetUID(ctx context.Context, rc *Context, candidate string, d descriptor.Descriptor) (string, error) {
	rc = orDefault(rc)
	ctx, span := tracing.StartDescriptor(ctx, r.tracer, tracing.SpanGetUID, d,
		attribute.String(tracing.AttrContextID, rc.ID()))

	uid, memo := rc.memoUID(d.Key())
	if !memo {
		cl, err := r.closureFor(ctx, rc, d)
		if err != nil {
			tracing.End(span, err)
			return "", err
		}
		uid = cl.uid
		span.SetAttributes(attribute.Int(tracing.AttrClosureSize, len(cl.order)))
	}
	span.SetAttributes(attribute.String(tracing.AttrUID, uid), cacheHit(memo))

	var err error
	if candidate != "" && candidate != uid && r.stalePolicy == ErrorOnMismatch {
		err = &StaleUIDError{Descriptor: d, Candidate: candidate, Fresh: uid}
	}
	tracing.End(span, err)
	return uid, err
}
