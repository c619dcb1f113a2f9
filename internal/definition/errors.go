package definition

import (
	"errors"
	"fmt"

	"github.com/zjrosen/defreg/internal/descriptor"
)

// Error kinds. Match with errors.Is.
var (
	ErrMalformedIdentifier = descriptor.ErrMalformedIdentifier
	ErrDefinitionNotFound  = errors.New("definition not found")
	ErrInvalidDefinition   = errors.New("invalid definition")
	ErrNoAccess            = errors.New("access denied")
	ErrInternalFault       = errors.New("internal fault")

	// ErrCorrectable matches every error a source author can fix by editing
	// source: not-found and invalid definitions.
	ErrCorrectable = errors.New("correctable definition error")
)

// Error is a definition failure tied to a descriptor.
type Error struct {
	Kind       error
	Descriptor descriptor.Descriptor
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Is matches the error kind, and ErrCorrectable for correctable kinds.
func (e *Error) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	if target == ErrCorrectable {
		return e.Kind == ErrDefinitionNotFound || e.Kind == ErrInvalidDefinition
	}
	return false
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NotFound reports that d has no source in any registry.
func NotFound(d descriptor.Descriptor) *Error {
	return &Error{
		Kind:       ErrDefinitionNotFound,
		Descriptor: d,
		Message:    fmt.Sprintf("No %s named %s found", d.DefType(), d.QualifiedName()),
	}
}

// NotFoundFrom reports a missing reference, naming the referencing descriptor.
func NotFoundFrom(d, referencer descriptor.Descriptor) *Error {
	return &Error{
		Kind:       ErrDefinitionNotFound,
		Descriptor: d,
		Message: fmt.Sprintf("No %s named %s found : [%s]",
			d.DefType(), d.QualifiedName(), referencer.QualifiedName()),
	}
}

// Invalid reports a structural rule violation in d.
func Invalid(d descriptor.Descriptor, format string, args ...any) *Error {
	return &Error{
		Kind:       ErrInvalidDefinition,
		Descriptor: d,
		Message:    fmt.Sprintf(format, args...),
	}
}

// NoAccess reports a policy denial for target.
func NoAccess(target descriptor.Descriptor, reason string) *Error {
	return &Error{
		Kind:       ErrNoAccess,
		Descriptor: target,
		Message:    reason,
	}
}

// InternalFault wraps an unexpected collaborator failure for d.
func InternalFault(d descriptor.Descriptor, cause error) *Error {
	return &Error{
		Kind:       ErrInternalFault,
		Descriptor: d,
		Message:    fmt.Sprintf("compiling %s", d.QualifiedName()),
		Cause:      cause,
	}
}

// AsFault classifies err for d. Definition errors pass through unchanged,
// anything else becomes an InternalFault.
func AsFault(d descriptor.Descriptor, err error) error {
	if err == nil {
		return nil
	}
	var defErr *Error
	if errors.As(err, &defErr) {
		return err
	}
	if errors.Is(err, ErrMalformedIdentifier) {
		return &Error{Kind: ErrInvalidDefinition, Descriptor: d, Message: err.Error(), Cause: err}
	}
	return InternalFault(d, err)
}

// Cacheable reports whether a failure may be remembered. Internal faults are
// always retried.
func Cacheable(err error) bool {
	return err != nil && !errors.Is(err, ErrInternalFault)
}
