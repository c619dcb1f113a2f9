package definition

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// State is the validation state of a tracked definition.
type State int32

const (
	Unvalidated State = iota
	LocallyValid
	// ReferencesPassed means ValidateReferences succeeded but the closure
	// holding the definition has not committed yet.
	ReferencesPassed
	ReferencesValid
	Failed
)

func (s State) String() string {
	switch s {
	case Unvalidated:
		return "unvalidated"
	case LocallyValid:
		return "locally-valid"
	case ReferencesPassed:
		return "references-passed"
	case ReferencesValid:
		return "references-valid"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrOutOfOrder is returned when a transition is requested before its
// predecessor succeeded.
var ErrOutOfOrder = errors.New("validation transition out of order")

// Tracked drives one Definition through its lifecycle. Each transition calls
// the underlying method at most once for the lifetime of the Tracked value;
// later and concurrent callers observe the recorded outcome.
type Tracked struct {
	def   Definition
	state atomic.Int32

	localOnce sync.Once
	localErr  error

	refsOnce sync.Once
	refsErr  error
}

// Track starts the lifecycle of def in the Unvalidated state.
func Track(def Definition) *Tracked {
	return &Tracked{def: def}
}

// Definition returns the tracked definition.
func (t *Tracked) Definition() Definition {
	return t.def
}

// State returns the current state.
func (t *Tracked) State() State {
	return State(t.state.Load())
}

// Valid reports whether the definition reached ReferencesValid.
func (t *Tracked) Valid() bool {
	return t.State() == ReferencesValid
}

// ValidateLocal runs the local pass once.
func (t *Tracked) ValidateLocal() error {
	t.localOnce.Do(func() {
		t.localErr = t.def.ValidateLocal()
		if t.localErr != nil {
			t.state.Store(int32(Failed))
			return
		}
		t.state.CompareAndSwap(int32(Unvalidated), int32(LocallyValid))
	})
	return t.localErr
}

// ValidateReferences runs the reference pass once. The local pass must have
// succeeded first.
func (t *Tracked) ValidateReferences(r Resolver) error {
	if err := t.requireLocal(); err != nil {
		return err
	}
	t.refsOnce.Do(func() {
		t.refsErr = t.def.ValidateReferences(r)
		if t.refsErr != nil {
			t.state.Store(int32(Failed))
			return
		}
		t.state.CompareAndSwap(int32(LocallyValid), int32(ReferencesPassed))
	})
	return t.refsErr
}

// Commit marks the definition ReferencesValid. It is idempotent.
func (t *Tracked) Commit() error {
	if t.state.CompareAndSwap(int32(ReferencesPassed), int32(ReferencesValid)) {
		return nil
	}
	if t.State() == ReferencesValid {
		return nil
	}
	return fmt.Errorf("%w: commit %s in state %s", ErrOutOfOrder, t.def.Descriptor(), t.State())
}

func (t *Tracked) requireLocal() error {
	switch t.State() {
	case Unvalidated:
		return fmt.Errorf("%w: %s has not been locally validated", ErrOutOfOrder, t.def.Descriptor())
	case Failed:
		if t.localErr != nil {
			return t.localErr
		}
	}
	return nil
}
