package definition

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/defreg/internal/descriptor"
)

type countingDef struct {
	desc      descriptor.Descriptor
	localErr  error
	refsErr   error
	localRuns atomic.Int32
	refsRuns  atomic.Int32
}

func (d *countingDef) Descriptor() descriptor.Descriptor     { return d.desc }
func (d *countingDef) OwnHash() string                       { return HashSource([]byte(d.desc.String())) }
func (d *countingDef) Dependencies() []descriptor.Descriptor { return nil }
func (d *countingDef) Access() Access                        { return AccessGlobal }
func (d *countingDef) Serialize() map[string]any             { return map[string]any{"d": d.desc.String()} }

func (d *countingDef) ValidateLocal() error {
	d.localRuns.Add(1)
	return d.localErr
}

func (d *countingDef) ValidateReferences(Resolver) error {
	d.refsRuns.Add(1)
	return d.refsErr
}

func newCountingDef() *countingDef {
	return &countingDef{desc: descriptor.MustParse("test:counted", descriptor.Component)}
}

func TestTracked_HappyPath(t *testing.T) {
	def := newCountingDef()
	tr := Track(def)
	require.Equal(t, Unvalidated, tr.State())

	require.NoError(t, tr.ValidateLocal())
	require.Equal(t, LocallyValid, tr.State())

	require.NoError(t, tr.ValidateReferences(nil))
	require.Equal(t, ReferencesPassed, tr.State())
	require.False(t, tr.Valid())

	require.NoError(t, tr.Commit())
	require.True(t, tr.Valid())
	require.NoError(t, tr.Commit(), "commit is idempotent")
}

func TestTracked_ReferencesBeforeLocal(t *testing.T) {
	tr := Track(newCountingDef())
	err := tr.ValidateReferences(nil)
	require.ErrorIs(t, err, ErrOutOfOrder)
}

func TestTracked_CommitBeforeReferences(t *testing.T) {
	tr := Track(newCountingDef())
	require.NoError(t, tr.ValidateLocal())
	require.ErrorIs(t, tr.Commit(), ErrOutOfOrder)
}

func TestTracked_LocalFailureIsReplayed(t *testing.T) {
	def := newCountingDef()
	def.localErr = Invalid(def.desc, "bad attribute")
	tr := Track(def)

	for i := 0; i < 3; i++ {
		err := tr.ValidateLocal()
		require.ErrorIs(t, err, ErrInvalidDefinition)
	}
	require.Equal(t, int32(1), def.localRuns.Load())
	require.Equal(t, Failed, tr.State())

	err := tr.ValidateReferences(nil)
	require.ErrorIs(t, err, ErrInvalidDefinition)
	require.Equal(t, int32(0), def.refsRuns.Load())
}

func TestTracked_ReferencesFailureIsReplayed(t *testing.T) {
	def := newCountingDef()
	def.refsErr = NotFound(descriptor.MustParse("test:missing", descriptor.Component))
	tr := Track(def)

	require.NoError(t, tr.ValidateLocal())
	require.ErrorIs(t, tr.ValidateReferences(nil), ErrDefinitionNotFound)
	require.ErrorIs(t, tr.ValidateReferences(nil), ErrDefinitionNotFound)
	require.Equal(t, int32(1), def.refsRuns.Load())
	require.Error(t, tr.Commit())
}

func TestTracked_ConcurrentTransitionsRunOnce(t *testing.T) {
	def := newCountingDef()
	tr := Track(def)

	const n = 64
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tr.ValidateLocal(); err != nil {
				errs <- err
				return
			}
			if err := tr.ValidateReferences(nil); err != nil {
				errs <- err
				return
			}
			errs <- tr.Commit()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), def.localRuns.Load())
	require.Equal(t, int32(1), def.refsRuns.Load())
	require.True(t, tr.Valid())
}

func TestError_Kinds(t *testing.T) {
	d := descriptor.MustParse("markup://unknown:component", descriptor.Component)

	nf := NotFound(d)
	require.ErrorIs(t, nf, ErrDefinitionNotFound)
	require.ErrorIs(t, nf, ErrCorrectable)
	require.NotErrorIs(t, nf, ErrInvalidDefinition)
	require.Equal(t, "No COMPONENT named markup://unknown:component found", nf.Error())

	inv := Invalid(d, "Invalid attribute %q", "x")
	require.ErrorIs(t, inv, ErrInvalidDefinition)
	require.ErrorIs(t, inv, ErrCorrectable)

	na := NoAccess(d, "blocked")
	require.ErrorIs(t, na, ErrNoAccess)
	require.NotErrorIs(t, na, ErrCorrectable)

	fault := AsFault(d, errors.New("disk on fire"))
	require.ErrorIs(t, fault, ErrInternalFault)
	require.False(t, Cacheable(fault))
	require.True(t, Cacheable(nf))
	require.Same(t, nf, AsFault(d, nf))
}

func TestParseAccessAndSupport(t *testing.T) {
	a, ok := ParseAccess("GLOBAL")
	require.True(t, ok)
	require.Equal(t, AccessGlobal, a)

	_, ok = ParseAccess("friends")
	require.False(t, ok)

	s, ok := ParseSupportLevel("beta")
	require.True(t, ok)
	require.Equal(t, SupportBeta, s)
	require.Less(t, SupportProto, SupportGA)
}

func TestHashSource(t *testing.T) {
	require.Equal(t, HashSource([]byte("a\nb")), HashSource([]byte("a\r\nb")))
	require.NotEqual(t, HashSource([]byte("a")), HashSource([]byte("b")))
	require.Len(t, HashSource(nil), 64)
}
