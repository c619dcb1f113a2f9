package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/defreg/internal/infrastructure/sqlite"
)

// NewTestStore opens a migrated source database under t.TempDir and returns
// its store. Both are closed when the test completes.
func NewTestStore(t *testing.T) *sqlite.SourceStore {
	t.Helper()
	db, err := sqlite.NewDB(filepath.Join(t.TempDir(), "sources.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := db.Sources("test")
	t.Cleanup(store.Close)
	return store
}
