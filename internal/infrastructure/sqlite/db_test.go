package sqlite

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNewDB_CreatesDirectory verifies that NewDB creates the parent directory if missing.
func TestNewDB_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "sources.db")

	db, err := NewDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	info, err := os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err)
	require.True(t, info.IsDir())
	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0700), info.Mode().Perm())
	}
}

// TestNewDB_RunsMigrations verifies that the sources table and version row exist.
func TestNewDB_RunsMigrations(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "sources.db"))
	require.NoError(t, err)
	defer db.Close()

	var tableName string
	err = db.conn.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name='sources'",
	).Scan(&tableName)
	require.NoError(t, err)
	require.Equal(t, "sources", tableName)

	var version int
	var dirty bool
	require.NoError(t, db.conn.QueryRow("SELECT version, dirty FROM schema_migrations").Scan(&version, &dirty))
	require.Equal(t, 1, version)
	require.False(t, dirty)
}

// TestNewDB_PreMigrationBackup verifies that reopening an existing file leaves a .bak copy.
func TestNewDB_PreMigrationBackup(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sources.db")

	db1, err := NewDB(dbPath)
	require.NoError(t, err)
	require.NoError(t, db1.Close())

	_, err = os.Stat(dbPath + ".bak")
	require.True(t, os.IsNotExist(err), "first open has nothing to back up")

	db2, err := NewDB(dbPath)
	require.NoError(t, err)
	defer db2.Close()

	_, err = os.Stat(dbPath + ".bak")
	require.NoError(t, err)
}

func TestNewDB_Pragmas(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "sources.db"))
	require.NoError(t, err)
	defer db.Close()

	var journalMode string
	require.NoError(t, db.conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	require.Equal(t, "wal", journalMode)

	var foreignKeys int
	require.NoError(t, db.conn.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	require.Equal(t, 1, foreignKeys)

	var busyTimeout int
	require.NoError(t, db.conn.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	require.Equal(t, 5000, busyTimeout)
}

func TestDB_Close(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "sources.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.Error(t, db.conn.Ping(), "closed connection should not ping")
}

// TestNewDB_MultipleCalls verifies that a migrated database is not migrated twice.
func TestNewDB_MultipleCalls(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sources.db")

	db1, err := NewDB(dbPath)
	require.NoError(t, err)
	defer db1.Close()

	db2, err := NewDB(dbPath)
	require.NoError(t, err)
	defer db2.Close()

	require.Equal(t, dbPath, db2.Path())
	require.NotNil(t, db2.Connection())
}

func TestNewDB_InvalidPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	parent := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(parent, []byte("x"), 0600))

	_, err := NewDB(filepath.Join(parent, "sources.db"))
	require.Error(t, err, "a regular file cannot be a database directory")
}

func TestMigrationDriver_LockAndVersion(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "sources.db"))
	require.NoError(t, err)
	defer db.Close()

	drv, err := newMigrationDriver(db.conn)
	require.NoError(t, err)

	require.NoError(t, drv.Lock())
	require.Error(t, drv.Lock())
	require.NoError(t, drv.Unlock())
	require.Error(t, drv.Unlock())

	require.NoError(t, drv.SetVersion(7, true))
	v, dirty, err := drv.Version()
	require.NoError(t, err)
	require.Equal(t, 7, v)
	require.True(t, dirty)

	require.NoError(t, drv.Drop())
	var n int
	require.NoError(t, db.conn.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'",
	).Scan(&n))
	require.Zero(t, n)
}
