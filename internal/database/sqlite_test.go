package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Aman-CERP/apptindex/internal/errors"
)

func TestOpen_InMemoryIsShared(t *testing.T) {
	// Given: an in-memory database
	db, err := Open(Memory)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	// When: creating a table and writing through the pool
	_, err = db.Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO t VALUES (1)")
	require.NoError(t, err)

	// Then: later statements see the same database
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOpen_FileUsesWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "apptindex.db")

	db, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
	assert.FileExists(t, path)
}

func TestOpen_RejectsCorruptFile(t *testing.T) {
	// Given: a file that is not a SQLite database
	path := filepath.Join(t.TempDir(), "garbage.db")
	require.NoError(t, os.WriteFile(path, []byte("definitely not sqlite, just some bytes padding it out"), 0o644))

	// When: opening
	_, err := Open(path)

	// Then: the file is reported, not deleted
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeDatabase, apperrors.GetCode(err))
	assert.FileExists(t, path)
}
