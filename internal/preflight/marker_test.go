package preflight

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/apptindex/internal/config"
)

func markerConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.Index.Path = filepath.Join(dir, "index.bleve")
	cfg.Source.Database = filepath.Join(dir, "appointments.db")
	return cfg
}

func TestNeedsCheck_NoMarker(t *testing.T) {
	assert.True(t, NeedsCheck(t.TempDir(), markerConfig(t)))
}

func TestNeedsCheck_AfterMarkPassed(t *testing.T) {
	// Given: checks passed for a setup
	dataDir := t.TempDir()
	cfg := markerConfig(t)
	require.NoError(t, MarkPassed(dataDir, cfg))

	// Then: the same setup does not need another check
	assert.False(t, NeedsCheck(dataDir, cfg))
}

func TestNeedsCheck_IndexMoved(t *testing.T) {
	// Given: checks passed for one index location
	dataDir := t.TempDir()
	cfg := markerConfig(t)
	require.NoError(t, MarkPassed(dataDir, cfg))

	// When: the index is moved to another disk
	moved := *cfg
	moved.Index.Path = filepath.Join(t.TempDir(), "elsewhere.bleve")

	// Then: checks run again
	assert.True(t, NeedsCheck(dataDir, &moved))
}

func TestNeedsCheck_SourceDatabaseChanged(t *testing.T) {
	dataDir := t.TempDir()
	cfg := markerConfig(t)
	require.NoError(t, MarkPassed(dataDir, cfg))

	other := *cfg
	other.Source.Database = filepath.Join(t.TempDir(), "other.db")

	assert.True(t, NeedsCheck(dataDir, &other))
}

func TestNeedsCheck_ExpiredMarker(t *testing.T) {
	// Given: a marker older than a day
	dataDir := t.TempDir()
	cfg := markerConfig(t)
	m := MarkerFor(cfg)
	m.PassedAt = time.Now().Add(-MarkerMaxAge - time.Minute)
	data, err := yaml.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, MarkerFile), data, 0o644))

	// Then: checks run again
	assert.True(t, NeedsCheck(dataDir, cfg))
}

func TestNeedsCheck_UnreadableMarker(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, MarkerFile), []byte("2024-01-01T00:00:00Z"), 0o644))

	assert.True(t, NeedsCheck(dataDir, markerConfig(t)))
}

func TestMarkPassed_RecordsSetup(t *testing.T) {
	// Given: a data directory that does not exist yet
	dataDir := filepath.Join(t.TempDir(), "subdir", ".apptindex")
	cfg := markerConfig(t)

	// When: marking as passed
	require.NoError(t, MarkPassed(dataDir, cfg))

	// Then: the marker names the index and database it was checked against
	m, err := ReadMarker(dataDir)
	require.NoError(t, err)
	assert.Equal(t, cfg.Index.Path, m.IndexPath)
	assert.Equal(t, cfg.Source.Database, m.SourceDatabase)
	assert.NotEmpty(t, m.Version)
	assert.WithinDuration(t, time.Now(), m.PassedAt, 5*time.Second)
}

func TestMarkerFor_InMemoryIndex(t *testing.T) {
	cfg := markerConfig(t)
	cfg.Index.Path = config.MemoryIndexPath

	assert.Equal(t, config.MemoryIndexPath, MarkerFor(cfg).IndexPath)
}

func TestClearMarker(t *testing.T) {
	dataDir := t.TempDir()
	cfg := markerConfig(t)
	require.NoError(t, MarkPassed(dataDir, cfg))

	require.NoError(t, ClearMarker(dataDir))
	assert.NoFileExists(t, filepath.Join(dataDir, MarkerFile))
	assert.True(t, NeedsCheck(dataDir, cfg))

	// Clearing twice is fine
	assert.NoError(t, ClearMarker(dataDir))
}

func TestMarkerAge(t *testing.T) {
	dataDir := t.TempDir()
	assert.Equal(t, time.Duration(0), MarkerAge(dataDir))

	require.NoError(t, MarkPassed(dataDir, markerConfig(t)))
	assert.Less(t, MarkerAge(dataDir), 2*time.Second)
}
