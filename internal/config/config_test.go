package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config at an empty directory and clears
// APPTINDEX_* variables for the duration of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, name := range []string{
		"APPTINDEX_INDEX_PATH", "APPTINDEX_BATCH_SIZE", "APPTINDEX_INDEX_ENABLED",
		"APPTINDEX_MAX_RESULTS", "APPTINDEX_TIME_ZONE", "APPTINDEX_DATABASE",
		"APPTINDEX_SOCKET", "APPTINDEX_LOG_LEVEL", "APPTINDEX_LOG_FILE",
	} {
		t.Setenv(name, "")
	}
	// LookupEnv distinguishes unset from empty for the schedule.
	t.Setenv("APPTINDEX_REBUILD_SCHEDULE", "")
	require.NoError(t, os.Unsetenv("APPTINDEX_REBUILD_SCHEDULE"))
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: all defaults should be applied
	require.NotNil(t, cfg)
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, 100, cfg.Index.BatchSize)
	assert.Equal(t, 256, cfg.Index.FormCacheSize)
	assert.Empty(t, cfg.Index.RebuildSchedule)
	assert.False(t, cfg.Index.RebuildOnStart)
	assert.True(t, cfg.IndexEnabled())
	assert.Equal(t, 10000, cfg.Search.MaxResults)
	assert.Equal(t, 50, cfg.Search.DefaultPageSize)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "30s", cfg.Server.Timeout)
	assert.Contains(t, cfg.Index.Path, ".apptindex")
	assert.Contains(t, cfg.Source.Database, "apptindex.db")
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ProjectConfigOverridesDefaults(t *testing.T) {
	isolate(t)

	// Given: a project config file
	dir := t.TempDir()
	yaml := `
index:
  path: ":memory:"
  batch_size: 25
  rebuild_schedule: "0 3 * * *"
  enabled: false
search:
  max_results: 500
  time_zone: Europe/Paris
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".apptindex.yaml"), []byte(yaml), 0o644))

	// When: loading
	cfg, err := Load(dir)

	// Then: file values win, untouched keys keep defaults
	require.NoError(t, err)
	assert.True(t, cfg.InMemoryIndex())
	assert.Equal(t, 25, cfg.Index.BatchSize)
	assert.Equal(t, "0 3 * * *", cfg.Index.RebuildSchedule)
	assert.False(t, cfg.IndexEnabled())
	assert.Equal(t, 500, cfg.Search.MaxResults)
	assert.Equal(t, 50, cfg.Search.DefaultPageSize)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", loc.String())
}

func TestLoad_PrecedenceUserProjectEnv(t *testing.T) {
	isolate(t)

	// Given: user config, project config and env all set batch size
	userPath := GetUserConfigPath()
	require.NoError(t, os.MkdirAll(filepath.Dir(userPath), 0o755))
	require.NoError(t, os.WriteFile(userPath, []byte("index:\n  batch_size: 10\nsearch:\n  max_results: 42\n"), 0o644))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".apptindex.yml"), []byte("index:\n  batch_size: 20\n"), 0o644))

	// When: env is unset
	cfg, err := Load(dir)
	require.NoError(t, err)

	// Then: project beats user, user beats defaults
	assert.Equal(t, 20, cfg.Index.BatchSize)
	assert.Equal(t, 42, cfg.Search.MaxResults)

	// When: env overrides
	t.Setenv("APPTINDEX_BATCH_SIZE", "30")
	t.Setenv("APPTINDEX_LOG_LEVEL", "debug")
	cfg, err = Load(dir)
	require.NoError(t, err)

	// Then: env wins
	assert.Equal(t, 30, cfg.Index.BatchSize)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestLoad_EnvIgnoresInvalidNumbers(t *testing.T) {
	isolate(t)
	t.Setenv("APPTINDEX_BATCH_SIZE", "-5")
	t.Setenv("APPTINDEX_MAX_RESULTS", "lots")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Index.BatchSize)
	assert.Equal(t, 10000, cfg.Search.MaxResults)
}

func TestLoad_EnvDisablesIndexer(t *testing.T) {
	isolate(t)
	t.Setenv("APPTINDEX_INDEX_ENABLED", "false")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.False(t, cfg.IndexEnabled())
}

func TestLoad_MalformedYAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".apptindex.yaml"), []byte("index: [unclosed"), 0o644))

	_, err := Load(dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestValidate_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"empty index path", func(c *Config) { c.Index.Path = "" }, "index.path"},
		{"zero batch size", func(c *Config) { c.Index.BatchSize = 0 }, "index.batch_size"},
		{"bad cron", func(c *Config) { c.Index.RebuildSchedule = "every tuesday" }, "index.rebuild_schedule"},
		{"zero cap", func(c *Config) { c.Search.MaxResults = 0 }, "search.max_results"},
		{"negative page", func(c *Config) { c.Search.DefaultPageSize = -1 }, "search.default_page_size"},
		{"bad zone", func(c *Config) { c.Search.TimeZone = "Mars/Olympus" }, "search.time_zone"},
		{"empty database", func(c *Config) { c.Source.Database = "" }, "source.database"},
		{"bad level", func(c *Config) { c.Server.LogLevel = "loud" }, "server.log_level"},
		{"bad timeout", func(c *Config) { c.Server.Timeout = "soon" }, "server.timeout"},
		{"zero timeout", func(c *Config) { c.Server.Timeout = "0s" }, "server.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestTimeoutDuration(t *testing.T) {
	cfg := NewConfig()
	cfg.Server.Timeout = "1m30s"

	d, err := cfg.TimeoutDuration()

	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)
}

func TestLocation_EmptyIsLocal(t *testing.T) {
	loc, err := NewConfig().Location()

	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestWriteYAML_RoundTrips(t *testing.T) {
	isolate(t)

	// Given: a customized config written as a project file
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Index.BatchSize = 7
	cfg.Search.TimeZone = "UTC"
	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, ".apptindex.yaml")))

	// When: loading it back
	loaded, err := Load(dir)

	// Then: values survive
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Index.BatchSize)
	assert.Equal(t, "UTC", loaded.Search.TimeZone)
}

func TestLoadFile(t *testing.T) {
	isolate(t)

	// Given: a project file that LoadFile must ignore and an explicit file
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".apptindex.yaml"), []byte("index:\n  batch_size: 20\n"), 0o644))
	path := filepath.Join(dir, "indexer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("index:\n  batch_size: 7\nserver:\n  metrics_addr: \"127.0.0.1:9464\"\n"), 0o644))

	// When: loading the explicit file
	cfg, err := LoadFile(path)

	// Then: only that file and the defaults apply
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Index.BatchSize)
	assert.Equal(t, "127.0.0.1:9464", cfg.Server.MetricsAddr)
	assert.Equal(t, 10000, cfg.Search.MaxResults)

	// And: a missing file is an error
	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "not found")
}
