// Package config loads apptindex configuration from YAML files and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// MemoryIndexPath selects an in-memory bleve index instead of a directory.
const MemoryIndexPath = ":memory:"

// Config represents the complete apptindex configuration.
type Config struct {
	Version int          `yaml:"version" json:"version"`
	Index   IndexConfig  `yaml:"index" json:"index"`
	Search  SearchConfig `yaml:"search" json:"search"`
	Source  SourceConfig `yaml:"source" json:"source"`
	Server  ServerConfig `yaml:"server" json:"server"`
}

// IndexConfig configures the appointment index and its sync worker.
type IndexConfig struct {
	// Path is the bleve index directory, or ":memory:".
	Path string `yaml:"path" json:"path"`

	// BatchSize bounds the ids per delete batch and records per add batch.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// RebuildSchedule is a five-field cron expression. Empty disables it.
	RebuildSchedule string `yaml:"rebuild_schedule" json:"rebuild_schedule"`

	// RebuildOnStart queues a full rebuild when the daemon starts.
	RebuildOnStart bool `yaml:"rebuild_on_start" json:"rebuild_on_start"`

	// Enabled turns the indexer on. Nil means enabled.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// FormCacheSize is the number of forms kept by the join cache.
	FormCacheSize int `yaml:"form_cache_size" json:"form_cache_size"`
}

// SearchConfig configures the query engine.
type SearchConfig struct {
	// MaxResults caps how many hits a single search materializes.
	MaxResults int `yaml:"max_results" json:"max_results"`

	// DefaultPageSize is used by the CLI when no page size is given.
	DefaultPageSize int `yaml:"default_page_size" json:"default_page_size"`

	// TimeZone is the IANA zone used to interpret and render dates.
	// Empty uses the process local zone.
	TimeZone string `yaml:"time_zone" json:"time_zone"`
}

// SourceConfig locates the SQLite database holding appointments and the
// pending action ledger.
type SourceConfig struct {
	Database string `yaml:"database" json:"database"`
}

// ServerConfig configures the daemon.
type ServerConfig struct {
	SocketPath string `yaml:"socket_path" json:"socket_path"`
	LogLevel   string `yaml:"log_level" json:"log_level"`
	LogFile    string `yaml:"log_file" json:"log_file"`
	Timeout    string `yaml:"timeout" json:"timeout"`

	// MetricsAddr is the host:port serving /metrics. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// DataDir returns ~/.apptindex, the home of the default database, index,
// socket and logs.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".apptindex")
	}
	return filepath.Join(home, ".apptindex")
}

// NewConfig returns a configuration populated with defaults.
func NewConfig() *Config {
	dir := DataDir()
	return &Config{
		Version: 1,
		Index: IndexConfig{
			Path:          filepath.Join(dir, "index.bleve"),
			BatchSize:     100,
			FormCacheSize: 256,
		},
		Search: SearchConfig{
			MaxResults:      10000,
			DefaultPageSize: 50,
		},
		Source: SourceConfig{
			Database: filepath.Join(dir, "apptindex.db"),
		},
		Server: ServerConfig{
			SocketPath: filepath.Join(dir, "daemon.sock"),
			LogLevel:   "info",
			Timeout:    "30s",
		},
	}
}

// GetUserConfigPath returns the user configuration file:
// $XDG_CONFIG_HOME/apptindex/config.yaml, else ~/.config/apptindex/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "apptindex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "apptindex", "config.yaml")
	}
	return filepath.Join(home, ".config", "apptindex", "config.yaml")
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	_, err := os.Stat(GetUserConfigPath())
	return err == nil
}

// Load loads configuration for the project in dir. Later sources win:
//  1. Defaults
//  2. User config (GetUserConfigPath)
//  3. Project config (.apptindex.yaml in dir)
//  4. Environment variables (APPTINDEX_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	for _, name := range []string{".apptindex.yaml", ".apptindex.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			if err := cfg.loadYAML(path); err != nil {
				return nil, err
			}
			break
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads defaults, then the YAML file at path, then environment
// overrides. The user and project files are not consulted.
func LoadFile(path string) (*Config, error) {
	if !fileExists(path) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith copies the non-zero values of other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Index.Path != "" {
		c.Index.Path = other.Index.Path
	}
	if other.Index.BatchSize != 0 {
		c.Index.BatchSize = other.Index.BatchSize
	}
	if other.Index.RebuildSchedule != "" {
		c.Index.RebuildSchedule = other.Index.RebuildSchedule
	}
	if other.Index.RebuildOnStart {
		c.Index.RebuildOnStart = true
	}
	if other.Index.Enabled != nil {
		enabled := *other.Index.Enabled
		c.Index.Enabled = &enabled
	}
	if other.Index.FormCacheSize != 0 {
		c.Index.FormCacheSize = other.Index.FormCacheSize
	}

	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.DefaultPageSize != 0 {
		c.Search.DefaultPageSize = other.Search.DefaultPageSize
	}
	if other.Search.TimeZone != "" {
		c.Search.TimeZone = other.Search.TimeZone
	}

	if other.Source.Database != "" {
		c.Source.Database = other.Source.Database
	}

	if other.Server.SocketPath != "" {
		c.Server.SocketPath = other.Server.SocketPath
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.LogFile != "" {
		c.Server.LogFile = other.Server.LogFile
	}
	if other.Server.Timeout != "" {
		c.Server.Timeout = other.Server.Timeout
	}
	if other.Server.MetricsAddr != "" {
		c.Server.MetricsAddr = other.Server.MetricsAddr
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("APPTINDEX_INDEX_PATH"); v != "" {
		c.Index.Path = v
	}
	if v := os.Getenv("APPTINDEX_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Index.BatchSize = n
		}
	}
	if v, ok := os.LookupEnv("APPTINDEX_REBUILD_SCHEDULE"); ok {
		c.Index.RebuildSchedule = v
	}
	if v := os.Getenv("APPTINDEX_INDEX_ENABLED"); v != "" {
		enabled := strings.ToLower(v) == "true" || v == "1"
		c.Index.Enabled = &enabled
	}
	if v := os.Getenv("APPTINDEX_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.MaxResults = n
		}
	}
	if v := os.Getenv("APPTINDEX_TIME_ZONE"); v != "" {
		c.Search.TimeZone = v
	}
	if v := os.Getenv("APPTINDEX_DATABASE"); v != "" {
		c.Source.Database = v
	}
	if v := os.Getenv("APPTINDEX_SOCKET"); v != "" {
		c.Server.SocketPath = v
	}
	if v := os.Getenv("APPTINDEX_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("APPTINDEX_LOG_FILE"); v != "" {
		c.Server.LogFile = v
	}
	if v, ok := os.LookupEnv("APPTINDEX_METRICS_ADDR"); ok {
		c.Server.MetricsAddr = v
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Index.Path == "" {
		return fmt.Errorf("index.path cannot be empty (use %q for an in-memory index)", MemoryIndexPath)
	}
	if c.Index.BatchSize <= 0 {
		return fmt.Errorf("index.batch_size must be positive, got %d", c.Index.BatchSize)
	}
	if c.Index.FormCacheSize <= 0 {
		return fmt.Errorf("index.form_cache_size must be positive, got %d", c.Index.FormCacheSize)
	}
	if c.Index.RebuildSchedule != "" {
		if _, err := cron.ParseStandard(c.Index.RebuildSchedule); err != nil {
			return fmt.Errorf("index.rebuild_schedule %q is not a valid cron expression: %w", c.Index.RebuildSchedule, err)
		}
	}

	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults)
	}
	if c.Search.DefaultPageSize < 0 {
		return fmt.Errorf("search.default_page_size cannot be negative, got %d", c.Search.DefaultPageSize)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	if c.Source.Database == "" {
		return fmt.Errorf("source.database cannot be empty")
	}

	if c.Server.SocketPath == "" {
		return fmt.Errorf("server.socket_path cannot be empty")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}
	if _, err := c.TimeoutDuration(); err != nil {
		return err
	}

	return nil
}

// IndexEnabled reports whether the indexer should process notifications.
func (c *Config) IndexEnabled() bool {
	return c.Index.Enabled == nil || *c.Index.Enabled
}

// InMemoryIndex reports whether the index lives only in memory.
func (c *Config) InMemoryIndex() bool {
	return c.Index.Path == MemoryIndexPath
}

// Location resolves search.time_zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Search.TimeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Search.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("search.time_zone %q: %w", c.Search.TimeZone, err)
	}
	return loc, nil
}

// TimeoutDuration parses server.timeout.
func (c *Config) TimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.Server.Timeout)
	if err != nil {
		return 0, fmt.Errorf("server.timeout %q: %w", c.Server.Timeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}
	return d, nil
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
