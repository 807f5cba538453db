package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/apptindex/internal/config"
	"github.com/Aman-CERP/apptindex/pkg/version"
)

// MarkerFile is the name of the file recording the last passed check.
const MarkerFile = ".preflight-passed"

// MarkerMaxAge is how long a passed check is trusted.
const MarkerMaxAge = 24 * time.Hour

// Marker records a passed check and the setup it was run against. A
// different index location, source database or binary version invalidates
// it.
type Marker struct {
	PassedAt       time.Time `yaml:"passed_at"`
	IndexPath      string    `yaml:"index_path"`
	SourceDatabase string    `yaml:"source_database"`
	Version        string    `yaml:"version"`
}

// MarkerFor returns the marker describing cfg, stamped now.
func MarkerFor(cfg *config.Config) Marker {
	return Marker{
		PassedAt:       time.Now().UTC().Truncate(time.Second),
		IndexPath:      absPath(cfg.Index.Path),
		SourceDatabase: absPath(cfg.Source.Database),
		Version:        version.Short(),
	}
}

// covers reports whether m was recorded for the same setup as other.
func (m Marker) covers(other Marker) bool {
	return m.IndexPath == other.IndexPath &&
		m.SourceDatabase == other.SourceDatabase &&
		m.Version == other.Version
}

func absPath(p string) string {
	if p == "" || p == config.MemoryIndexPath {
		return p
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// NeedsCheck reports whether checks must run before starting with cfg:
// no marker, an expired one, or one recorded for another setup.
func NeedsCheck(dataDir string, cfg *config.Config) bool {
	m, err := ReadMarker(dataDir)
	if err != nil {
		return true
	}
	if time.Since(m.PassedAt) > MarkerMaxAge {
		return true
	}
	return !m.covers(MarkerFor(cfg))
}

// MarkPassed records that checks passed for cfg.
func MarkPassed(dataDir string, cfg *config.Config) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	data, err := yaml.Marshal(MarkerFor(cfg))
	if err != nil {
		return fmt.Errorf("encode marker: %w", err)
	}
	return os.WriteFile(filepath.Join(dataDir, MarkerFile), data, 0o644)
}

// ReadMarker reads the marker in dataDir.
func ReadMarker(dataDir string) (Marker, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	if err != nil {
		return Marker{}, err
	}
	var m Marker
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Marker{}, fmt.Errorf("parse marker: %w", err)
	}
	if m.PassedAt.IsZero() {
		return Marker{}, fmt.Errorf("marker has no passed_at")
	}
	return m, nil
}

// ClearMarker removes the marker, forcing a check on next start.
func ClearMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, MarkerFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

// MarkerAge returns how long ago checks passed, or zero without a marker.
func MarkerAge(dataDir string) time.Duration {
	m, err := ReadMarker(dataDir)
	if err != nil {
		return 0
	}
	return time.Since(m.PassedAt)
}
