// Package daemon runs the indexer as a long-lived process. It owns the
// sync worker and serves search, notify, rebuild, check and status
// requests as JSON-RPC 2.0 over a Unix socket.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/apptindex/internal/config"
)

// Config holds configuration for the daemon service.
type Config struct {
	// SocketPath is the Unix domain socket path for IPC.
	// Default: ~/.apptindex/daemon.sock
	SocketPath string

	// PIDPath is the file path for storing the daemon's process ID.
	// Default: next to the socket, daemon.pid
	PIDPath string

	// Timeout is the maximum duration for client-daemon communication.
	// Default: 30s
	Timeout time.Duration

	// ShutdownGracePeriod bounds how long Start waits for the in-flight
	// pass and the metrics listener when stopping.
	// Default: 10s
	ShutdownGracePeriod time.Duration

	// MetricsAddr serves prometheus metrics when set.
	MetricsAddr string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	dir := config.DataDir()
	return Config{
		SocketPath:          filepath.Join(dir, "daemon.sock"),
		PIDPath:             filepath.Join(dir, "daemon.pid"),
		Timeout:             30 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
	}
}

// FromConfig derives the daemon settings from the application config.
func FromConfig(cfg *config.Config) (Config, error) {
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return Config{}, err
	}
	d := DefaultConfig()
	d.SocketPath = cfg.Server.SocketPath
	d.PIDPath = strings.TrimSuffix(cfg.Server.SocketPath, filepath.Ext(cfg.Server.SocketPath)) + ".pid"
	d.Timeout = timeout
	d.MetricsAddr = cfg.Server.MetricsAddr
	return d, nil
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if c.PIDPath == c.SocketPath {
		return fmt.Errorf("PID path cannot equal the socket path")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	return nil
}

// EnsureDir creates the directory for socket and PID files if it doesn't exist.
func (c Config) EnsureDir() error {
	socketDir := filepath.Dir(c.SocketPath)
	if err := os.MkdirAll(socketDir, 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	// The PID file may live elsewhere
	pidDir := filepath.Dir(c.PIDPath)
	if pidDir != socketDir {
		if err := os.MkdirAll(pidDir, 0755); err != nil {
			return fmt.Errorf("failed to create PID directory: %w", err)
		}
	}

	return nil
}
