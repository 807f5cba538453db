package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrPIDFileNotFound is returned when the PID file doesn't exist.
var ErrPIDFileNotFound = errors.New("PID file not found")

// PIDInfo is what a running daemon records about itself, so that other
// commands can tell which index and socket it owns without connecting.
type PIDInfo struct {
	PID       int       `json:"pid"`
	Socket    string    `json:"socket"`
	Index     string    `json:"index"`
	Metrics   string    `json:"metrics,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Uptime returns the time since the daemon started.
func (i PIDInfo) Uptime() time.Duration {
	if i.StartedAt.IsZero() {
		return 0
	}
	return time.Since(i.StartedAt).Round(time.Second)
}

// PIDFile manages the daemon PID file.
type PIDFile struct {
	path string
}

// NewPIDFile creates a PIDFile for path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the PID file path.
func (p *PIDFile) Path() string {
	return p.path
}

// Write records info for the current process. PID and StartedAt are
// filled in when zero. The file is replaced atomically so a concurrent
// reader never sees half a record.
func (p *PIDFile) Write(info PIDInfo) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}

	if info.PID == 0 {
		info.PID = os.Getpid()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode PID file: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// ReadInfo reads the recorded daemon details. A file holding only a
// process id yields an info with just PID set.
func (p *PIDFile) ReadInfo() (PIDInfo, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return PIDInfo{}, ErrPIDFileNotFound
		}
		return PIDInfo{}, fmt.Errorf("failed to read PID file: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if pid, err := strconv.Atoi(text); err == nil {
		return PIDInfo{PID: pid}, nil
	}

	var info PIDInfo
	if err := json.Unmarshal([]byte(text), &info); err != nil {
		return PIDInfo{}, fmt.Errorf("invalid PID file: %w", err)
	}
	if info.PID <= 0 {
		return PIDInfo{}, fmt.Errorf("invalid PID %d in %s", info.PID, p.path)
	}
	return info, nil
}

// Read returns the recorded process id.
func (p *PIDFile) Read() (int, error) {
	info, err := p.ReadInfo()
	if err != nil {
		return 0, err
	}
	return info.PID, nil
}

// Remove deletes the PID file. A missing file is not an error.
func (p *PIDFile) Remove() error {
	err := os.Remove(p.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// IsRunning reports whether the recorded process is alive.
func (p *PIDFile) IsRunning() bool {
	pid, err := p.Read()
	if err != nil {
		return false
	}
	return processExists(pid)
}

// Signal sends sig to the recorded process.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	pid, err := p.Read()
	if err != nil {
		return fmt.Errorf("failed to read PID: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(sig); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}
	return nil
}

// processExists probes pid with signal 0; FindProcess alone always
// succeeds on Unix.
func processExists(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
