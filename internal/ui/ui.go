// Package ui renders search pages, indexer status and import progress for
// the terminal: styled output on a TTY, JSON or plain lines everywhere else.
package ui

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// Format selects how results are written.
type Format int

const (
	// FormatAuto picks FormatTable on a terminal and FormatJSON otherwise.
	FormatAuto Format = iota
	// FormatTable writes aligned, optionally colored columns.
	FormatTable
	// FormatJSON writes indented JSON.
	FormatJSON
)

// ParseFormat parses "auto", "table" or "json".
func ParseFormat(s string) (Format, bool) {
	switch s {
	case "", "auto":
		return FormatAuto, true
	case "table", "text":
		return FormatTable, true
	case "json":
		return FormatJSON, true
	}
	return FormatAuto, false
}

// Config configures the renderers.
type Config struct {
	Output  io.Writer
	Format  Format
	NoColor bool
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithFormat sets the output format.
func WithFormat(f Format) ConfigOption {
	return func(c *Config) {
		c.Format = f
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// NewConfig creates a Config for output and resolves FormatAuto and the
// color preference from the environment.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}

	tty := IsTTY(output)
	if cfg.Format == FormatAuto {
		cfg.Format = FormatJSON
		if tty {
			cfg.Format = FormatTable
		}
	}
	if !tty || DetectNoColor() || DetectCI() {
		cfg.NoColor = true
	}
	return cfg
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}

	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
