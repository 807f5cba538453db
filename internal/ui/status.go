package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Aman-CERP/apptindex/internal/app"
	"github.com/Aman-CERP/apptindex/internal/ledger"
)

// StatusInfo is everything the status command shows.
type StatusInfo struct {
	Indexer app.Status `json:"indexer"`

	// Daemon fields are set when the status came from a running daemon.
	Daemon bool   `json:"daemon"`
	PID    int    `json:"pid,omitempty"`
	Uptime string `json:"uptime,omitempty"`

	// IndexSize is the on-disk size in bytes, zero for in-memory indexes.
	IndexSize int64 `json:"index_size"`
}

// StatusRenderer displays indexer status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	st := info.Indexer
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render(fmt.Sprintf("%s %s", st.Name, st.Version)))

	enabled := r.styles.Success.Render("enabled")
	if !st.Enabled {
		enabled = r.styles.Warning.Render("disabled")
	}
	_, _ = fmt.Fprintf(r.out, "  Indexer:   %s, %s\n", enabled, r.renderState(st.State))
	_, _ = fmt.Fprintf(r.out, "  Documents: %d\n", st.Documents)
	if info.IndexSize > 0 {
		_, _ = fmt.Fprintf(r.out, "  Index:     %s (%s)\n", st.IndexPath, FormatBytes(info.IndexSize))
	} else {
		_, _ = fmt.Fprintf(r.out, "  Index:     %s\n", st.IndexPath)
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Pending:")
	for _, kind := range ledger.Kinds {
		n := st.Pending[kind.String()]
		count := fmt.Sprintf("%d", n)
		if n > 0 {
			count = r.styles.Warning.Render(count)
		}
		_, _ = fmt.Fprintf(r.out, "    %-7s %s\n", kind.String()+":", count)
	}
	_, _ = fmt.Fprintln(r.out)

	stats := st.Stats
	_, _ = fmt.Fprintln(r.out, "  Sync:")
	_, _ = fmt.Fprintf(r.out, "    Passes:     %d (%d rebuilds)\n", stats.Passes, stats.Rebuilds)
	_, _ = fmt.Fprintf(r.out, "    Added:      %d\n", stats.DocsAdded)
	_, _ = fmt.Fprintf(r.out, "    Deleted:    %d\n", stats.DocsDeleted)
	if stats.JoinSkips > 0 {
		_, _ = fmt.Fprintf(r.out, "    Skipped:    %s\n", r.styles.Warning.Render(fmt.Sprintf("%d", stats.JoinSkips)))
	}
	if stats.Failures > 0 {
		_, _ = fmt.Fprintf(r.out, "    Failures:   %s\n", r.styles.Error.Render(fmt.Sprintf("%d", stats.Failures)))
	}
	if !stats.LastPass.IsZero() {
		_, _ = fmt.Fprintf(r.out, "    Last pass:  %s (took %s)\n", formatTime(stats.LastPass), stats.LastDuration.Round(time.Millisecond))
	}
	if stats.LastError != "" {
		_, _ = fmt.Fprintf(r.out, "    Last error: %s\n", r.styles.Error.Render(stats.LastError))
	}

	if st.Schedule != nil {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintf(r.out, "  Rebuild:   %s", st.Schedule.Schedule)
		if !st.Schedule.NextRun.IsZero() {
			_, _ = fmt.Fprintf(r.out, ", next %s", st.Schedule.NextRun.Format("2006-01-02 15:04"))
		}
		_, _ = fmt.Fprintln(r.out)
	}

	if q := st.Queries; q != nil && q.TotalQueries > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "  Searches (7 days):")
		_, _ = fmt.Fprintf(r.out, "    Total:      %d\n", q.TotalQueries)
		fields := make([]string, 0, len(q.Fields))
		for _, f := range q.Fields[:min(len(q.Fields), 5)] {
			fields = append(fields, fmt.Sprintf("%s (%d)", f.Field, f.Count))
		}
		_, _ = fmt.Fprintf(r.out, "    Fields:     %s\n", strings.Join(fields, ", "))
		if len(q.ZeroResultShapes) > 0 {
			_, _ = fmt.Fprintf(r.out, "    No results: %s\n", r.styles.Dim.Render(strings.Join(q.ZeroResultShapes, ", ")))
		}
	}

	_, _ = fmt.Fprintln(r.out)
	if info.Daemon {
		_, _ = fmt.Fprintf(r.out, "  Daemon:    %s (pid %d, up %s)\n", r.styles.Success.Render("running"), info.PID, info.Uptime)
	} else {
		_, _ = fmt.Fprintf(r.out, "  Daemon:    %s\n", r.styles.Warning.Render("not running"))
	}

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderState formats a worker state with color.
func (r *StatusRenderer) renderState(state string) string {
	switch state {
	case "idle":
		return r.styles.Success.Render(state)
	case "running", "running_retrigger":
		return r.styles.Warning.Render(state)
	default:
		return state
	}
}

// formatTime formats a time relative to now.
func formatTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
