package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// plainStep is the progress fraction between two printed lines.
const plainStep = 10

// PlainRenderer prints one line per tenth of each stage, for logs and pipes.
type PlainRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	stage   Stage
	printed int // last printed percentage bucket, -1 when none
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(out io.Writer) *PlainRenderer {
	return &PlainRenderer{out: out, stage: StageImport, printed: -1}
}

// Start implements ProgressRenderer.
func (r *PlainRenderer) Start(context.Context) error {
	return nil
}

// UpdateProgress implements ProgressRenderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Stage != r.stage {
		r.stage = event.Stage
		r.printed = -1
	}

	if event.Total <= 0 {
		if event.Message != "" {
			_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), event.Message)
		}
		return
	}

	bucket := event.Current * 100 / event.Total / plainStep
	if bucket == r.printed {
		return
	}
	r.printed = bucket
	_, _ = fmt.Fprintf(r.out, "[%s] %d/%d", event.Stage.Icon(), event.Current, event.Total)
	if event.Message != "" {
		_, _ = fmt.Fprintf(r.out, " - %s", event.Message)
	}
	_, _ = fmt.Fprintln(r.out)
}

// Complete implements ProgressRenderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "[%s] %d created, %d updated, %d deleted; %d documents indexed in %s\n",
		StageComplete.Icon(), stats.Created, stats.Updated, stats.Deleted, stats.Indexed,
		stats.Duration.Round(100*time.Millisecond))
}

// Stop implements ProgressRenderer.
func (r *PlainRenderer) Stop() error {
	return nil
}
