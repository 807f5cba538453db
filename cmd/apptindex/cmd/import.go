package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/apptindex/internal/app"
	"github.com/Aman-CERP/apptindex/internal/database"
	"github.com/Aman-CERP/apptindex/internal/daemon"
	"github.com/Aman-CERP/apptindex/internal/output"
	"github.com/Aman-CERP/apptindex/internal/seed"
	"github.com/Aman-CERP/apptindex/internal/source"
	"github.com/Aman-CERP/apptindex/internal/ui"
)

func newImportCmd() *cobra.Command {
	var (
		local    bool
		progress bool
		plain    bool
	)

	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Load categories, forms, states and appointments from YAML",
		Long: `Write a YAML dataset into the appointment database and announce every
appointment it creates, updates or deletes to the indexer.

Reference data (categories, workflow states, forms) is written first.
Appointments marked 'deleted: true' are removed. When the daemon is
running it receives the notifications; otherwise the index is updated in
this process before the command returns.`,
		Example: `  apptindex import testdata/appointments.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args[0], local, progress, plain)
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "Index in this process even if the daemon is running")
	cmd.Flags().BoolVar(&progress, "progress", true, "Show progress while importing and indexing")
	cmd.Flags().BoolVar(&plain, "plain", false, "Print progress as plain lines instead of an animated panel")
	return cmd
}

func runImport(cmd *cobra.Command, path string, local, showProgress, plain bool) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())

	ds, err := seed.Load(path)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.IndexEnabled() {
		out.Warning("Indexer is disabled; appointments are stored but not indexed")
	}

	var renderer ui.ProgressRenderer
	var onProgress seed.ProgressFunc
	if showProgress && len(ds.Appointments) > 0 {
		renderer = ui.NewProgressRenderer(cmd.OutOrStdout(), ui.DetectNoColor(), plain)
		if err := renderer.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = renderer.Stop() }()
		onProgress = func(done, total int) {
			renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageImport, Current: done, Total: total})
		}
	}

	began := time.Now()
	var res seed.Result
	var indexed uint64
	dcfg, err := daemon.FromConfig(cfg)
	if err != nil {
		return err
	}
	client := daemon.NewClient(dcfg)

	if !local && client.IsRunning() {
		db, err := database.Open(cfg.Source.Database)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		store, err := source.NewSQLiteStore(db)
		if err != nil {
			return err
		}
		res, err = seed.Apply(ctx, ds, store, client, onProgress)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
	} else {
		a, err := app.Open(cfg, slog.Default())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()
		if err := a.Start(ctx); err != nil {
			return err
		}
		res, err = seed.Apply(ctx, ds, a.Source, a.Coordinator, onProgress)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		timeout, err := cfg.TimeoutDuration()
		if err != nil {
			return err
		}
		if err := waitIndexed(ctx, a, renderer, timeout); err != nil {
			return fmt.Errorf("indexing did not finish: %w", err)
		}
		indexed, _ = a.Store.DocCount()
	}

	if renderer != nil {
		renderer.Complete(ui.CompletionStats{
			Created:  res.Created,
			Updated:  res.Updated,
			Deleted:  res.Deleted,
			Indexed:  indexed,
			Duration: time.Since(began),
		})
		_ = renderer.Stop()
	}

	out.Successf("Imported %s", path)
	out.Statusf("", "Categories:   %d", res.Categories)
	out.Statusf("", "States:       %d", res.States)
	out.Statusf("", "Forms:        %d", res.Forms)
	out.Statusf("", "Appointments: %d created, %d updated, %d deleted", res.Created, res.Updated, res.Deleted)
	return nil
}

// indexPollInterval is how often the remaining ledger size is sampled.
const indexPollInterval = 100 * time.Millisecond

// waitIndexed reports the draining ledger to r until the worker is idle.
func waitIndexed(ctx context.Context, a *app.App, r ui.ProgressRenderer, timeout time.Duration) error {
	if r == nil {
		return a.WaitIdle(ctx, timeout)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pending := func() int {
		counts, err := a.Ledger.Counts(ctx)
		if err != nil {
			return 0
		}
		n := 0
		for _, c := range counts {
			n += c
		}
		return n
	}

	total := pending()
	ticker := time.NewTicker(indexPollInterval)
	defer ticker.Stop()
	for {
		left := pending()
		r.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndex, Current: total - left, Total: total})
		if left == 0 {
			return a.WaitIdle(ctx, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
