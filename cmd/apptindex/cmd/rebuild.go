package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/apptindex/internal/index"
	"github.com/Aman-CERP/apptindex/internal/output"
)

func newRebuildCmd() *cobra.Command {
	var (
		local bool
		wait  bool
	)

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the whole index from the database",
		Long: `Empty the index and reindex every appointment on the next pass.

A running daemon rebuilds in the background and this command returns at
once unless --wait is given; check progress with 'apptindex status'.
Without a daemon the rebuild runs in this process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRebuild(cmd, local, wait)
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "Rebuild in this process even if the daemon is running")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the daemon to finish and show progress")
	return cmd
}

func runRebuild(cmd *cobra.Command, local, wait bool) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	b, err := openBackend(ctx, cfg, local)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	if err := b.Rebuild(ctx); err != nil {
		if errors.Is(err, index.ErrDisabled) {
			out.Warning("Indexer is disabled; nothing to rebuild")
			return nil
		}
		return err
	}

	if _, ok := b.(*localBackend); !ok {
		if !wait {
			out.Success("Rebuild queued on the daemon")
			return nil
		}
		if err := waitDrained(ctx, b, out); err != nil {
			return err
		}
	}
	st, err := b.Status(ctx)
	if err != nil {
		return err
	}
	out.Successf("Index rebuilt: %d documents", st.Indexer.Documents)
	if skipped := st.Indexer.Stats.JoinSkips; skipped > 0 {
		out.Warningf("%d appointment(s) skipped, see the log for details", skipped)
	}
	return nil
}

// drainPollInterval is how often --wait asks the daemon for its backlog.
const drainPollInterval = 200 * time.Millisecond

// waitDrained shows a progress bar until the daemon has no pending action.
func waitDrained(ctx context.Context, b backend, out *output.Writer) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	total := -1
	for {
		st, err := b.Status(ctx)
		if err != nil {
			return err
		}
		left := 0
		for _, n := range st.Indexer.Pending {
			left += n
		}
		if total < left {
			total = left
		}
		out.Progress(total-left, total, "appointments")
		if left == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
