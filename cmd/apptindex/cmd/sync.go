package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/apptindex/internal/daemon"
	"github.com/Aman-CERP/apptindex/internal/output"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Drain pending actions into the index once",
		Long: `Apply every pending action recorded in the ledger to the index and exit.

Use this from cron or after bulk database changes when no daemon is
running. A running daemon drains the ledger itself, so sync refuses to
compete with it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd)
		},
	}
}

func runSync(cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dcfg, err := daemon.FromConfig(cfg)
	if err != nil {
		return err
	}
	if daemon.NewClient(dcfg).IsRunning() {
		return errors.New("the daemon is running and drains the ledger itself")
	}

	b, err := openBackend(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	local := b.(*localBackend)

	if err := local.Sync(ctx); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	st, err := local.Status(ctx)
	if err != nil {
		return err
	}
	stats := st.Indexer.Stats
	out.Successf("Synced: %d added, %d deleted, %d documents in index",
		stats.DocsAdded, stats.DocsDeleted, st.Indexer.Documents)
	if stats.JoinSkips > 0 {
		out.Warningf("%d appointment(s) skipped, see the log for details", stats.JoinSkips)
	}
	pending := 0
	for _, n := range st.Indexer.Pending {
		pending += n
	}
	if pending > 0 {
		out.Warningf("%d action(s) still pending", pending)
	}
	return nil
}
