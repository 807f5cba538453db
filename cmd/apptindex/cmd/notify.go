package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/apptindex/internal/ledger"
	"github.com/Aman-CERP/apptindex/internal/output"
)

func newNotifyCmd() *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "notify <create|update|delete> <appointment-id>...",
		Short: "Announce created, updated or deleted appointments",
		Long: `Record a pending action for each appointment and wake the sync worker.

The daemon indexes the change in the background. Without a running daemon
the change is drained in this process before the command returns.`,
		Example: `  apptindex notify create 42
  apptindex notify update 42 43 44
  apptindex notify delete 42`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotify(cmd, args[0], args[1:], local)
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "Drain in this process even if the daemon is running")
	return cmd
}

func runNotify(cmd *cobra.Command, action string, rawIDs []string, local bool) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())

	kind, err := ledger.ParseKind(action)
	if err != nil {
		return err
	}
	ids := make([]int, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := strconv.Atoi(raw)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid appointment id %q", raw)
		}
		ids = append(ids, id)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	b, err := openBackend(ctx, cfg, local)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	for _, id := range ids {
		if err := b.Notify(ctx, id, kind); err != nil {
			return fmt.Errorf("notify %s %d: %w", kind, id, err)
		}
	}
	if !cfg.IndexEnabled() {
		out.Warning("Indexer is disabled; notifications were ignored")
		return nil
	}
	out.Successf("Recorded %d %s action(s)", len(ids), kind)
	return nil
}
