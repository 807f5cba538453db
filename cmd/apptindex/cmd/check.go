package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/apptindex/internal/output"
)

// maxListedIssues caps how many inconsistencies are printed in text mode.
const maxListedIssues = 20

func newCheckCmd() *cobra.Command {
	var (
		repair     bool
		jsonOutput bool
		local      bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare the index with the database",
		Long: `Compare indexed document ids with the appointments in the database.

Orphans are indexed documents whose appointment no longer exists; missing
entries are appointments that were never indexed. With --repair a delete or
create action is recorded for each one. The command exits non-zero while
the index is inconsistent and unrepaired.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd, repair, jsonOutput, local)
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Queue actions that fix every inconsistency")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&local, "local", false, "Check in this process even if the daemon is running")
	return cmd
}

func runCheck(cmd *cobra.Command, repair, jsonOutput, local bool) error {
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

	res, err := b.Check(ctx, repair)
	if err != nil {
		return fmt.Errorf("consistency check failed: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		out.Infof("Checked %d appointments against %d indexed documents in %s",
			res.Checked, res.Indexed, res.Duration.Round(time.Millisecond))
		if res.Consistent() {
			out.Success("Index is consistent")
			return nil
		}
		out.Warningf("%d inconsistencies", len(res.Inconsistencies))
		for i, issue := range res.Inconsistencies {
			if i == maxListedIssues {
				out.Status("", fmt.Sprintf("... and %d more", len(res.Inconsistencies)-i))
				break
			}
			out.Status("", fmt.Sprintf("%-8s appointment %d", issue.Type, issue.AppointmentID))
		}
		if res.Repaired > 0 {
			out.Successf("Queued %d repair action(s)", res.Repaired)
		}
	}

	if !res.Consistent() && res.Repaired < len(res.Inconsistencies) {
		return fmt.Errorf("index is inconsistent: %d issue(s)", len(res.Inconsistencies)-res.Repaired)
	}
	return nil
}
