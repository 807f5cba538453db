package cmd

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/apptindex/internal/config"
	"github.com/Aman-CERP/apptindex/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		jsonOutput bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that this machine can run the indexer",
		Long: `Validate the configuration, disk space, write permissions, file
descriptor limits, the appointment database and the index directory.

A successful run is remembered so 'daemon start' can skip the checks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, jsonOutput, verbose)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", true, "Show check details")
	return cmd
}

func runDoctor(cmd *cobra.Command, jsonOutput, verbose bool) error {
	// An invalid file still gets reported through the config check.
	cfg, err := loadConfig()
	if err != nil {
		cfg = nil
	}

	checker := preflight.New(
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)
	results := checker.RunAll(cmd.Context(), cfg)

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Status string                  `json:"status"`
			Checks []preflight.CheckResult `json:"checks"`
		}{checker.SummaryStatus(results), results}); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
	}

	if checker.HasCriticalFailures(results) {
		if err != nil {
			return err
		}
		return errors.New("system checks failed")
	}
	_ = preflight.MarkPassed(config.DataDir(), cfg)
	return nil
}
