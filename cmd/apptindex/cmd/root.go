// Package cmd provides the CLI commands for apptindex.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/apptindex/internal/logging"
	"github.com/Aman-CERP/apptindex/internal/profiling"
	"github.com/Aman-CERP/apptindex/pkg/version"
)

// Profiling flags
var (
	profileOpts profiling.Options
	stopProfile func() error
)

// Global flags
var (
	configFile     string
	logLevel       string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the apptindex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apptindex",
		Short: "Full-text index and search for appointments",
		Long: `apptindex keeps a full-text index of appointments in sync with the
appointment database and answers filtered, paged searches over it.

Changes are announced with 'apptindex notify' (or over the daemon socket),
recorded in a pending action ledger and drained into the index by a single
background worker.

Run 'apptindex daemon start' to keep the worker running, then use
'apptindex search' to query the index.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("apptindex version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default: user config + .apptindex.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "CLI log level on stderr (debug|info|warn|error)")

	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write execution trace to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Goroutine, "profile-goroutine", "", "Write goroutine stacks to file on exit")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newNotifyCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging installs the stderr logger and starts the
// requested profiles.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	logger, cleanup, err := logging.Setup(logging.StderrConfig(logLevel))
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)

	if profileOpts.Enabled() {
		stopProfile, err = profiling.NewProfiler().Start(profileOpts)
		if err != nil {
			return fmt.Errorf("failed to start profiling: %w", err)
		}
	}
	return nil
}

// stopProfilingAndLogging writes the profiles and flushes the logger.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error
	if stopProfile != nil {
		err = stopProfile()
		stopProfile = nil
	}

	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}

	if err != nil {
		return fmt.Errorf("failed to write profiles: %w", err)
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
