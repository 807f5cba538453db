package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/apptindex/internal/app"
	"github.com/Aman-CERP/apptindex/internal/config"
	"github.com/Aman-CERP/apptindex/internal/daemon"
	"github.com/Aman-CERP/apptindex/internal/logging"
	"github.com/Aman-CERP/apptindex/internal/output"
	"github.com/Aman-CERP/apptindex/internal/preflight"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background indexing daemon",
		Long: `The daemon owns the index: it runs the sync worker, the rebuild
schedule and a Unix socket that answers search, notify, rebuild, check and
status requests from the CLI.

Commands:
  start   Start the daemon (runs in background by default)
  stop    Stop the running daemon
  status  Show daemon status

Examples:
  apptindex daemon start      # Start daemon in background
  apptindex daemon start -f   # Run in foreground (for debugging)
  apptindex daemon status     # Check if daemon is running
  apptindex daemon stop       # Stop the daemon`,
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	var (
		foreground bool
		skipCheck  bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the background daemon",
		Long: `Start the indexing daemon in the background.

System checks run on first start and are remembered for a day, or until
the index location, source database or version changes; use
--skip-check to bypass them. Use --foreground for debugging or to see
logs in real-time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStart(cmd, foreground, skipCheck)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")
	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip system checks")
	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Long: `Stop the running indexing daemon.

Sends SIGTERM so the worker can finish its current pass and close the index.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStop(cmd)
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStatus(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func loadDaemonConfig() (*config.Config, daemon.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, daemon.Config{}, err
	}
	dcfg, err := daemon.FromConfig(cfg)
	if err != nil {
		return nil, daemon.Config{}, err
	}
	return cfg, dcfg, nil
}

func runDaemonStart(cmd *cobra.Command, foreground, skipCheck bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg, dcfg, err := loadDaemonConfig()
	if err != nil {
		return err
	}

	client := daemon.NewClient(dcfg)
	if client.IsRunning() {
		out.Status("", "Daemon is already running")
		return nil
	}

	if !skipCheck && preflight.NeedsCheck(config.DataDir(), cfg) {
		checker := preflight.New(preflight.WithOutput(cmd.ErrOrStderr()))
		results := checker.RunAll(cmd.Context(), cfg)
		if checker.HasCriticalFailures(results) {
			checker.PrintResults(results)
			return errors.New("system checks failed, run 'apptindex doctor' for details")
		}
		if err := preflight.MarkPassed(config.DataDir(), cfg); err != nil {
			slog.Debug("preflight_marker_failed", slog.String("error", err.Error()))
		}
	}

	if foreground {
		return runDaemonForeground(cmd, out, cfg, dcfg)
	}
	return startDaemonBackground(out, client)
}

func runDaemonForeground(cmd *cobra.Command, out *output.Writer, cfg *config.Config, dcfg daemon.Config) error {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Server.LogLevel
	if cfg.Server.LogFile != "" {
		logCfg.FilePath = cfg.Server.LogFile
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	out.Status("", "Starting daemon in foreground...")
	out.Statusf("", "Socket: %s", dcfg.SocketPath)
	out.Statusf("", "Index:  %s", cfg.Index.Path)
	out.Statusf("", "Logs:   %s", logCfg.FilePath)
	if dcfg.MetricsAddr != "" {
		out.Statusf("", "Metrics: http://%s/metrics", dcfg.MetricsAddr)
	}
	out.Status("", "Press Ctrl+C to stop")
	out.Newline()

	if limit, err := preflight.RaiseFileLimit(preflight.MinFileDescriptors); err != nil {
		logger.Warn("file_limit_raise_failed", slog.String("error", err.Error()))
	} else {
		logger.Debug("file_limit", slog.Uint64("open_files", limit))
	}

	a, err := app.Open(cfg, logger)
	if err != nil {
		logger.Error("app_open_failed", slog.String("error", err.Error()))
		return err
	}
	defer func() { _ = a.Close() }()

	if ok, err := a.Checker.QuickCheck(cmd.Context()); err == nil && !ok {
		logger.Warn("index_count_mismatch",
			slog.String("hint", "pending actions may still be queued; run `apptindex check --repair` if it persists"))
	}

	d, err := daemon.NewDaemon(dcfg, a, daemon.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon_failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func startDaemonBackground(out *output.Writer, client *daemon.Client) error {
	out.Status("", "Starting daemon in background...")

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	args := []string{"daemon", "start", "--foreground", "--skip-check"}
	if configFile != "" {
		args = append(args, "--config", configFile)
	}
	bgCmd := exec.Command(execPath, args...)
	bgCmd.Stdout = nil
	bgCmd.Stderr = nil
	bgCmd.Stdin = nil
	bgCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Reap the child and notice early exits.
	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	for range 50 {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("daemon process exited unexpectedly: %w", err)
			}
			return errors.New("daemon process exited unexpectedly with code 0")
		default:
		}

		time.Sleep(100 * time.Millisecond)
		if client.IsRunning() {
			out.Successf("Daemon started (pid: %d)", bgCmd.Process.Pid)
			return nil
		}
	}

	return errors.New("daemon failed to start within timeout")
}

func runDaemonStop(cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	_, dcfg, err := loadDaemonConfig()
	if err != nil {
		return err
	}
	pidFile := daemon.NewPIDFile(dcfg.PIDPath)

	if !pidFile.IsRunning() {
		out.Status("", "Daemon is not running")
		return nil
	}

	pid, err := pidFile.Read()
	if err != nil {
		return fmt.Errorf("failed to read PID: %w", err)
	}

	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	deadline := time.Now().Add(dcfg.ShutdownGracePeriod + time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if !pidFile.IsRunning() {
			out.Successf("Daemon stopped (was pid: %d)", pid)
			return nil
		}
	}

	out.Warning("Daemon not responding, sending SIGKILL...")
	if err := pidFile.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill daemon: %w", err)
	}
	_ = pidFile.Remove()

	out.Success("Daemon killed")
	return nil
}

func runDaemonStatus(cmd *cobra.Command, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	_, dcfg, err := loadDaemonConfig()
	if err != nil {
		return err
	}
	client := daemon.NewClient(dcfg)
	info, infoErr := daemon.NewPIDFile(dcfg.PIDPath).ReadInfo()

	if !client.IsRunning() {
		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(daemon.StatusResult{Running: false})
		}
		out.Status("", "Daemon is not running")
		if infoErr == nil {
			out.Statusf("", "Stale PID file from pid %d (index %s) will be replaced on start", info.PID, info.Index)
		}
		out.Status("", "Run 'apptindex daemon start' to start it")
		return nil
	}

	status, err := client.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	out.Success("Daemon is running")
	out.Statusf("", "PID:       %d", status.PID)
	out.Statusf("", "Uptime:    %s", status.Uptime)
	out.Statusf("", "Socket:    %s", dcfg.SocketPath)
	if infoErr == nil && info.Index != "" {
		out.Statusf("", "Index:     %s", info.Index)
		if info.Metrics != "" {
			out.Statusf("", "Metrics:   http://%s/metrics", info.Metrics)
		}
	}
	out.Statusf("", "State:     %s", status.Indexer.State)
	out.Statusf("", "Documents: %d", status.Indexer.Documents)
	return nil
}
