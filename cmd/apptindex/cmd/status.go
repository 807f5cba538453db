package cmd

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/apptindex/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var (
		jsonOutput bool
		noColor    bool
		local      bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show indexer status",
		Long: `Show the indexer state, document count, pending actions per kind,
sync counters, the rebuild schedule and whether the daemon is running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, jsonOutput, noColor, local)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVar(&local, "local", false, "Read status in this process even if the daemon is running")
	return cmd
}

func runStatus(cmd *cobra.Command, jsonOutput, noColor, local bool) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	b, err := openBackend(ctx, cfg, local)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	st, err := b.Status(ctx)
	if err != nil {
		return err
	}

	info := ui.StatusInfo{
		Indexer: st.Indexer,
		Daemon:  st.Running,
		Uptime:  st.Uptime,
	}
	if st.Running {
		info.PID = st.PID
	}
	if !cfg.InMemoryIndex() {
		info.IndexSize = dirSize(cfg.Index.Path)
	}

	uiCfg := ui.NewConfig(cmd.OutOrStdout(), ui.WithNoColor(noColor))
	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), uiCfg.NoColor)
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

// dirSize sums the regular files under path. Unreadable entries are skipped.
func dirSize(path string) int64 {
	var size int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				size += info.Size()
			}
		}
		return nil
	})
	if size == 0 {
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			size = info.Size()
		}
	}
	return size
}
