package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/apptindex/internal/daemon"
	"github.com/Aman-CERP/apptindex/internal/output"
	"github.com/Aman-CERP/apptindex/internal/search"
	"github.com/Aman-CERP/apptindex/internal/validation"
)

func newValidateCmd() *cobra.Command {
	var (
		jsonOutput bool
		local      bool
	)

	cmd := &cobra.Command{
		Use:   "validate <suite.yaml>",
		Short: "Run a suite of expected searches against the index",
		Long: `Run every case of a YAML search suite and compare the returned
appointment ids with the expected ones.

Each case names a filter, an optional sort and page, and the ids it must
return. Dates in the suite are read in its time_zone, or in
search.time_zone when the suite sets none. The command exits non-zero when
a case fails.`,
		Example: `  apptindex validate testdata/searches.yaml
  apptindex validate --json suite.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0], jsonOutput, local)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&local, "local", false, "Search in this process even if the daemon is running")
	return cmd
}

func runValidate(cmd *cobra.Command, path string, jsonOutput, local bool) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())

	suite, err := validation.Load(path)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fallback, err := cfg.Location()
	if err != nil {
		return err
	}
	loc, err := suite.Location(fallback)
	if err != nil {
		return fmt.Errorf("suite time_zone: %w", err)
	}

	b, err := openBackend(ctx, cfg, local)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	s := &backendSearcher{b: b}
	res := validation.Run(ctx, s, suite, loc)
	if s.err != nil {
		return fmt.Errorf("search failed: %w", s.err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		for _, c := range res.Cases {
			label := c.Case.ID
			if c.Case.Name != "" {
				label += " (" + c.Case.Name + ")"
			}
			if c.Passed {
				out.Successf("%s %s", label, c.Duration.Round(time.Microsecond))
				continue
			}
			out.Errorf("%s: got %v, expected %v", label, c.Got, c.Case.Expected)
			if c.Error != "" {
				out.Status("", c.Error)
			}
		}
		out.Newline()
		out.Infof("%d passed, %d failed", res.Passed, res.Failed)
	}

	if !res.OK() {
		return fmt.Errorf("%d of %d case(s) failed", res.Failed, len(res.Cases))
	}
	return nil
}

// backendSearcher adapts a backend to validation.Searcher, keeping the
// first transport error so the run can be aborted afterwards.
type backendSearcher struct {
	b   backend
	err error
}

func (s *backendSearcher) Search(ctx context.Context, f search.Filter, start, pageSize int, sort *search.SortSpec) search.Page {
	if s.err != nil {
		return search.Page{}
	}
	page, err := s.b.Search(ctx, daemon.SearchParams{Filter: f, Start: start, PageSize: pageSize, Sort: sort})
	if err != nil {
		s.err = err
	}
	return page
}
