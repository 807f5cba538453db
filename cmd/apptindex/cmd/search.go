package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/apptindex/internal/config"
	"github.com/Aman-CERP/apptindex/internal/daemon"
	"github.com/Aman-CERP/apptindex/internal/search"
	"github.com/Aman-CERP/apptindex/internal/ui"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	formID     int
	categoryID int
	firstName  string
	lastName   string
	email      string
	phone      string
	from       string
	fromTime   string
	to         string
	toTime     string
	status     string
	start      int
	limit      int
	sortBy     string
	desc       bool
	format     string
	noColor    bool
	local      bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search indexed appointments",
		Long: `Search indexed appointments by form, category, person fields,
date range and cancellation status.

Name, email and phone filters match case-insensitively as substrings.
Dates are YYYY-MM-DD in the configured time zone; times are HH:MM.
With no filter at all every appointment matches.`,
		Example: `  apptindex search --last-name dupont
  apptindex search --form 3 --from 2024-05-01 --to 2024-05-31 --status active
  apptindex search --email @example.org --sort start_date --limit 20 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSearch(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.formID, "form", 0, "Form id")
	cmd.Flags().IntVar(&opts.categoryID, "category", 0, "Form category id")
	cmd.Flags().StringVar(&opts.firstName, "first-name", "", "First name, ignoring case")
	cmd.Flags().StringVar(&opts.lastName, "last-name", "", "Last name, ignoring case")
	cmd.Flags().StringVar(&opts.email, "email", "", "Email address, ignoring case")
	cmd.Flags().StringVar(&opts.phone, "phone", "", "Phone number")
	cmd.Flags().StringVar(&opts.from, "from", "", "Starting on or after this day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.fromTime, "from-time", "", "Time of day for --from (HH:MM)")
	cmd.Flags().StringVar(&opts.to, "to", "", "Starting on or before this day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.toTime, "to-time", "", "Time of day for --to (HH:MM)")
	cmd.Flags().StringVar(&opts.status, "status", "any", "Cancellation status: any, active, cancelled")
	cmd.Flags().IntVar(&opts.start, "start", 0, "Offset of the first result")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Page size (default: search.default_page_size)")
	cmd.Flags().StringVar(&opts.sortBy, "sort", "", "Sort attribute, e.g. start_date, last_name, nb_seats_int")
	cmd.Flags().BoolVar(&opts.desc, "desc", false, "Sort descending")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "auto", "Output format: auto, table, json")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Search in this process even if the daemon is running")

	return cmd
}

func runSearch(cmd *cobra.Command, opts searchOptions) error {
	ctx := cmd.Context()

	format, ok := ui.ParseFormat(opts.format)
	if !ok {
		return fmt.Errorf("invalid format %q (use: auto, table, json)", opts.format)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	params, err := buildSearchParams(cfg, opts)
	if err != nil {
		return err
	}

	b, err := openBackend(ctx, cfg, opts.local)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	slog.Debug("search_started", slog.Int("start", params.Start), slog.Int("page_size", params.PageSize))
	page, err := b.Search(ctx, params)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	slog.Debug("search_complete", slog.Int("total", page.Total), slog.Int("returned", len(page.Items)))

	renderer := ui.NewResultsRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithFormat(format),
		ui.WithNoColor(opts.noColor)))
	return renderer.Render(page, params.Start)
}

// buildSearchParams turns flags into request parameters. Dates are parsed
// in the configured zone.
func buildSearchParams(cfg *config.Config, opts searchOptions) (daemon.SearchParams, error) {
	loc, err := cfg.Location()
	if err != nil {
		return daemon.SearchParams{}, err
	}
	status, err := search.ParseStatus(opts.status)
	if err != nil {
		return daemon.SearchParams{}, err
	}

	f := search.Filter{
		FormID:       opts.formID,
		CategoryID:   opts.categoryID,
		FirstName:    opts.firstName,
		LastName:     opts.lastName,
		Email:        opts.email,
		PhoneNumber:  opts.phone,
		StartingTime: opts.fromTime,
		EndingTime:   opts.toTime,
		Status:       status,
	}
	if f.StartingDate, err = parseDay(opts.from, loc); err != nil {
		return daemon.SearchParams{}, fmt.Errorf("--from: %w", err)
	}
	if f.EndingDate, err = parseDay(opts.to, loc); err != nil {
		return daemon.SearchParams{}, fmt.Errorf("--to: %w", err)
	}

	pageSize := opts.limit
	if pageSize == 0 {
		pageSize = cfg.Search.DefaultPageSize
	}

	params := daemon.SearchParams{Filter: f, Start: opts.start, PageSize: pageSize}
	if opts.sortBy != "" {
		params.Sort = &search.SortSpec{Attribute: opts.sortBy, Ascending: !opts.desc}
	}
	return params, params.Validate()
}

func parseDay(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}
