// Package app wires configuration into a running indexer: the SQLite
// source and ledger, the bleve store, the sync worker, the optional rebuild
// schedule and the search service.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Aman-CERP/apptindex/internal/config"
	"github.com/Aman-CERP/apptindex/internal/database"
	"github.com/Aman-CERP/apptindex/internal/index"
	"github.com/Aman-CERP/apptindex/internal/ledger"
	"github.com/Aman-CERP/apptindex/internal/search"
	"github.com/Aman-CERP/apptindex/internal/source"
	"github.com/Aman-CERP/apptindex/internal/store"
	"github.com/Aman-CERP/apptindex/internal/telemetry"
)

// queryHistoryDays is how far back Status reads search telemetry.
const queryHistoryDays = 7

// App holds every long-lived component built from a Config.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	DB          *sql.DB
	Source      *source.SQLiteStore
	Forms       *source.CachedForms
	Ledger      *ledger.SQLiteLedger
	Store       *store.Store
	Worker      *index.Worker
	Coordinator *index.Coordinator
	Scheduler   *index.Scheduler // nil when no rebuild schedule is configured
	Search      *search.Service
	Checker     *index.ConsistencyChecker
	Queries     *telemetry.QueryMetrics
	Registry    *prometheus.Registry

	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

// Status is a point-in-time view of the indexer.
type Status struct {
	Name      string         `json:"name"`
	Version   string         `json:"version"`
	Enabled   bool           `json:"enabled"`
	State     string         `json:"state"`
	IndexPath string         `json:"index_path"`
	Documents uint64         `json:"documents"`
	Pending   map[string]int `json:"pending"`
	Stats     index.Stats    `json:"stats"`
	Schedule  *index.JobInfo `json:"schedule,omitempty"`

	// Queries summarizes searches over the last week.
	Queries *telemetry.Snapshot `json:"queries,omitempty"`
}

// Open validates cfg and builds the component graph. Nothing runs in the
// background until Start.
func Open(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	a.DB, err = database.Open(cfg.Source.Database)
	if err != nil {
		return nil, err
	}
	a.Source, err = source.NewSQLiteStore(a.DB)
	if err != nil {
		return nil, err
	}
	a.Ledger, err = ledger.NewSQLite(a.DB)
	if err != nil {
		return nil, err
	}
	a.Forms = source.NewCachedForms(a.Source, cfg.Index.FormCacheSize)
	a.Store = store.New(cfg.Index.Path, store.WithLogger(logger))

	a.Worker, err = index.NewWorker(index.WorkerConfig{
		Store:        a.Store,
		Ledger:       a.Ledger,
		Appointments: a.Source,
		Forms:        a.Forms,
		States:       source.Some[source.StateResolver](a.Source),
		BatchSize:    cfg.Index.BatchSize,
		Logger:       logger,
		Metrics:      index.NewMetrics(a.Registry),
	})
	if err != nil {
		return nil, err
	}

	a.Coordinator, err = index.NewCoordinator(index.CoordinatorConfig{
		Worker:  a.Worker,
		Ledger:  a.Ledger,
		Enabled: cfg.IndexEnabled(),
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Index.RebuildSchedule != "" {
		a.Scheduler, err = index.NewScheduler(a.Coordinator, cfg.Index.RebuildSchedule, logger)
		if err != nil {
			return nil, err
		}
	}

	queryStore, err := telemetry.NewSQLiteStore(a.DB)
	if err != nil {
		return nil, err
	}
	a.Queries = telemetry.New(queryStore, telemetry.Config{
		FlushInterval: time.Minute,
		Logger:        logger,
	})

	engine := search.NewEngine(a.Store,
		search.WithMaxResults(cfg.Search.MaxResults),
		search.WithLocation(loc),
		search.WithLogger(logger))
	a.Search = search.NewService(search.ServiceConfig{
		Engine:     engine,
		Forms:      a.Forms,
		Categories: source.Some[source.Categories](a.Source),
		States:     source.Some[source.StateResolver](a.Source),
		Observer:   a.Queries,
		Logger:     logger,
	})
	a.Checker = index.NewConsistencyChecker(a.Source, a.Store, logger)

	ok = true
	return a, nil
}

// Start launches the worker and the rebuild schedule. Entries left in the
// ledger by an earlier run are drained right away, and a full rebuild is
// queued when index.rebuild_on_start is set.
func (a *App) Start(ctx context.Context) error {
	var err error
	a.startOnce.Do(func() {
		a.Worker.Start(ctx)
		if a.Scheduler != nil {
			a.Scheduler.Start()
		}
		if a.Config.Index.RebuildOnStart {
			if rerr := a.Coordinator.RebuildAll(ctx); rerr != nil && !errors.Is(rerr, index.ErrDisabled) {
				err = rerr
				return
			}
		}
		a.Worker.Notify()
	})
	return err
}

// Sync runs one drain cycle in the calling goroutine.
func (a *App) Sync(ctx context.Context) error {
	return a.Worker.RunOnce(ctx)
}

// Status collects the current indexer status.
func (a *App) Status(ctx context.Context) (Status, error) {
	st := Status{
		Name:      a.Coordinator.Name(),
		Version:   a.Coordinator.Version(),
		Enabled:   a.Coordinator.Enabled(),
		State:     a.Worker.State().String(),
		IndexPath: a.Store.Path(),
		Stats:     a.Worker.Stats(),
		Pending:   map[string]int{},
	}

	counts, err := a.Ledger.Counts(ctx)
	if err != nil {
		return st, fmt.Errorf("failed to count pending actions: %w", err)
	}
	for _, kind := range ledger.Kinds {
		st.Pending[kind.String()] = counts[kind]
	}

	docs, err := a.Store.DocCount()
	if err != nil {
		a.Logger.Debug("status_doc_count_unavailable", slog.String("error", err.Error()))
	}
	st.Documents = docs

	if a.Scheduler != nil {
		job := a.Scheduler.Job()
		st.Schedule = &job
	}

	if err := a.Queries.Flush(); err != nil {
		a.Logger.Debug("status_query_flush_failed", slog.String("error", err.Error()))
	}
	now := time.Now()
	if hist, err := a.Queries.History(now.AddDate(0, 0, -queryHistoryDays), now, 5); err == nil {
		st.Queries = &hist
	} else {
		a.Logger.Debug("status_query_history_unavailable", slog.String("error", err.Error()))
	}
	return st, nil
}

// Close stops background work and releases the index and database.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		if a.Scheduler != nil {
			if err := a.Scheduler.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
			}
		}
		if a.Worker != nil {
			a.Worker.Stop()
		}
		if a.Queries != nil {
			if err := a.Queries.Close(); err != nil {
				errs = append(errs, fmt.Errorf("flush query telemetry: %w", err))
			}
		}
		if a.Store != nil {
			if err := a.Store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close index: %w", err))
			}
		}
		if a.DB != nil {
			if err := a.DB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close database: %w", err))
			}
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

// WaitIdle blocks until the worker has nothing left to do or timeout
// elapses.
func (a *App) WaitIdle(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return a.Worker.WaitIdle(ctx)
}
