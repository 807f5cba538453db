package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Aman-CERP/apptindex/internal/app"
	"github.com/Aman-CERP/apptindex/internal/config"
	"github.com/Aman-CERP/apptindex/internal/daemon"
	"github.com/Aman-CERP/apptindex/internal/ledger"
	"github.com/Aman-CERP/apptindex/internal/search"
)

// backend is what the commands need from the indexer. It is served by a
// running daemon or by an App opened in this process.
type backend interface {
	Search(ctx context.Context, params daemon.SearchParams) (search.Page, error)
	Notify(ctx context.Context, id int, kind ledger.Kind) error
	Rebuild(ctx context.Context) error
	Check(ctx context.Context, repair bool) (*daemon.CheckResult, error)
	Status(ctx context.Context) (*daemon.StatusResult, error)
	Close() error
}

// loadConfig loads --config when set, otherwise the user and project
// configuration for the working directory.
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	return config.Load(cwd)
}

// openBackend connects to the daemon when it is running, unless local is
// set, and otherwise opens the indexer in this process.
func openBackend(ctx context.Context, cfg *config.Config, local bool) (backend, error) {
	if !local {
		dcfg, err := daemon.FromConfig(cfg)
		if err != nil {
			return nil, err
		}
		client := daemon.NewClient(dcfg)
		if client.IsRunning() {
			slog.Debug("backend_daemon", slog.String("socket", dcfg.SocketPath))
			return remoteBackend{client}, nil
		}
	}

	slog.Debug("backend_local", slog.String("index", cfg.Index.Path))
	a, err := app.Open(cfg, slog.Default())
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return &localBackend{app: a, timeout: timeout}, nil
}

type remoteBackend struct {
	*daemon.Client
}

func (remoteBackend) Close() error { return nil }

// localBackend runs the worker in this process. Changes are drained before
// each mutating call returns, since nothing keeps running afterwards.
type localBackend struct {
	app     *app.App
	timeout time.Duration
	started bool
}

func (b *localBackend) start(ctx context.Context) error {
	if b.started {
		return nil
	}
	b.started = true
	return b.app.Start(ctx)
}

func (b *localBackend) Search(ctx context.Context, params daemon.SearchParams) (search.Page, error) {
	if err := params.Validate(); err != nil {
		return search.Page{}, err
	}
	return b.app.Search.Search(ctx, params.Filter, params.Start, params.PageSize, params.Sort), nil
}

func (b *localBackend) Notify(ctx context.Context, id int, kind ledger.Kind) error {
	if err := b.start(ctx); err != nil {
		return err
	}
	if err := b.app.Coordinator.Notify(ctx, id, kind); err != nil {
		return err
	}
	return b.app.WaitIdle(ctx, b.timeout)
}

func (b *localBackend) Rebuild(ctx context.Context) error {
	if err := b.start(ctx); err != nil {
		return err
	}
	if err := b.app.Coordinator.RebuildAll(ctx); err != nil {
		return err
	}
	return b.app.WaitIdle(ctx, b.timeout)
}

func (b *localBackend) Check(ctx context.Context, repair bool) (*daemon.CheckResult, error) {
	res, err := b.app.Checker.Check(ctx)
	if err != nil {
		return nil, err
	}
	out := &daemon.CheckResult{CheckResult: *res}
	if !repair || res.Consistent() {
		return out, nil
	}
	if err := b.start(ctx); err != nil {
		return nil, err
	}
	out.Repaired, err = b.app.Checker.Repair(ctx, b.app.Coordinator, res.Inconsistencies)
	if err != nil {
		return out, err
	}
	return out, b.app.WaitIdle(ctx, b.timeout)
}

func (b *localBackend) Status(ctx context.Context) (*daemon.StatusResult, error) {
	st, err := b.app.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &daemon.StatusResult{Running: false, PID: os.Getpid(), Indexer: st}, nil
}

// Sync drains the ledger once on the calling goroutine.
func (b *localBackend) Sync(ctx context.Context) error {
	return b.app.Sync(ctx)
}

func (b *localBackend) Close() error {
	return b.app.Close()
}
