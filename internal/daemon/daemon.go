package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Aman-CERP/apptindex/internal/app"
	"github.com/Aman-CERP/apptindex/internal/ledger"
	"github.com/Aman-CERP/apptindex/internal/search"
)

// ErrAlreadyRunning is returned by Start when another daemon owns the PID file.
var ErrAlreadyRunning = errors.New("daemon already running")

// Daemon serves an App over the Unix socket.
type Daemon struct {
	cfg    Config
	app    *app.App
	logger *slog.Logger
	server *Server
	pid    *PIDFile

	mu          sync.Mutex
	metricsAddr string
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger sets the logger. The default is the App's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Daemon) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDaemon creates a daemon for a. The caller keeps ownership of a and
// closes it after Start returns.
func NewDaemon(cfg Config, a *app.App, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid daemon config: %w", err)
	}
	if a == nil {
		return nil, errors.New("app is required")
	}

	d := &Daemon{
		cfg:    cfg,
		app:    a,
		logger: a.Logger,
		pid:    NewPIDFile(cfg.PIDPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}

	srv, err := NewServer(cfg.SocketPath, cfg.Timeout, d.logger)
	if err != nil {
		return nil, err
	}
	srv.SetHandler(d)
	d.server = srv
	return d, nil
}

// Start writes the PID file, starts the worker and serves requests until
// ctx is cancelled. It returns ctx.Err() after a clean shutdown.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.cfg.EnsureDir(); err != nil {
		return err
	}

	if pid, err := d.pid.Read(); err == nil && pid != os.Getpid() && processExists(pid) {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}
	if err := d.pid.Write(PIDInfo{
		Socket:  d.cfg.SocketPath,
		Index:   d.app.Store.Path(),
		Metrics: d.cfg.MetricsAddr,
	}); err != nil {
		return err
	}
	defer d.cleanup()

	if err := d.app.Start(ctx); err != nil {
		return fmt.Errorf("failed to start indexer: %w", err)
	}

	stopMetrics, err := d.serveMetrics()
	if err != nil {
		return err
	}
	defer stopMetrics()

	d.logger.Info("daemon_started",
		slog.Int("pid", os.Getpid()),
		slog.String("socket", d.cfg.SocketPath),
		slog.String("index", d.app.Store.Path()))

	err = d.server.ListenAndServe(ctx)
	d.logger.Info("daemon_stopping")
	return err
}

// MetricsAddr returns the bound metrics address once serving, or "".
func (d *Daemon) MetricsAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metricsAddr
}

func (d *Daemon) serveMetrics() (func(), error) {
	if d.cfg.MetricsAddr == "" {
		return func() {}, nil
	}

	ln, err := net.Listen("tcp", d.cfg.MetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", d.cfg.MetricsAddr, err)
	}
	d.mu.Lock()
	d.metricsAddr = ln.Addr().String()
	d.mu.Unlock()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.app.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: d.cfg.Timeout}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("metrics_server_failed", slog.String("error", err.Error()))
		}
	}()
	d.logger.Info("metrics_listening", slog.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownGracePeriod)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			d.logger.Warn("metrics_shutdown_failed", slog.String("error", err.Error()))
		}
	}, nil
}

// cleanup removes the PID file.
func (d *Daemon) cleanup() {
	if err := d.pid.Remove(); err != nil {
		d.logger.Warn("pid_file_remove_failed", slog.String("error", err.Error()))
	}
}

// Search implements RequestHandler.
func (d *Daemon) Search(ctx context.Context, params SearchParams) (search.Page, error) {
	return d.app.Search.Search(ctx, params.Filter, params.Start, params.PageSize, params.Sort), nil
}

// Notify implements RequestHandler.
func (d *Daemon) Notify(ctx context.Context, id int, kind ledger.Kind) error {
	return d.app.Coordinator.Notify(ctx, id, kind)
}

// Rebuild implements RequestHandler.
func (d *Daemon) Rebuild(ctx context.Context) error {
	return d.app.Coordinator.RebuildAll(ctx)
}

// Check implements RequestHandler.
func (d *Daemon) Check(ctx context.Context, repair bool) (CheckResult, error) {
	res, err := d.app.Checker.Check(ctx)
	if err != nil {
		return CheckResult{}, err
	}
	out := CheckResult{CheckResult: *res}
	if repair && !res.Consistent() {
		out.Repaired, err = d.app.Checker.Repair(ctx, d.app.Coordinator, res.Inconsistencies)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// Status implements RequestHandler.
func (d *Daemon) Status(ctx context.Context) (app.Status, error) {
	return d.app.Status(ctx)
}

// WaitReady blocks until the socket accepts connections or timeout elapses.
func WaitReady(cfg Config, timeout time.Duration) error {
	client := NewClient(cfg)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if client.IsRunning() {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("daemon not ready after %s", timeout)
}
