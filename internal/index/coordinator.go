package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/Aman-CERP/apptindex/internal/ledger"
	"github.com/Aman-CERP/apptindex/pkg/version"
)

// IndexerName identifies the appointment indexer in status output.
const IndexerName = "AppointmentIndexer"

// ErrDisabled is returned when a rebuild is requested from a disabled
// indexer.
var ErrDisabled = errors.New("appointment indexer is disabled")

// CoordinatorConfig contains configuration for the Coordinator.
type CoordinatorConfig struct {
	// Worker drains the ledger. Required.
	Worker *Worker

	// Ledger receives one entry per notification. Required.
	Ledger ledger.Ledger

	// Enabled gates notifications and rebuilds.
	Enabled bool

	Logger *slog.Logger
}

// Coordinator is the entry point used by the mutation layer: every
// appointment create, update or delete records a ledger entry and wakes
// the worker.
type Coordinator struct {
	worker  *Worker
	ledger  ledger.Ledger
	logger  *slog.Logger
	enabled atomic.Bool
}

// NewCoordinator creates a new index coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Worker == nil {
		return nil, errors.New("worker is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Coordinator{
		worker: cfg.Worker,
		ledger: cfg.Ledger,
		logger: cfg.Logger,
	}
	c.enabled.Store(cfg.Enabled)
	return c, nil
}

// Name returns the indexer name.
func (c *Coordinator) Name() string { return IndexerName }

// Version returns the indexer version.
func (c *Coordinator) Version() string { return version.Short() }

// Enabled reports whether notifications wake the worker.
func (c *Coordinator) Enabled() bool { return c.enabled.Load() }

// SetEnabled turns the indexer on or off. Turning it back on wakes the
// worker so entries recorded while it was off are drained.
func (c *Coordinator) SetEnabled(enabled bool) {
	if was := c.enabled.Swap(enabled); enabled && !was {
		c.worker.Notify()
	}
}

// NotifyCreated queues a newly created appointment for indexing.
func (c *Coordinator) NotifyCreated(ctx context.Context, id int) error {
	return c.Notify(ctx, id, ledger.Create)
}

// NotifyUpdated queues a changed appointment for reindexing.
func (c *Coordinator) NotifyUpdated(ctx context.Context, id int) error {
	return c.Notify(ctx, id, ledger.Modify)
}

// NotifyDeleted queues a deleted appointment for removal.
func (c *Coordinator) NotifyDeleted(ctx context.Context, id int) error {
	return c.Notify(ctx, id, ledger.Delete)
}

// Notify records an entry of kind for id and wakes the worker. A disabled
// indexer still records the entry but leaves the worker asleep.
func (c *Coordinator) Notify(ctx context.Context, id int, kind ledger.Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("invalid action kind %d", int(kind))
	}
	if err := c.ledger.Record(ctx, id, kind); err != nil {
		return fmt.Errorf("record %s action for appointment %d: %w", kind, id, err)
	}
	if !c.Enabled() {
		c.logger.Debug("index_notify_deferred",
			slog.Int("appointment_id", id),
			slog.String("kind", kind.String()))
		return nil
	}
	c.worker.Notify()
	return nil
}

// RebuildAll empties the index and reindexes every appointment on the
// next pass. It is safe to call at any time.
func (c *Coordinator) RebuildAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.Enabled() {
		return ErrDisabled
	}
	c.logger.Info("index_rebuild_requested")
	c.worker.RequestRebuild()
	return nil
}

// Worker returns the underlying worker.
func (c *Coordinator) Worker() *Worker {
	return c.worker
}
