// Package index keeps the appointment search index in step with the source
// of truth. A single Worker goroutine drains the pending action ledger into
// the index store; notifications arriving while it runs are coalesced into
// one follow-up pass.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/apptindex/internal/document"
	"github.com/Aman-CERP/apptindex/internal/ledger"
	"github.com/Aman-CERP/apptindex/internal/source"
	"github.com/Aman-CERP/apptindex/internal/store"
)

// DefaultBatchSize is the number of ids fetched, deleted or written per
// index call.
const DefaultBatchSize = 100

// State is the worker run state.
type State int32

const (
	// Idle means no pass is running.
	Idle State = iota
	// Running means a pass is in flight and nothing has asked for another.
	Running
	// RunningRetrigger means a pass is in flight and one more will follow.
	RunningRetrigger
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case RunningRetrigger:
		return "running_retrigger"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stats is a snapshot of worker counters.
type Stats struct {
	Passes       int           `json:"passes"`
	Rebuilds     int           `json:"rebuilds"`
	DocsAdded    int           `json:"docs_added"`
	DocsDeleted  int           `json:"docs_deleted"`
	JoinSkips    int           `json:"join_skips"`
	Failures     int           `json:"failures"`
	LastPass     time.Time     `json:"last_pass,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
}

// WorkerConfig holds the worker collaborators. Store, Ledger, Appointments
// and Forms are required.
type WorkerConfig struct {
	Store        *store.Store
	Ledger       ledger.Ledger
	Appointments source.Appointments
	Forms        source.Forms
	States       source.Option[source.StateResolver]

	BatchSize int
	Logger    *slog.Logger
	Metrics   *Metrics
}

// purger is implemented by form caches that must be refreshed every pass.
type purger interface {
	Purge()
}

// Worker is the single-flight, coalescing synchronization worker.
type Worker struct {
	store        *store.Store
	ledger       ledger.Ledger
	appointments source.Appointments
	forms        source.Forms
	states       source.Option[source.StateResolver]
	batchSize    int
	logger       *slog.Logger
	metrics      *Metrics

	state   atomic.Int32
	rebuild atomic.Bool
	signal  chan struct{}
	exited  atomic.Bool

	// commit applies one batch; tests swap it to inject write failures.
	commit func(*store.Writer) error

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   atomic.Bool

	mu    sync.Mutex
	stats Stats
}

// NewWorker validates cfg and returns a stopped worker.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("index store is required")
	case cfg.Ledger == nil:
		return nil, errors.New("ledger is required")
	case cfg.Appointments == nil:
		return nil, errors.New("appointment source is required")
	case cfg.Forms == nil:
		return nil, errors.New("form source is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}

	return &Worker{
		store:        cfg.Store,
		ledger:       cfg.Ledger,
		appointments: cfg.Appointments,
		forms:        cfg.Forms,
		states:       cfg.States,
		batchSize:    cfg.BatchSize,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		signal:       make(chan struct{}, 1),
		commit:       (*store.Writer).Commit,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}, nil
}

// Start launches the worker goroutine. It is non-blocking; later calls
// are no-ops. Cancelling ctx stops the loop once the current pass ends.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.loop(ctx)
	})
}

// Stop asks the loop to exit and waits for the in-flight pass to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	if w.started.Load() {
		<-w.doneCh
	}
}

// State returns the current run state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Notify requests a pass. If none is running one is started; if one is
// running exactly one more pass is scheduled after it. It never blocks.
// After the loop has exited Notify does nothing; the ledger keeps the work.
func (w *Worker) Notify() {
	for {
		if w.exited.Load() {
			return
		}
		switch State(w.state.Load()) {
		case Idle:
			if w.state.CompareAndSwap(int32(Idle), int32(Running)) {
				select {
				case w.signal <- struct{}{}:
				default:
				}
				if w.exited.Load() {
					w.state.Store(int32(Idle))
				}
				return
			}
		case Running:
			if w.state.CompareAndSwap(int32(Running), int32(RunningRetrigger)) {
				return
			}
		default:
			return
		}
	}
}

// RequestRebuild schedules a full rebuild on the next pass and notifies.
func (w *Worker) RequestRebuild() {
	w.rebuild.Store(true)
	w.Notify()
}

// WaitIdle blocks until no pass is running or pending, or ctx is done.
func (w *Worker) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if w.State() == Idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce runs one drain cycle on the caller's goroutine. It shares the
// writer lock with the background loop.
func (w *Worker) RunOnce(ctx context.Context) error {
	return w.cycle(ctx)
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.doneCh)
	defer func() {
		w.exited.Store(true)
		w.state.Store(int32(Idle))
	}()

	w.logger.Debug("sync_worker_started", slog.Int("batch_size", w.batchSize))
	defer w.logger.Debug("sync_worker_stopped")

	// Passes are not cancelled midway; only the wait between them is.
	passCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-w.signal:
		}

		for {
			_ = w.cycle(passCtx)
			if w.finishPass() {
				break
			}
		}
	}
}

// finishPass reports whether the worker went idle. A pending retrigger is
// consumed and the caller runs another pass.
func (w *Worker) finishPass() bool {
	for {
		switch State(w.state.Load()) {
		case RunningRetrigger:
			if w.state.CompareAndSwap(int32(RunningRetrigger), int32(Running)) {
				return false
			}
		case Running:
			if w.state.CompareAndSwap(int32(Running), int32(Idle)) {
				return true
			}
		default:
			return true
		}
	}
}

// pass accumulates the outcome of one drain cycle.
type pass struct {
	rebuild  bool
	deletes  map[int]struct{}
	adds     map[int]struct{}
	added    int
	deleted  int
	skipped  int
	failures int
	err      error
}

func (p *pass) fail(err error) {
	p.failures++
	if p.err == nil {
		p.err = err
	}
}

func (w *Worker) cycle(ctx context.Context) error {
	start := time.Now()
	p := &pass{
		deletes: make(map[int]struct{}),
		adds:    make(map[int]struct{}),
	}
	defer func() { w.record(p, time.Since(start)) }()

	release, err := w.store.AcquireWriter(ctx)
	if err != nil {
		w.logger.Error("sync_lock_failed", slog.String("error", err.Error()))
		w.metrics.Failures.WithLabelValues("lock").Inc()
		p.fail(err)
		return err
	}
	defer release()

	writer, err := w.store.Open(false)
	if err != nil {
		w.logger.Error("sync_open_failed",
			slog.String("path", w.store.Path()),
			slog.String("error", err.Error()))
		w.metrics.Failures.WithLabelValues("open").Inc()
		p.fail(err)
		return err
	}

	if c, ok := w.forms.(purger); ok {
		c.Purge()
	}

	if w.rebuild.Swap(false) {
		p.rebuild = true
		if err := w.prepareRebuild(ctx, writer, p); err != nil {
			w.rebuild.Store(true)
			return err
		}
	}

	w.drain(ctx, p)

	w.applyDeletes(ctx, writer, p)
	w.applyAdds(ctx, writer, p)

	w.logger.Info("sync_pass_completed",
		slog.Bool("rebuild", p.rebuild),
		slog.Int("added", p.added),
		slog.Int("deleted", p.deleted),
		slog.Int("skipped", p.skipped),
		slog.Int("failures", p.failures),
		slog.Duration("duration", time.Since(start)))
	return p.err
}

// prepareRebuild empties the index and queues every known id for adding.
func (w *Worker) prepareRebuild(ctx context.Context, writer *store.Writer, p *pass) error {
	if err := writer.DeleteAll(); err != nil {
		w.logger.Error("sync_rebuild_clear_failed", slog.String("error", err.Error()))
		w.metrics.Failures.WithLabelValues("rebuild").Inc()
		p.fail(err)
		return err
	}
	ids, err := w.appointments.ListAllIDs(ctx)
	if err != nil {
		w.logger.Error("sync_rebuild_list_failed", slog.String("error", err.Error()))
		w.metrics.Failures.WithLabelValues("rebuild").Inc()
		p.fail(err)
		return err
	}
	for _, id := range ids {
		p.adds[id] = struct{}{}
	}
	w.logger.Info("sync_rebuild_started", slog.Int("appointments", len(ids)))
	return nil
}

// drain moves every ledger entry into the pass id sets. Entries returned
// alongside an error were already removed and are kept.
func (w *Worker) drain(ctx context.Context, p *pass) {
	if counts, err := w.ledger.Counts(ctx); err == nil {
		for _, kind := range ledger.Kinds {
			w.metrics.Pending.WithLabelValues(kind.String()).Set(float64(counts[kind]))
		}
	}

	for _, kind := range ledger.Kinds {
		actions, err := w.ledger.ListAndClear(ctx, kind)
		for _, a := range actions {
			switch kind {
			case ledger.Delete:
				p.deletes[a.EntityID] = struct{}{}
			case ledger.Modify:
				p.deletes[a.EntityID] = struct{}{}
				p.adds[a.EntityID] = struct{}{}
			case ledger.Create:
				p.adds[a.EntityID] = struct{}{}
			}
		}
		if err != nil {
			w.logger.Error("ledger_drain_failed",
				slog.String("kind", kind.String()),
				slog.Int("drained", len(actions)),
				slog.String("error", err.Error()))
			w.metrics.Failures.WithLabelValues("drain").Inc()
			p.fail(err)
		}
	}
}

// applyDeletes removes ids that are not re-added in this pass, one commit
// per batch. Modified ids are replaced by applyAdds instead, so they never
// vanish from the index between two batches.
func (w *Worker) applyDeletes(ctx context.Context, writer *store.Writer, p *pass) {
	ids := make([]int, 0, len(p.deletes))
	for id := range p.deletes {
		if _, readd := p.adds[id]; !readd {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	for _, batch := range batches(ids, w.batchSize) {
		writer.Delete(batch...)
		if w.flush(ctx, writer, batch, p) {
			p.deleted += len(batch)
		}
	}
}

// applyAdds fetches, encodes and commits each batch of ids on its own. A
// modified id whose record is gone or cannot be encoded is deleted in the
// same batch.
func (w *Worker) applyAdds(ctx context.Context, writer *store.Writer, p *pass) {
	for _, batch := range batches(sortedIDs(p.adds), w.batchSize) {
		docs, err := w.buildBatch(ctx, batch, p)
		if err != nil {
			w.logger.Error("sync_batch_failed",
				slog.Int("batch_size", len(batch)),
				slog.Int("first_id", batch[0]),
				slog.String("error", err.Error()))
			w.metrics.Failures.WithLabelValues("fetch").Inc()
			p.fail(err)
			w.requeue(ctx, batch, p)
			continue
		}

		stale := staleIDs(batch, docs, p.deletes)
		writer.Add(docs...)
		writer.Delete(stale...)
		if w.flush(ctx, writer, batch, p) {
			p.added += len(docs)
			p.deleted += len(stale)
		}
	}
}

// flush commits the staged batch. On failure the batch ids go back on the
// ledger and the pass moves on to the next batch.
func (w *Worker) flush(ctx context.Context, writer *store.Writer, ids []int, p *pass) bool {
	if err := w.commit(writer); err != nil {
		w.logger.Error("sync_commit_failed",
			slog.Int("batch_size", len(ids)),
			slog.Int("first_id", ids[0]),
			slog.Bool("rebuild", p.rebuild),
			slog.String("error", err.Error()))
		w.metrics.Failures.WithLabelValues("commit").Inc()
		p.fail(err)
		w.requeue(ctx, ids, p)
		return false
	}
	return true
}

func staleIDs(batch []int, docs []document.Document, deletes map[int]struct{}) []int {
	written := make(map[int]struct{}, len(docs))
	for _, doc := range docs {
		written[doc.ID] = struct{}{}
	}
	var stale []int
	for _, id := range batch {
		if _, ok := written[id]; ok {
			continue
		}
		if _, ok := deletes[id]; ok {
			stale = append(stale, id)
		}
	}
	return stale
}

// buildBatch fetches the records for ids and encodes them. Records whose
// form cannot be resolved are logged and skipped.
func (w *Worker) buildBatch(ctx context.Context, ids []int, p *pass) ([]document.Document, error) {
	records, err := w.appointments.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	docs := make([]document.Document, 0, len(records))
	for _, r := range records {
		doc, err := w.build(ctx, r)
		if err != nil {
			w.logger.Error("document_join_failed",
				slog.Int("appointment_id", r.ID),
				slog.Int("form_id", r.FormID),
				slog.String("error", err.Error()))
			w.metrics.JoinSkips.Inc()
			p.skipped++
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (w *Worker) build(ctx context.Context, r document.Record) (document.Document, error) {
	form, err := w.forms.FindForm(ctx, r.FormID)
	if err != nil {
		return document.Document{}, fmt.Errorf("resolve form %d: %w", r.FormID, err)
	}

	var stateID *int
	if resolver, ok := w.states.Get(); ok && form.WorkflowID > 0 {
		st, err := resolver.FindState(ctx, r.ID, form.WorkflowID)
		switch {
		case err == nil:
			stateID = &st.ID
		case !errors.Is(err, source.ErrNotFound):
			w.logger.Warn("workflow_state_unresolved",
				slog.Int("appointment_id", r.ID),
				slog.Int("workflow_id", form.WorkflowID),
				slog.String("error", err.Error()))
		}
	}

	return document.Encode(r, stateID, form.CategoryID), nil
}

// requeue records the ids of a failed batch on the ledger again so the
// next pass retries them. A rebuild that lost a batch is run again whole.
func (w *Worker) requeue(ctx context.Context, ids []int, p *pass) {
	if p.rebuild {
		w.rebuild.Store(true)
		return
	}
	for _, id := range ids {
		_, add := p.adds[id]
		_, del := p.deletes[id]
		kind := ledger.Delete
		switch {
		case add && del:
			kind = ledger.Modify
		case add:
			kind = ledger.Create
		}
		if err := w.ledger.Record(ctx, id, kind); err != nil {
			w.logger.Warn("ledger_requeue_failed",
				slog.Int("appointment_id", id),
				slog.String("kind", kind.String()),
				slog.String("error", err.Error()))
		}
	}
}

func (w *Worker) record(p *pass, d time.Duration) {
	mode := "incremental"
	if p.rebuild {
		mode = "rebuild"
	}
	w.metrics.Passes.WithLabelValues(mode).Inc()
	w.metrics.DocsAdded.Add(float64(p.added))
	w.metrics.DocsDeleted.Add(float64(p.deleted))
	w.metrics.PassDuration.Observe(d.Seconds())

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Passes++
	if p.rebuild {
		w.stats.Rebuilds++
	}
	w.stats.DocsAdded += p.added
	w.stats.DocsDeleted += p.deleted
	w.stats.JoinSkips += p.skipped
	w.stats.Failures += p.failures
	w.stats.LastPass = time.Now()
	w.stats.LastDuration = d
	w.stats.LastError = ""
	if p.err != nil {
		w.stats.LastError = p.err.Error()
	}
}

func sortedIDs(set map[int]struct{}) []int {
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func batches(ids []int, size int) [][]int {
	var out [][]int
	for len(ids) > 0 {
		n := min(size, len(ids))
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}
