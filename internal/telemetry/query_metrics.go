// Package telemetry records how the appointment search is used: which
// filter fields and sort attributes appear, how long queries take and
// which filter shapes return nothing. Only field names are kept, never
// the searched values, and everything stays in the local database.
package telemetry

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/apptindex/internal/search"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// MatchAll is the shape of a search with no constraint.
const MatchAll = "match_all"

// QueryEvent is one answered search.
type QueryEvent struct {
	// Fields names the constrained filter fields, sorted.
	Fields []string
	// Sort is the sort attribute, empty for relevance order.
	Sort        string
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time

	// fingerprint identifies the exact filter, values included.
	fingerprint string
}

// EventFromSearch builds an event from a search request and its outcome.
func EventFromSearch(f search.Filter, sort *search.SortSpec, total int, elapsed time.Duration) QueryEvent {
	ev := QueryEvent{
		Fields:      filterFields(f),
		ResultCount: total,
		Latency:     elapsed,
		Timestamp:   time.Now(),
	}
	if sort != nil {
		ev.Sort = sort.Attribute
	}
	if data, err := json.Marshal(struct {
		F search.Filter
		S *search.SortSpec
	}{f, sort}); err == nil {
		sum := sha256.Sum256(data)
		ev.fingerprint = hex.EncodeToString(sum[:16])
	}
	return ev
}

// Shape joins the field names, e.g. "last_name+start_date".
func (e QueryEvent) Shape() string {
	if len(e.Fields) == 0 {
		return MatchAll
	}
	return strings.Join(e.Fields, "+")
}

// IsZeroResult returns true if this query returned no results.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

func filterFields(f search.Filter) []string {
	var fields []string
	add := func(set bool, name string) {
		if set {
			fields = append(fields, name)
		}
	}
	add(f.FormID > 0, "id_form")
	add(f.CategoryID > 0, "id_category")
	add(f.FirstName != "", "first_name")
	add(f.LastName != "", "last_name")
	add(f.Email != "", "email")
	add(f.PhoneNumber != "", "phone_number")
	add(!f.StartingDate.IsZero(), "starting_date")
	add(!f.EndingDate.IsZero(), "ending_date")
	add(f.Status != search.StatusAny, "status")
	slices.Sort(fields)
	return fields
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int // next write position
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a new circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item to the buffer. If full, the oldest item is evicted.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns all items in the buffer, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items in the buffer.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Clear removes all items from the buffer.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// FieldCount is a filter field and how many queries used it.
type FieldCount struct {
	Field string `json:"field"`
	Count int64  `json:"count"`
}

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	Fields              []FieldCount            `json:"fields"`
	Sorts               map[string]int64        `json:"sorts"`
	ZeroResultShapes    []string                `json:"zero_result_shapes"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	ExactRepeatRate     float64                 `json:"exact_repeat_rate"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the percentage of zero-result queries.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// Store persists query metrics.
type Store interface {
	SaveFieldCounts(date string, counts map[string]int64) error
	FieldCounts(from, to string) (map[string]int64, error)
	AddZeroResultShapes(shapes []string, at time.Time) error
	ZeroResultShapes(limit int) ([]string, error)
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	LatencyCounts(from, to string) (map[LatencyBucket]int64, error)
}

// Config configures the collector.
type Config struct {
	ZeroResultsCapacity   int           // default 100
	RecentQueriesCapacity int           // default 500
	FlushInterval         time.Duration // 0 disables periodic flushing
	Logger                *slog.Logger
}

// DefaultConfig returns the collector defaults.
func DefaultConfig() Config {
	return Config{
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         time.Minute,
	}
}

// QueryMetrics collects search telemetry. It is safe for concurrent use
// and implements search.QueryObserver.
type QueryMetrics struct {
	mu sync.Mutex

	total         int64
	zeroResults   int64
	exactRepeats  int64
	fields        map[string]int64
	sorts         map[string]int64
	latencies     map[LatencyBucket]int64
	zeroShapes    *CircularBuffer[string]
	recentQueries *lru.Cache[string, struct{}]
	startTime     time.Time

	// Counts recorded since the last flush.
	pendingFields    map[string]int64
	pendingLatencies map[LatencyBucket]int64
	pendingShapes    []string

	store  Store
	logger *slog.Logger
	stopCh chan struct{}
	done   chan struct{}
	closed bool
}

// New creates a collector. A nil store keeps metrics in memory only.
func New(store Store, cfg Config) *QueryMetrics {
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 100
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = 500
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	recent, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)
	m := &QueryMetrics{
		fields:           make(map[string]int64),
		sorts:            make(map[string]int64),
		latencies:        make(map[LatencyBucket]int64),
		zeroShapes:       NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		recentQueries:    recent,
		startTime:        time.Now(),
		pendingFields:    make(map[string]int64),
		pendingLatencies: make(map[LatencyBucket]int64),
		store:            store,
		logger:           cfg.Logger,
		stopCh:           make(chan struct{}),
		done:             make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		go m.flushLoop(cfg.FlushInterval)
	} else {
		close(m.done)
	}
	return m
}

func (m *QueryMetrics) flushLoop(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.Flush(); err != nil {
				m.logger.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
			}
		case <-m.stopCh:
			return
		}
	}
}

// ObserveQuery records one answered search.
func (m *QueryMetrics) ObserveQuery(f search.Filter, sort *search.SortSpec, total int, elapsed time.Duration) {
	m.Record(EventFromSearch(f, sort, total, elapsed))
}

// Record captures one event.
func (m *QueryMetrics) Record(ev QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.total++
	fields := ev.Fields
	if len(fields) == 0 {
		fields = []string{MatchAll}
	}
	for _, f := range fields {
		m.fields[f]++
		m.pendingFields[f]++
	}
	if ev.Sort != "" {
		m.sorts[ev.Sort]++
	}

	bucket := LatencyToBucket(ev.Latency)
	m.latencies[bucket]++
	m.pendingLatencies[bucket]++

	if ev.IsZeroResult() {
		m.zeroResults++
		m.zeroShapes.Add(ev.Shape())
		m.pendingShapes = append(m.pendingShapes, ev.Shape())
	}

	if ev.fingerprint != "" {
		if _, seen := m.recentQueries.Get(ev.fingerprint); seen {
			m.exactRepeats++
		}
		m.recentQueries.Add(ev.fingerprint, struct{}{})
	}
}

// Snapshot returns the metrics collected by this process.
func (m *QueryMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields := make([]FieldCount, 0, len(m.fields))
	for f, n := range m.fields {
		fields = append(fields, FieldCount{Field: f, Count: n})
	}
	sortFieldCounts(fields)

	var repeatRate float64
	if m.total > 0 {
		repeatRate = float64(m.exactRepeats) / float64(m.total)
	}

	return Snapshot{
		TotalQueries:        m.total,
		ZeroResultCount:     m.zeroResults,
		Fields:              fields,
		Sorts:               maps.Clone(m.sorts),
		ZeroResultShapes:    m.zeroShapes.Items(),
		LatencyDistribution: maps.Clone(m.latencies),
		ExactRepeatCount:    m.exactRepeats,
		ExactRepeatRate:     repeatRate,
		Since:               m.startTime,
	}
}

func sortFieldCounts(fields []FieldCount) {
	slices.SortFunc(fields, func(a, b FieldCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Field, b.Field)
	})
}

// Flush writes the counts recorded since the previous flush. On failure
// the counts are kept for the next attempt.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	fields, latencies, shapes := m.pendingFields, m.pendingLatencies, m.pendingShapes
	m.pendingFields = make(map[string]int64)
	m.pendingLatencies = make(map[LatencyBucket]int64)
	m.pendingShapes = nil
	m.mu.Unlock()

	if len(fields) == 0 && len(latencies) == 0 && len(shapes) == 0 {
		return nil
	}

	today := time.Now().Format(time.DateOnly)
	err := m.store.SaveFieldCounts(today, fields)
	if err == nil {
		err = m.store.SaveLatencyCounts(today, latencies)
		if err != nil {
			fields = nil
		}
	}
	if err == nil {
		err = m.store.AddZeroResultShapes(shapes, time.Now())
		if err != nil {
			fields, latencies = nil, nil
		}
	}
	if err != nil {
		m.requeue(fields, latencies, shapes)
		return err
	}
	return nil
}

func (m *QueryMetrics) requeue(fields map[string]int64, latencies map[LatencyBucket]int64, shapes []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for f, n := range fields {
		m.pendingFields[f] += n
	}
	for b, n := range latencies {
		m.pendingLatencies[b] += n
	}
	m.pendingShapes = append(shapes, m.pendingShapes...)
}

// History reads persisted counts for the days between from and to,
// inclusive, and the most recent zero-result shapes.
func (m *QueryMetrics) History(from, to time.Time, limit int) (Snapshot, error) {
	var snap Snapshot
	if m.store == nil {
		return snap, nil
	}
	fromDay, toDay := from.Format(time.DateOnly), to.Format(time.DateOnly)

	fields, err := m.store.FieldCounts(fromDay, toDay)
	if err != nil {
		return snap, err
	}
	for f, n := range fields {
		snap.Fields = append(snap.Fields, FieldCount{Field: f, Count: n})
	}
	sortFieldCounts(snap.Fields)

	if snap.LatencyDistribution, err = m.store.LatencyCounts(fromDay, toDay); err != nil {
		return snap, err
	}
	for _, n := range snap.LatencyDistribution {
		snap.TotalQueries += n
	}
	if snap.ZeroResultShapes, err = m.store.ZeroResultShapes(limit); err != nil {
		return snap, err
	}
	snap.Since = from
	return snap, nil
}

// Close stops periodic flushing and writes what is pending.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	select {
	case <-m.done:
	default:
		close(m.stopCh)
		<-m.done
	}
	return m.Flush()
}
