package index

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/Aman-CERP/apptindex/internal/source"
	"github.com/Aman-CERP/apptindex/internal/store"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyOrphan is an indexed document with no source appointment.
	InconsistencyOrphan InconsistencyType = iota
	// InconsistencyMissing is a source appointment with no indexed document.
	InconsistencyMissing
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphan:
		return "orphan"
	case InconsistencyMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// MarshalText renders the type by name in JSON output.
func (t InconsistencyType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Inconsistency is one divergence between the index and the source.
type Inconsistency struct {
	Type          InconsistencyType `json:"type"`
	AppointmentID int               `json:"appointment_id"`
	DocID         string            `json:"doc_id,omitempty"`
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	// Checked is the number of source appointments compared.
	Checked int `json:"checked"`
	// Indexed is the number of documents in the index.
	Indexed         int             `json:"indexed"`
	Inconsistencies []Inconsistency `json:"inconsistencies"`
	Duration        time.Duration   `json:"duration"`
}

// Consistent reports whether no issue was found.
func (r *CheckResult) Consistent() bool {
	return len(r.Inconsistencies) == 0
}

// ConsistencyChecker compares the committed index with the source of truth.
// Pending ledger entries show up as issues until the worker drains them.
type ConsistencyChecker struct {
	appointments source.Appointments
	store        *store.Store
	logger       *slog.Logger
}

// NewConsistencyChecker creates a checker.
func NewConsistencyChecker(appointments source.Appointments, st *store.Store, logger *slog.Logger) *ConsistencyChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsistencyChecker{appointments: appointments, store: st, logger: logger}
}

// Check lists both id sets and reports the differences.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()

	sourceIDs, err := c.appointments.ListAllIDs(ctx)
	if err != nil {
		return nil, err
	}
	docIDs, err := c.store.DocIDs(ctx)
	if err != nil {
		return nil, err
	}

	live := make(map[int]bool, len(sourceIDs))
	for _, id := range sourceIDs {
		live[id] = true
	}

	var issues []Inconsistency
	indexed := make(map[int]bool, len(docIDs))
	for _, docID := range docIDs {
		id, err := strconv.Atoi(docID)
		if err != nil {
			issues = append(issues, Inconsistency{Type: InconsistencyOrphan, AppointmentID: -1, DocID: docID})
			continue
		}
		indexed[id] = true
		if !live[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyOrphan, AppointmentID: id, DocID: docID})
		}
	}
	for _, id := range sourceIDs {
		if !indexed[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyMissing, AppointmentID: id})
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Type != issues[j].Type {
			return issues[i].Type < issues[j].Type
		}
		return issues[i].AppointmentID < issues[j].AppointmentID
	})

	return &CheckResult{
		Checked:         len(sourceIDs),
		Indexed:         len(docIDs),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// Repair queues a delete for every orphan and a create for every missing
// appointment. Orphans whose doc id is not an appointment id need a
// rebuild and are only logged.
func (c *ConsistencyChecker) Repair(ctx context.Context, coord *Coordinator, issues []Inconsistency) (int, error) {
	queued := 0
	for _, issue := range issues {
		var err error
		switch {
		case issue.AppointmentID < 0:
			c.logger.Warn("index_orphan_unrepairable",
				slog.String("doc_id", issue.DocID),
				slog.String("hint", "run apptindex rebuild"))
			continue
		case issue.Type == InconsistencyOrphan:
			err = coord.NotifyDeleted(ctx, issue.AppointmentID)
		case issue.Type == InconsistencyMissing:
			err = coord.NotifyCreated(ctx, issue.AppointmentID)
		}
		if err != nil {
			return queued, err
		}
		queued++
	}
	if queued > 0 {
		c.logger.Info("index_repair_queued", slog.Int("actions", queued))
	}
	return queued, nil
}

// QuickCheck compares counts only.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context) (bool, error) {
	ids, err := c.appointments.ListAllIDs(ctx)
	if err != nil {
		return false, err
	}
	n, err := c.store.DocCount()
	if err != nil {
		return false, err
	}
	consistent := uint64(len(ids)) == n
	if !consistent {
		c.logger.Debug("index_count_mismatch",
			slog.Int("source", len(ids)),
			slog.Uint64("index", n))
	}
	return consistent, nil
}
