package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLedger is a non-durable Ledger for tests and in-memory setups.
type MemoryLedger struct {
	mu      sync.Mutex
	nextID  int64
	actions []Action
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *MemoryLedger {
	return &MemoryLedger{}
}

// Record implements Ledger.
func (l *MemoryLedger) Record(_ context.Context, entityID int, kind Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("record action for %d: invalid kind %d", entityID, int(kind))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	l.actions = append(l.actions, Action{
		ID:        l.nextID,
		EntityID:  entityID,
		Kind:      kind,
		CreatedAt: time.Now(),
	})
	return nil
}

// ListAndClear implements Ledger.
func (l *MemoryLedger) ListAndClear(ctx context.Context, kind Kind) ([]Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var taken []Action
	kept := l.actions[:0]
	for _, a := range l.actions {
		if a.Kind == kind {
			taken = append(taken, a)
			continue
		}
		kept = append(kept, a)
	}
	l.actions = kept
	return taken, nil
}

// Counts implements Ledger.
func (l *MemoryLedger) Counts(context.Context) (map[Kind]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	counts := make(map[Kind]int, len(Kinds))
	for _, a := range l.actions {
		counts[a.Kind]++
	}
	return counts, nil
}

// Len returns the number of pending entries.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.actions)
}
