// Package ledger is the durable queue of pending index actions. Every
// appointment create, update or delete appends an entry; the sync worker
// drains entries by kind.
package ledger

import (
	"context"
	"fmt"
	"time"
)

// Kind is the action recorded for an entity.
type Kind int

const (
	Create Kind = 1
	Modify Kind = 2
	Delete Kind = 3
)

// Kinds lists every action kind in drain order.
var Kinds = []Kind{Delete, Modify, Create}

func (k Kind) String() string {
	switch k {
	case Create:
		return "create"
	case Modify:
		return "modify"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses the names returned by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "create", "created":
		return Create, nil
	case "modify", "update", "updated":
		return Modify, nil
	case "delete", "deleted":
		return Delete, nil
	}
	return 0, fmt.Errorf("unknown action kind %q", s)
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	return k == Create || k == Modify || k == Delete
}

// Action is one ledger entry. ID is stable and used to remove the entry
// once it has been read.
type Action struct {
	ID        int64
	EntityID  int
	Kind      Kind
	CreatedAt time.Time
}

// Ledger is the pending action queue. Duplicate entries for an entity are
// allowed; the worker deduplicates when draining.
type Ledger interface {
	// Record appends an entry.
	Record(ctx context.Context, entityID int, kind Kind) error

	// ListAndClear returns every entry of kind, oldest first, removing
	// each one right after it is read. On error the entries already
	// removed are returned with it.
	ListAndClear(ctx context.Context, kind Kind) ([]Action, error)

	// Counts returns the number of pending entries per kind.
	Counts(ctx context.Context) (map[Kind]int, error)
}
