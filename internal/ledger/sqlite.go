package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteLedger stores pending actions in the pending_actions table.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLite creates the ledger table if needed and returns a ledger on db.
func NewSQLite(db *sql.DB) (*SQLiteLedger, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to apply ledger schema: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

// Record implements Ledger.
func (l *SQLiteLedger) Record(ctx context.Context, entityID int, kind Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("record action for %d: invalid kind %d", entityID, int(kind))
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO pending_actions (entity_id, kind, created_at) VALUES (?, ?, ?)`,
		entityID, int(kind), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("record %s action for %d: %w", kind, entityID, err)
	}
	return nil
}

// ListAndClear implements Ledger. Rows are read in full before any are
// removed because the pool holds a single connection.
func (l *SQLiteLedger) ListAndClear(ctx context.Context, kind Kind) ([]Action, error) {
	actions, err := l.list(ctx, kind)
	if err != nil {
		return nil, err
	}

	for i, a := range actions {
		if _, err := l.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE id = ?`, a.ID); err != nil {
			return actions[:i], fmt.Errorf("remove action %d: %w", a.ID, err)
		}
	}
	return actions, nil
}

func (l *SQLiteLedger) list(ctx context.Context, kind Kind) ([]Action, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, entity_id, kind, created_at FROM pending_actions WHERE kind = ? ORDER BY id`,
		int(kind))
	if err != nil {
		return nil, fmt.Errorf("list %s actions: %w", kind, err)
	}
	defer func() { _ = rows.Close() }()

	var actions []Action
	for rows.Next() {
		var (
			a       Action
			k       int
			created int64
		)
		if err := rows.Scan(&a.ID, &a.EntityID, &k, &created); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.Kind = Kind(k)
		a.CreatedAt = time.UnixMilli(created)
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return actions, nil
}

// Counts implements Ledger.
func (l *SQLiteLedger) Counts(ctx context.Context) (map[Kind]int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM pending_actions GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[Kind]int, len(Kinds))
	for rows.Next() {
		var k, n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[Kind(k)] = n
	}
	return counts, rows.Err()
}
