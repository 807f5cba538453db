package telemetry

import (
	"database/sql"
	"fmt"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS query_field_stats (
	date  TEXT NOT NULL,
	field TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, field)
);

CREATE TABLE IF NOT EXISTS query_latency_stats (
	date   TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, bucket)
);

CREATE TABLE IF NOT EXISTS zero_result_shapes (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	shape     TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL
);
`

// MaxZeroResultShapes bounds the persisted zero-result history.
const MaxZeroResultShapes = 100

// SQLiteStore implements Store on the application database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the telemetry tables if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create telemetry schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// SaveFieldCounts adds counts to the day's field usage.
func (s *SQLiteStore) SaveFieldCounts(date string, counts map[string]int64) error {
	return s.upsertDaily(`
		INSERT INTO query_field_stats (date, field, count) VALUES (?, ?, ?)
		ON CONFLICT(date, field) DO UPDATE SET count = count + excluded.count`,
		date, counts)
}

// SaveLatencyCounts adds counts to the day's latency histogram.
func (s *SQLiteStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	byName := make(map[string]int64, len(counts))
	for b, n := range counts {
		byName[string(b)] = n
	}
	return s.upsertDaily(`
		INSERT INTO query_latency_stats (date, bucket, count) VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count`,
		date, byName)
}

func (s *SQLiteStore) upsertDaily(stmtSQL, date string, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(stmtSQL)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for key, n := range counts {
		if _, err := stmt.Exec(date, key, n); err != nil {
			return fmt.Errorf("upsert %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// FieldCounts sums field usage between two dates, inclusive.
func (s *SQLiteStore) FieldCounts(from, to string) (map[string]int64, error) {
	return s.sumDaily(`
		SELECT field, SUM(count) FROM query_field_stats
		WHERE date >= ? AND date <= ? GROUP BY field`, from, to)
}

// LatencyCounts sums the latency histogram between two dates, inclusive.
func (s *SQLiteStore) LatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	sums, err := s.sumDaily(`
		SELECT bucket, SUM(count) FROM query_latency_stats
		WHERE date >= ? AND date <= ? GROUP BY bucket`, from, to)
	if err != nil {
		return nil, err
	}
	counts := make(map[LatencyBucket]int64, len(sums))
	for b, n := range sums {
		counts[LatencyBucket(b)] = n
	}
	return counts, nil
}

func (s *SQLiteStore) sumDaily(query, from, to string) (map[string]int64, error) {
	rows, err := s.db.Query(query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// AddZeroResultShapes appends shapes and trims the history to
// MaxZeroResultShapes entries.
func (s *SQLiteStore) AddZeroResultShapes(shapes []string, at time.Time) error {
	if len(shapes) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, shape := range shapes {
		if _, err := tx.Exec(`INSERT INTO zero_result_shapes (shape, timestamp) VALUES (?, ?)`, shape, at.UTC()); err != nil {
			return fmt.Errorf("insert zero-result shape: %w", err)
		}
	}
	if _, err := tx.Exec(`
		DELETE FROM zero_result_shapes
		WHERE id NOT IN (SELECT id FROM zero_result_shapes ORDER BY id DESC LIMIT ?)`,
		MaxZeroResultShapes); err != nil {
		return fmt.Errorf("trim zero-result shapes: %w", err)
	}
	return tx.Commit()
}

// ZeroResultShapes returns the most recent shapes, newest first.
func (s *SQLiteStore) ZeroResultShapes(limit int) ([]string, error) {
	rows, err := s.db.Query(`SELECT shape FROM zero_result_shapes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result shapes: %w", err)
	}
	defer rows.Close()

	var shapes []string
	for rows.Next() {
		var shape string
		if err := rows.Scan(&shape); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		shapes = append(shapes, shape)
	}
	return shapes, rows.Err()
}
