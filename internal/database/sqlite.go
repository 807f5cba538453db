// Package database opens the SQLite database shared by the source store
// and the pending action ledger.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	apperrors "github.com/Aman-CERP/apptindex/internal/errors"
)

// Memory opens a private in-memory database.
const Memory = ":memory:"

// Open opens the SQLite database at path, or an in-memory database when
// path is Memory or empty. The pool is limited to one connection so the
// in-memory database is shared and writes never contend.
func Open(path string) (*sql.DB, error) {
	dsn := Memory
	if path != "" && path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		if err := checkIntegrity(path); err != nil {
			return nil, apperrors.New(apperrors.ErrCodeDatabase, "database failed integrity check", err).
				WithDetail("path", path).
				WithSuggestion("restore the database from a backup")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeDatabase, "failed to open database", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores most DSN parameters, so pragmas are set
	// as statements.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, apperrors.New(apperrors.ErrCodeDatabase, fmt.Sprintf("failed to apply %q", pragma), err)
		}
	}

	return db, nil
}

// checkIntegrity runs a quick integrity check on an existing file.
func checkIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}
