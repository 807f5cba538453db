package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/apptindex/internal/config"
	"github.com/Aman-CERP/apptindex/internal/database"
	"github.com/Aman-CERP/apptindex/internal/store"
)

// CheckConfig validates cfg.
func (c *Checker) CheckConfig(cfg *config.Config) CheckResult {
	result := CheckResult{
		Name:     "config",
		Required: true,
	}
	if cfg == nil {
		result.Status = StatusFail
		result.Message = "no configuration"
		return result
	}
	if err := cfg.Validate(); err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	if !cfg.IndexEnabled() {
		result.Status = StatusWarn
		result.Message = "indexer is disabled, changes are recorded but not indexed"
		result.Details = "set index.enabled: true to resume indexing"
		return result
	}

	result.Status = StatusPass
	result.Message = "OK"
	return result
}

// CheckDatabase opens the source database at path and pings it.
func (c *Checker) CheckDatabase(ctx context.Context, path string) CheckResult {
	result := CheckResult{
		Name:     "database",
		Required: true,
	}
	if path == database.Memory {
		result.Status = StatusWarn
		result.Message = "in-memory database, appointments and pending actions are lost on exit"
		return result
	}

	db, err := database.Open(path)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("ping failed: %v", err)
		return result
	}

	result.Status = StatusPass
	result.Message = path
	return result
}

// CheckIndex reports whether the index at path exists and whether another
// process holds its lock.
func (c *Checker) CheckIndex(path string) CheckResult {
	result := CheckResult{
		Name:     "index",
		Required: true,
	}
	if path == store.MemoryPath {
		result.Status = StatusWarn
		result.Message = "in-memory index, rebuilt from the database on every start"
		return result
	}

	lock := store.NewFileLock(path)
	acquired, err := lock.TryLock()
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	if !acquired {
		result.Status = StatusWarn
		result.Message = "index is locked by another process"
		result.Details = fmt.Sprintf("lock file: %s", lock.Path())
		return result
	}
	_ = lock.Unlock()

	_, err = os.Stat(filepath.Join(path, "index_meta.json"))
	switch {
	case err == nil:
		result.Status = StatusPass
		result.Message = path
	case errors.Is(err, os.ErrNotExist):
		result.Status = StatusPass
		result.Message = fmt.Sprintf("%s (will be created)", path)
	default:
		result.Status = StatusFail
		result.Message = err.Error()
	}
	return result
}
