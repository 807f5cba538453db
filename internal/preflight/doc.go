// Package preflight checks that the host and configuration can run the
// indexer before the daemon starts.
//
// The checks cover:
//   - configuration validity
//   - the SQLite source database
//   - the index directory and its cross-process lock
//   - free disk space (minimum 100MB) and write permissions
//   - file descriptor limits (minimum 1024)
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, cfg)
//	if checker.HasCriticalFailures(results) {
//	    // refuse to start
//	}
package preflight
