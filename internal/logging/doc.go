// Package logging sets up structured slog logging for apptindex.
//
// Logs are JSON lines. When a file path is configured they go to a
// size-rotated file under ~/.apptindex/logs/, optionally mirrored to stderr.
package logging
