package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors covers the index segment files, the two SQLite
// databases with their WAL files, the socket and client connections.
const MinFileDescriptors = 1024

// CheckFileDescriptors checks the open file limit. A soft limit that is too
// low but can be raised only warns, because the daemon raises it at start.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{
		Name:     "file_descriptors",
		Required: true,
	}

	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check file descriptor limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum: %d)", rLimit.Cur, MinFileDescriptors)
	switch {
	case rLimit.Cur >= MinFileDescriptors:
		result.Status = StatusPass
	case rLimit.Max >= MinFileDescriptors:
		result.Status = StatusWarn
		result.Details = fmt.Sprintf("the daemon raises it to %d at start", MinFileDescriptors)
	default:
		result.Status = StatusFail
		result.Details = fmt.Sprintf("hard limit is %d; raise it with 'ulimit -Hn %d'", rLimit.Max, MinFileDescriptors)
	}
	return result
}

// RaiseFileLimit lifts the soft open file limit to at least want, capped by
// the hard limit, and returns the limit in effect.
func RaiseFileLimit(want uint64) (uint64, error) {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, fmt.Errorf("get file limit: %w", err)
	}
	if rLimit.Cur >= want {
		return rLimit.Cur, nil
	}

	rLimit.Cur = min(want, rLimit.Max)
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, fmt.Errorf("set file limit: %w", err)
	}
	return rLimit.Cur, nil
}
