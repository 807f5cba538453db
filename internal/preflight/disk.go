package preflight

import (
	"fmt"
	"os"
	"syscall"
)

// MinDiskSpaceBytes is the free space required even for an empty source.
const MinDiskSpaceBytes = 100 * 1024 * 1024

// indexGrowthFactor sizes the index against the source database. A rebuild
// writes new segments before bleve merges away the deleted ones, so room
// for two copies is required.
const indexGrowthFactor = 2

// RequiredIndexSpace returns the free space needed next to the index for a
// source database of sourceBytes.
func RequiredIndexSpace(sourceBytes uint64) uint64 {
	return max(MinDiskSpaceBytes, indexGrowthFactor*sourceBytes)
}

// CheckDiskSpace checks that the filesystem holding indexDir can take a
// full rebuild of the appointments in sourceDB.
func (c *Checker) CheckDiskSpace(indexDir, sourceDB string) CheckResult {
	result := CheckResult{
		Name:     "disk_space",
		Required: true,
	}

	var sourceBytes uint64
	if fi, err := os.Stat(sourceDB); err == nil {
		sourceBytes = uint64(fi.Size())
	}
	required := RequiredIndexSpace(sourceBytes)

	var stat syscall.Statfs_t
	if err := syscall.Statfs(indexDir, &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}
	available := stat.Bavail * uint64(stat.Bsize)

	result.Message = fmt.Sprintf("%s free (needed: %s)", formatBytes(available), formatBytes(required))
	if sourceBytes > 0 {
		result.Details = fmt.Sprintf("source database is %s; a rebuild needs about %dx that next to the index",
			formatBytes(sourceBytes), indexGrowthFactor)
	}
	if available < required {
		result.Status = StatusFail
		return result
	}
	result.Status = StatusPass
	return result
}

func formatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
