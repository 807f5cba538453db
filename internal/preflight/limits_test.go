package preflight

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredIndexSpace(t *testing.T) {
	assert.Equal(t, uint64(MinDiskSpaceBytes), RequiredIndexSpace(0))
	assert.Equal(t, uint64(MinDiskSpaceBytes), RequiredIndexSpace(10*1024*1024))
	assert.Equal(t, uint64(2*1024*1024*1024), RequiredIndexSpace(1024*1024*1024))
}

func TestChecker_CheckDiskSpace(t *testing.T) {
	// Given: a small source database next to the index directory
	dir := t.TempDir()
	db := filepath.Join(dir, "appointments.db")
	require.NoError(t, os.WriteFile(db, make([]byte, 4096), 0o644))

	// When: checking
	result := New().CheckDiskSpace(dir, db)

	// Then: the message states free and needed space
	assert.Equal(t, "disk_space", result.Name)
	assert.Contains(t, result.Message, "needed: 100.0 MB")
	assert.Contains(t, result.Details, "4.0 KB")
}

func TestChecker_CheckDiskSpace_MissingDir(t *testing.T) {
	result := New().CheckDiskSpace(filepath.Join(t.TempDir(), "missing"), "")

	assert.True(t, result.IsCritical())
	assert.Contains(t, result.Message, "failed to check disk space")
}

func TestChecker_CheckFileDescriptors(t *testing.T) {
	var rLimit syscall.Rlimit
	require.NoError(t, syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit))

	result := New().CheckFileDescriptors()

	switch {
	case rLimit.Cur >= MinFileDescriptors:
		assert.Equal(t, StatusPass, result.Status)
	case rLimit.Max >= MinFileDescriptors:
		assert.Equal(t, StatusWarn, result.Status)
	default:
		assert.Equal(t, StatusFail, result.Status)
	}
}

func TestRaiseFileLimit_KeepsHigherLimit(t *testing.T) {
	var before syscall.Rlimit
	require.NoError(t, syscall.Getrlimit(syscall.RLIMIT_NOFILE, &before))

	// When: asking for less than the current soft limit
	got, err := RaiseFileLimit(1)

	// Then: nothing changes
	require.NoError(t, err)
	assert.Equal(t, before.Cur, got)
}
