package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("disk unplugged")

	// When: wrapping with AppError
	appErr := New(ErrCodeIndexOpen, "cannot open index", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, appErr)
	assert.Equal(t, originalErr, errors.Unwrap(appErr))
	assert.True(t, errors.Is(appErr, originalErr))
}

func TestAppError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{"config", ErrCodeConfigInvalid, "bad batch size", "[ERR_102_CONFIG_INVALID] bad batch size"},
		{"index", ErrCodeIndexOpen, "index missing", "[ERR_201_INDEX_OPEN] index missing"},
		{"filter", ErrCodeInvalidFilter, "bad time", "[ERR_402_INVALID_FILTER] bad time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, New(tt.code, tt.message, nil).Error())
		})
	}
}

func TestAppError_Is_MatchesByCode(t *testing.T) {
	err := New(ErrCodeIndexLocked, "locked", nil)

	assert.True(t, errors.Is(err, &AppError{Code: ErrCodeIndexLocked}))
	assert.False(t, errors.Is(err, &AppError{Code: ErrCodeIndexOpen}))
}

func TestNew_DerivesCategorySeverityAndRetryable(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigNotFound, CategoryConfig, SeverityError, false},
		{ErrCodeIndexLocked, CategoryIO, SeverityWarning, true},
		{ErrCodeCorruptIndex, CategoryIO, SeverityFatal, false},
		{ErrCodeDaemonUnavailable, CategoryTransport, SeverityWarning, true},
		{ErrCodeInvalidAction, CategoryValidation, SeverityError, false},
		{ErrCodeSyncFailed, CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestWithDetail_Chains(t *testing.T) {
	err := IndexError("open failed", nil).
		WithDetail("path", "/tmp/idx").
		WithSuggestion("run apptindex rebuild")

	assert.Equal(t, "/tmp/idx", err.Details["path"])
	assert.Equal(t, "run apptindex rebuild", err.Suggestion)
	assert.Equal(t, ErrCodeIndexOpen, GetCode(err))
	assert.Equal(t, "", GetCode(errors.New("plain")))
}

func TestFormatForCLI(t *testing.T) {
	err := ConfigError("batch_size must be positive", nil).WithSuggestion("set index.batch_size")

	out := FormatForCLI(err)

	assert.Contains(t, out, "Error: batch_size must be positive")
	assert.Contains(t, out, "Hint: set index.batch_size")
	assert.Contains(t, out, "Code: ERR_102_CONFIG_INVALID")
	assert.Contains(t, FormatForCLI(errors.New("boom")), "ERR_501_INTERNAL")
	assert.Empty(t, FormatForCLI(nil))
}

func TestFormatForLog(t *testing.T) {
	err := New(ErrCodeIndexWrite, "batch failed", errors.New("io")).WithDetail("batch", "3")

	attrs := FormatForLog(err)

	assert.Contains(t, attrs, "error_code")
	assert.Contains(t, attrs, ErrCodeIndexWrite)
	assert.Contains(t, attrs, "detail_batch")
	assert.Contains(t, attrs, "io")
	assert.Equal(t, []any{"error", "plain"}, FormatForLog(errors.New("plain")))
	assert.Nil(t, FormatForLog(nil))
}
