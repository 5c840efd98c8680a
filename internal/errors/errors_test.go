package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuarryError_Unwrap_PreservesOriginalError(t *testing.T) {
	originalErr := errors.New("original error")

	qerr := New(ErrCodeFileNotFound, "corpus file not found: passages.json", originalErr)

	require.NotNil(t, qerr)
	assert.Equal(t, originalErr, errors.Unwrap(qerr))
	assert.True(t, errors.Is(qerr, originalErr))
}

func TestQuarryError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "config error",
			code:     ErrCodeConfigNotFound,
			message:  "config file not found",
			expected: "[ERR_101_CONFIG_NOT_FOUND] config file not found",
		},
		{
			name:     "missing index",
			code:     ErrCodeIndexMissing,
			message:  "sparse index not loaded",
			expected: "[ERR_103_INDEX_MISSING] sparse index not loaded",
		},
		{
			name:     "network error",
			code:     ErrCodeNetworkTimeout,
			message:  "request timed out",
			expected: "[ERR_301_NETWORK_TIMEOUT] request timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestQuarryError_Is_MatchesByCode(t *testing.T) {
	err1 := New(ErrCodeHydrationGap, "id fb-0001 not fetchable", nil)
	err2 := New(ErrCodeHydrationGap, "id fb-0042 not fetchable", nil)

	assert.True(t, errors.Is(err1, err2))
}

func TestQuarryError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	err1 := New(ErrCodeFileNotFound, "file not found", nil)
	err2 := New(ErrCodeConfigNotFound, "config not found", nil)

	assert.False(t, errors.Is(err1, err2))
}

func TestQuarryError_WithDetail_AddsContext(t *testing.T) {
	err := New(ErrCodeBranchFailed, "sparse branch failed", nil).
		WithDetail("branch", "sparse").
		WithDetail("query", "emergency fund")

	assert.Equal(t, "sparse", err.Details["branch"])
	assert.Equal(t, "emergency fund", err.Details["query"])
}

func TestCategoryDerivation(t *testing.T) {
	tests := []struct {
		code     string
		category Category
	}{
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeTunableRange, CategoryConfig},
		{ErrCodeCorruptIndex, CategoryIO},
		{ErrCodeNetworkTimeout, CategoryNetwork},
		{ErrCodeFilterUnsupported, CategoryValidation},
		{ErrCodeAllBranchesDown, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.category, New(tt.code, "x", nil).Category)
		})
	}
}

func TestSeverityDerivation(t *testing.T) {
	// Both-branches-down aborts the call.
	assert.True(t, IsFatal(New(ErrCodeAllBranchesDown, "no branch survived", nil)))

	// Single-branch failure and hydration gaps degrade, not abort.
	assert.Equal(t, SeverityWarning, BranchError("sparse", nil).Severity)
	assert.Equal(t, SeverityWarning, New(ErrCodeHydrationGap, "gap", nil).Severity)
	assert.False(t, IsFatal(BranchError("dense", nil)))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NetworkError("timeout", nil)))
	assert.False(t, IsRetryable(ConfigError("bad config", nil)))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestBranchError_CarriesBranchDetail(t *testing.T) {
	err := BranchError("dense", errors.New("collection gone"))

	assert.Equal(t, ErrCodeBranchFailed, err.Code)
	assert.Equal(t, "dense", err.Details["branch"])
	assert.Contains(t, err.Error(), "dense branch failed")
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeQueryEmpty, GetCode(New(ErrCodeQueryEmpty, "empty query", nil)))
	assert.Equal(t, "", GetCode(errors.New("plain")))
}
