package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := NewUnavailableError(CodeNoUnitData, "no unit returned valid data")
	assert.Equal(t, "no unit returned valid data", err.Error())

	err = NewInternalError("consolidation failed").WithCause(fmt.Errorf("boom"))
	assert.Equal(t, "consolidation failed: boom", err.Error())
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		errType   ErrorType
		code      string
		retryable bool
		status    int
	}{
		{
			name:      "configuration",
			err:       NewConfigurationError(CodeNoUnitsConnected, "no data source available"),
			errType:   ErrorTypeConfiguration,
			code:      CodeNoUnitsConnected,
			retryable: false,
			status:    503,
		},
		{
			name:      "total fetch failure",
			err:       NewUnavailableError(CodeNoUnitData, "no unit returned valid data"),
			errType:   ErrorTypeUnavailable,
			code:      CodeNoUnitData,
			retryable: true,
			status:    503,
		},
		{
			name:      "cache storage",
			err:       NewCacheStorageError("decode failed"),
			errType:   ErrorTypeCacheStorage,
			code:      CodeCacheStorage,
			retryable: true,
			status:    500,
		},
		{
			name:      "validation wrapped",
			err:       fmt.Errorf("request: %w", NewValidationError(CodeInvalidTimeRange, "bad range")),
			errType:   ErrorTypeValidation,
			code:      CodeInvalidTimeRange,
			retryable: false,
			status:    400,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, IsType(tt.err, tt.errType))
			assert.True(t, HasCode(tt.err, tt.code))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.status, GetStatusCode(tt.err))
		})
	}
}

func TestPlainErrors(t *testing.T) {
	plain := fmt.Errorf("plain")
	assert.False(t, IsType(plain, ErrorTypeInternal))
	assert.False(t, HasCode(plain, CodeNoUnitData))
	assert.False(t, IsRetryable(plain))
	assert.Equal(t, 500, GetStatusCode(plain))
	assert.Nil(t, Wrap(nil, "ignored"))
	assert.EqualError(t, Wrap(plain, "outer"), "outer: plain")
}
