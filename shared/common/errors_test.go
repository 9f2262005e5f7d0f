package common

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_StatusCodes(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrCodeValidationFailed:    http.StatusBadRequest,
		ErrCodeUnsupportedPlatform: http.StatusBadRequest,
		ErrCodeTranslationFailed:   http.StatusUnprocessableEntity,
		ErrCodeRateLimited:         http.StatusTooManyRequests,
		ErrCodeCircuitOpen:         http.StatusServiceUnavailable,
		ErrCodeNotFound:            http.StatusNotFound,
		ErrCodeTimeout:             http.StatusRequestTimeout,
		ErrCodeInternal:            http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, NewAppError(code, "x").StatusCode, string(code))
	}
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, ErrCodeInternal, "nothing"))

	cause := errors.New("redis down")
	wrapped := WrapError(cause, ErrCodeInternal, "cache unavailable")
	require.NotNil(t, wrapped)
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "INTERNAL_ERROR: cache unavailable (redis down)", wrapped.Error())

	// an AppError anywhere in the chain is preserved
	inner := NewAppErrorWithDetails(ErrCodeValidationFailed, "validation failed", "query is empty")
	again := WrapError(fmt.Errorf("handler: %w", inner), ErrCodeInternal, "ignored")
	assert.Same(t, inner, again)
	assert.Equal(t, ErrCodeValidationFailed, GetAppError(again).Code)
}

func TestRecoverHandler(t *testing.T) {
	assert.Nil(t, RecoverHandler(nil))
	assert.Equal(t, ErrCodeInternal, RecoverHandler("bad").Code)
	assert.Equal(t, "panic occurred", RecoverHandler(errors.New("x")).Message)
}
