package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/shared/common"
)

func TestToAppError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   common.ErrorCode
		status int
	}{
		{"validation", &entity.ValidationError{Field: "query", Reason: "must not be empty"}, common.ErrCodeValidationFailed, http.StatusBadRequest},
		{"unsupported", &entity.UnsupportedPlatformError{Platform: "qradar"}, common.ErrCodeUnsupportedPlatform, http.StatusBadRequest},
		{"translation", entity.NewValidationFailure(entity.PlatformSplunk, "forbidden token"), common.ErrCodeTranslationFailed, http.StatusUnprocessableEntity},
		{"rate limited", &entity.RateLimitedError{Platform: entity.PlatformSentinel, RetryAfter: 1500 * time.Millisecond}, common.ErrCodeRateLimited, http.StatusTooManyRequests},
		{"circuit open", &entity.CircuitOpenError{Platform: entity.PlatformChronicle}, common.ErrCodeCircuitOpen, http.StatusServiceUnavailable},
		{"wrapped circuit open", fmt.Errorf("translate: %w", &entity.CircuitOpenError{Platform: entity.PlatformSigma}), common.ErrCodeCircuitOpen, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, common.ErrCodeTimeout, http.StatusRequestTimeout},
		{"unknown", errors.New("boom"), common.ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := toAppError(tt.err)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.status, appErr.StatusCode)
		})
	}
}

func TestToAppError_Context(t *testing.T) {
	appErr := toAppError(&entity.RateLimitedError{Platform: entity.PlatformSentinel, RetryAfter: 1500 * time.Millisecond})
	assert.Equal(t, 2, appErr.Context["retry_after_seconds"])
	assert.Equal(t, "sentinel", appErr.Context["platform"])

	appErr = toAppError(&entity.TranslationError{Platform: entity.PlatformSplunk, Stage: entity.StageGeneration, Detail: "bad operator"})
	assert.Equal(t, "generation", appErr.Context["stage"])
	assert.Equal(t, "bad operator", appErr.Details)
}
