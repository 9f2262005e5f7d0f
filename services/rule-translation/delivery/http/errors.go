package http

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/logging"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/shared/common"
)

// toAppError maps translation errors onto the application error envelope
func toAppError(err error) *common.AppError {
	if appErr := common.GetAppError(err); appErr != nil {
		return appErr
	}

	var (
		verr *entity.ValidationError
		perr *entity.UnsupportedPlatformError
		terr *entity.TranslationError
		rerr *entity.RateLimitedError
		cerr *entity.CircuitOpenError
	)
	switch {
	case errors.As(err, &verr):
		appErr := common.NewAppErrorWithDetails(common.ErrCodeValidationFailed, "invalid canonical detection", verr.Reason)
		if verr.Field != "" {
			appErr.WithContext("field", verr.Field)
		}
		return appErr.WithCause(err)
	case errors.As(err, &perr):
		return common.NewAppError(common.ErrCodeUnsupportedPlatform, perr.Error()).
			WithContext("platform", perr.Platform).
			WithCause(err)
	case errors.As(err, &terr):
		return common.NewAppErrorWithDetails(common.ErrCodeTranslationFailed, "translation failed", terr.Detail).
			WithContext("platform", string(terr.Platform)).
			WithContext("stage", string(terr.Stage)).
			WithCause(err)
	case errors.As(err, &rerr):
		return common.NewAppError(common.ErrCodeRateLimited, rerr.Error()).
			WithContext("platform", string(rerr.Platform)).
			WithContext("retry_after_seconds", retryAfterSeconds(rerr)).
			WithCause(err)
	case errors.As(err, &cerr):
		return common.NewAppError(common.ErrCodeCircuitOpen, cerr.Error()).
			WithContext("platform", string(cerr.Platform)).
			WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return common.WrapError(err, common.ErrCodeTimeout, "translation timed out")
	}
	return common.WrapError(err, common.ErrCodeInternal, "internal server error")
}

func retryAfterSeconds(err *entity.RateLimitedError) int {
	secs := int(math.Ceil(err.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func errorResponse(appErr *common.AppError) ErrorResponse {
	return ErrorResponse{
		Code:      string(appErr.Code),
		Message:   appErr.Message,
		Details:   appErr.Details,
		Context:   appErr.Context,
		RequestID: appErr.RequestID,
	}
}

// respondError writes err with the status of its error code
func (s *Server) respondError(c *gin.Context, err error) {
	appErr := toAppError(err)
	if id := requestID(c); id != "" && appErr.RequestID == "" {
		appErr = copyWithRequestID(appErr, id)
	}

	var rerr *entity.RateLimitedError
	if errors.As(err, &rerr) {
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(rerr)))
	}

	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		s.logger.WithContext(c.Request.Context()).WithError(err).Error("Request failed",
			logging.String("path", c.Request.URL.Path),
			logging.String("code", string(appErr.Code)))
	}
	c.AbortWithStatusJSON(status, errorResponse(appErr))
}

// copyWithRequestID keeps shared AppError values untouched
func copyWithRequestID(appErr *common.AppError, id string) *common.AppError {
	clone := *appErr
	return clone.WithRequestID(id)
}
