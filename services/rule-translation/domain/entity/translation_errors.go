package entity

import (
	"fmt"
	"time"
)

// TranslationStage names the step at which a translation failed
type TranslationStage string

const (
	StageGeneration TranslationStage = "generation"
	StageValidation TranslationStage = "validation"
)

// ValidationError reports a malformed canonical payload. Only the first
// violation found is reported.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid canonical detection: %s", e.Reason)
	}
	return fmt.Sprintf("invalid canonical detection: %s: %s", e.Field, e.Reason)
}

// UnsupportedPlatformError is returned for unknown platform identifiers
type UnsupportedPlatformError struct {
	Platform string `json:"platform"`
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform %q", e.Platform)
}

// TranslationError is returned when generating or validating a native query fails
type TranslationError struct {
	Platform Platform         `json:"platform"`
	Stage    TranslationStage `json:"stage"`
	Detail   string           `json:"detail"`
	Cause    error            `json:"-"`
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("%s translation failed at %s: %s", e.Platform, e.Stage, e.Detail)
}

func (e *TranslationError) Unwrap() error {
	return e.Cause
}

// NewGenerationError creates a generation-stage translation error
func NewGenerationError(platform Platform, detail string, cause error) *TranslationError {
	return &TranslationError{Platform: platform, Stage: StageGeneration, Detail: detail, Cause: cause}
}

// NewValidationFailure creates a validation-stage translation error
func NewValidationFailure(platform Platform, detail string) *TranslationError {
	return &TranslationError{Platform: platform, Stage: StageValidation, Detail: detail}
}

// RateLimitedError is returned when a platform budget is exhausted
type RateLimitedError struct {
	Platform   Platform      `json:"platform"`
	RetryAfter time.Duration `json:"retry_after"`
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Platform, e.RetryAfter)
}

// CircuitOpenError is returned when the platform circuit breaker rejects a call
type CircuitOpenError struct {
	Platform Platform `json:"platform"`
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s", e.Platform)
}
