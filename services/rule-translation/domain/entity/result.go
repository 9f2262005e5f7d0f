package entity

import "time"

// PerformanceMetrics carries structural cost figures of a generated query
type PerformanceMetrics struct {
	ComplexityScore int `json:"complexity_score"`
	JoinCount       int `json:"join_count"`
	FunctionCount   int `json:"function_count"`
}

// ValidationMetrics is reported by every platform validator
type ValidationMetrics struct {
	ComplexityScore int `json:"complexity_score"`
	FieldCount      int `json:"field_count"`
	JoinCount       int `json:"join_count"`
	FunctionCount   int `json:"function_count"`
}

// ValidationResult is the verdict of validating a native query
type ValidationResult struct {
	IsValid  bool              `json:"is_valid"`
	Error    string            `json:"error,omitempty"`
	Metrics  ValidationMetrics `json:"metrics"`
	Warnings []string          `json:"warnings,omitempty"`
}

// Valid builds a passing result
func Valid(metrics ValidationMetrics, warnings ...string) *ValidationResult {
	return &ValidationResult{IsValid: true, Metrics: metrics, Warnings: warnings}
}

// Invalid builds a failing result carrying the rule that failed
func Invalid(reason string, metrics ValidationMetrics, warnings ...string) *ValidationResult {
	return &ValidationResult{IsValid: false, Error: reason, Metrics: metrics, Warnings: warnings}
}

// TranslationResult is the output of a successful translation
type TranslationResult struct {
	Query              string             `json:"query"`
	Platform           Platform           `json:"platform"`
	FieldMappingsUsed  map[string]string  `json:"field_mappings_used"`
	PerformanceMetrics PerformanceMetrics `json:"performance_metrics"`
	Validation         ValidationResult   `json:"validation"`
}

// CircuitState of a platform circuit breaker
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// ResilienceState is a read-only view of a platform's rate limiter and breaker
type ResilienceState struct {
	Platform            Platform     `json:"platform"`
	CircuitState        CircuitState `json:"circuit_state"`
	ConsecutiveFailures uint32       `json:"consecutive_failures"`
	LastFailure         *time.Time   `json:"last_failure,omitempty"`
	RateLimitPerMinute  int          `json:"rate_limit_per_minute"`
	TokensAvailable     float64      `json:"tokens_available"`
}
