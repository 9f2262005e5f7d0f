package resilience

import (
	"context"
	"time"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/logging"
)

// RetryPolicy retries an operation with exponential backoff: the wait after
// attempt n (from zero) is BaseDelay * 2^n.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	logger      *logging.Logger
}

// NewRetryPolicy creates a policy. Non-positive values fall back to 3 attempts and 100ms.
func NewRetryPolicy(maxAttempts int, baseDelay time.Duration, logger *logging.Logger) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultRetryAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultRetryBaseDelay
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		logger:      logger.WithComponent("retry"),
	}
}

// Backoff returns the wait after the given zero-based attempt
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(1<<uint(attempt))
}

// Do runs operation until it succeeds, the attempts are spent or ctx is done
func (p *RetryPolicy) Do(ctx context.Context, operation func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = operation(ctx)
		if lastErr == nil {
			if attempt > 0 {
				p.logger.Debug("Operation succeeded after retries",
					logging.Int("attempt", attempt+1),
					logging.Int("max_attempts", p.MaxAttempts))
			}
			return nil
		}

		if attempt == p.MaxAttempts-1 {
			break
		}

		backoff := p.Backoff(attempt)
		p.logger.Debug("Operation failed, retrying",
			logging.Int("attempt", attempt+1),
			logging.Int("max_attempts", p.MaxAttempts),
			logging.Duration("backoff", backoff),
			logging.Err(lastErr))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	p.logger.Warn("Operation failed after all retry attempts",
		logging.Int("attempts", p.MaxAttempts),
		logging.Err(lastErr))

	return lastErr
}
