package resilience

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/circuitbreaker"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/logging"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/metrics"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
)

const (
	DefaultRateLimitPerMinute = 600
	DefaultFailureThreshold   = 5
	DefaultRecoveryTimeout    = 30 * time.Second
	DefaultRetryAttempts      = 3
	DefaultRetryBaseDelay     = 100 * time.Millisecond
)

// Limits configures the rate limit and circuit breaker of one platform
type Limits struct {
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	FailureThreshold   uint32        `mapstructure:"failure_threshold"`
	RecoveryTimeout    time.Duration `mapstructure:"recovery_timeout"`
}

func (l Limits) withDefaults() Limits {
	if l.RateLimitPerMinute <= 0 {
		l.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	if l.FailureThreshold == 0 {
		l.FailureThreshold = DefaultFailureThreshold
	}
	if l.RecoveryTimeout <= 0 {
		l.RecoveryTimeout = DefaultRecoveryTimeout
	}
	return l
}

// DefaultLimits returns the per-platform budgets
func DefaultLimits() map[entity.Platform]Limits {
	return map[entity.Platform]Limits{
		entity.PlatformSentinel:  {RateLimitPerMinute: 100, FailureThreshold: 5, RecoveryTimeout: 60 * time.Second},
		entity.PlatformSplunk:    {RateLimitPerMinute: 1000, FailureThreshold: 5, RecoveryTimeout: 30 * time.Second},
		entity.PlatformChronicle: {RateLimitPerMinute: 500, FailureThreshold: 5, RecoveryTimeout: 60 * time.Second},
		entity.PlatformSigma:     {RateLimitPerMinute: 600, FailureThreshold: 5, RecoveryTimeout: 30 * time.Second},
	}
}

// Policy guards translator calls per platform: a token bucket first, then a
// circuit breaker. Rejections never reach the wrapped call.
type Policy struct {
	limits   map[entity.Platform]Limits
	limiter  *RateLimiter
	breakers *circuitbreaker.Manager
	metrics  *metrics.Collector
	logger   *logging.Logger
}

// NewPolicy creates a policy. Platforms missing from limits get the defaults.
func NewPolicy(limits map[entity.Platform]Limits, logger *logging.Logger, collector *metrics.Collector) *Policy {
	if logger == nil {
		logger = logging.NewNop()
	}
	if collector == nil {
		collector = metrics.NewCollector("rule_translator")
	}

	merged := DefaultLimits()
	for platform, l := range limits {
		merged[platform] = l
	}

	budgets := make(map[entity.Platform]int, len(merged))
	for platform, l := range merged {
		l = l.withDefaults()
		merged[platform] = l
		budgets[platform] = l.RateLimitPerMinute
	}

	p := &Policy{
		limits:  merged,
		limiter: NewRateLimiter(budgets),
		metrics: collector,
		logger:  logger.WithComponent("resilience_policy"),
	}
	p.breakers = circuitbreaker.NewManager(nil, logger.Logger.With(zap.String("component", "circuit_breaker")))
	return p
}

// countsAsSuccess keeps caller mistakes, rejected queries and cancellations
// out of the failure count. A validation-stage TranslationError is a
// deterministic verdict on the input, not a translator fault.
func countsAsSuccess(err error) bool {
	var verr *entity.ValidationError
	var perr *entity.UnsupportedPlatformError
	var terr *entity.TranslationError
	if errors.As(err, &terr) && terr.Stage == entity.StageValidation {
		return true
	}
	return errors.As(err, &verr) || errors.As(err, &perr) || errors.Is(err, context.Canceled)
}

func (p *Policy) limitsFor(platform entity.Platform) Limits {
	if l, ok := p.limits[platform]; ok {
		return l
	}
	return Limits{}.withDefaults()
}

func (p *Policy) breaker(platform entity.Platform) *circuitbreaker.CircuitBreaker {
	name := string(platform)
	if cb, ok := p.breakers.Get(name); ok {
		return cb
	}
	l := p.limitsFor(platform)
	return p.breakers.GetOrCreate(name, &circuitbreaker.Config{
		MaxRequests:      1,
		Timeout:          l.RecoveryTimeout,
		FailureThreshold: l.FailureThreshold,
		IsSuccessful:     countsAsSuccess,
		OnStateChange: func(_, _, to string) {
			p.metrics.SetCircuitBreakerState(name, to)
		},
	})
}

// Execute runs fn for platform under the rate limit and circuit breaker.
// It returns *entity.RateLimitedError or *entity.CircuitOpenError without
// calling fn when either rejects.
func (p *Policy) Execute(ctx context.Context, platform entity.Platform, fn func(context.Context) (*entity.TranslationResult, error)) (*entity.TranslationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if ok, retryAfter := p.limiter.Allow(platform); !ok {
		p.metrics.RecordRateLimited(string(platform))
		p.logger.Warn("Translation rate limited",
			logging.String("platform", string(platform)),
			logging.Duration("retry_after", retryAfter))
		return nil, &entity.RateLimitedError{Platform: platform, RetryAfter: retryAfter}
	}

	cb := p.breaker(platform)
	v, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return fn(ctx)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, &entity.CircuitOpenError{Platform: platform}
	}
	if err != nil {
		return nil, err
	}
	result, _ := v.(*entity.TranslationResult)
	return result, nil
}

// State returns the current rate limiter and breaker view of platform
func (p *Policy) State(platform entity.Platform) entity.ResilienceState {
	snap := p.breaker(platform).Snapshot()

	state := entity.ResilienceState{
		Platform:            platform,
		CircuitState:        entity.CircuitState(snap.State),
		ConsecutiveFailures: snap.ConsecutiveFailures,
		RateLimitPerMinute:  p.limiter.Budget(platform),
		TokensAvailable:     p.limiter.Tokens(platform),
	}
	if !snap.LastFailure.IsZero() {
		last := snap.LastFailure
		state.LastFailure = &last
	}
	return state
}

// States returns the state of every supported platform
func (p *Policy) States() []entity.ResilienceState {
	platforms := entity.AllPlatforms()
	states := make([]entity.ResilienceState, 0, len(platforms))
	for _, platform := range platforms {
		states = append(states, p.State(platform))
	}
	return states
}
