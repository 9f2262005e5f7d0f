package resilience

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
)

// RateLimiter keeps one token bucket per platform. Buckets refill at
// perMinute/60 tokens a second and hold at most perMinute tokens.
type RateLimiter struct {
	limiters map[entity.Platform]*rate.Limiter
	budgets  map[entity.Platform]int
	mu       sync.RWMutex
	now      func() time.Time
}

// NewRateLimiter creates a limiter with the given per-minute budgets
func NewRateLimiter(budgets map[entity.Platform]int) *RateLimiter {
	r := &RateLimiter{
		limiters: make(map[entity.Platform]*rate.Limiter, len(budgets)),
		budgets:  make(map[entity.Platform]int, len(budgets)),
		now:      time.Now,
	}
	for platform, perMinute := range budgets {
		r.Configure(platform, perMinute)
	}
	return r
}

// Configure replaces the bucket of a platform
func (r *RateLimiter) Configure(platform entity.Platform, perMinute int) {
	if perMinute <= 0 {
		perMinute = DefaultRateLimitPerMinute
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[platform] = rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute)
	r.budgets[platform] = perMinute
}

func (r *RateLimiter) limiter(platform entity.Platform) (*rate.Limiter, int) {
	r.mu.RLock()
	limiter, ok := r.limiters[platform]
	budget := r.budgets[platform]
	r.mu.RUnlock()
	if ok {
		return limiter, budget
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if limiter, ok := r.limiters[platform]; ok {
		return limiter, r.budgets[platform]
	}
	limiter = rate.NewLimiter(rate.Limit(float64(DefaultRateLimitPerMinute)/60), DefaultRateLimitPerMinute)
	r.limiters[platform] = limiter
	r.budgets[platform] = DefaultRateLimitPerMinute
	return limiter, DefaultRateLimitPerMinute
}

// Allow takes one token for platform. When the bucket is empty nothing is
// taken and the wait until a token is available is returned.
func (r *RateLimiter) Allow(platform entity.Platform) (bool, time.Duration) {
	limiter, _ := r.limiter(platform)
	now := r.now()

	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, time.Minute
	}
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Tokens returns the tokens currently available for platform
func (r *RateLimiter) Tokens(platform entity.Platform) float64 {
	limiter, _ := r.limiter(platform)
	return limiter.TokensAt(r.now())
}

// Budget returns the per-minute budget of platform
func (r *RateLimiter) Budget(platform entity.Platform) int {
	_, budget := r.limiter(platform)
	return budget
}
