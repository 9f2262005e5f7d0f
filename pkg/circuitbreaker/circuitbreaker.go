package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// State names reported by breakers. gobreaker spells half-open with a dash,
// callers of this package get the underscore form.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// ErrOpen is returned when the breaker rejects a call, either because it is
// open or because the single half-open probe is already in flight.
var ErrOpen = errors.New("circuit breaker is open")

// Config represents circuit breaker configuration
type Config struct {
	Name string `yaml:"name" json:"name" mapstructure:"name"`

	// MaxRequests is the number of probe calls let through while half-open.
	MaxRequests uint32        `yaml:"max_requests" json:"max_requests" mapstructure:"max_requests"`
	Interval    time.Duration `yaml:"interval" json:"interval" mapstructure:"interval"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`

	FailureThreshold uint32 `yaml:"failure_threshold" json:"failure_threshold" mapstructure:"failure_threshold"`

	// IsSuccessful classifies errors; errors it accepts do not count as failures.
	IsSuccessful func(err error) bool `yaml:"-" json:"-" mapstructure:"-"`

	// OnStateChange is invoked after the breaker moved between states.
	OnStateChange func(name string, from, to string) `yaml:"-" json:"-" mapstructure:"-"`
}

// Manager manages multiple circuit breakers
type Manager struct {
	breakers map[string]*CircuitBreaker
	mutex    sync.RWMutex
	logger   *zap.Logger

	defaultConfig *Config
}

// CircuitBreaker wraps gobreaker.CircuitBreaker with failure bookkeeping
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	config *Config
	logger *zap.Logger

	mu              sync.Mutex
	lastFailure     time.Time
	lastStateChange time.Time
}

// Snapshot is a point-in-time view of a breaker
type Snapshot struct {
	Name                 string    `json:"name"`
	State                string    `json:"state"`
	Requests             uint32    `json:"requests"`
	TotalFailures        uint32    `json:"total_failures"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	LastFailure          time.Time `json:"last_failure,omitempty"`
	LastStateChange      time.Time `json:"last_state_change"`
}

// NewManager creates a new circuit breaker manager
func NewManager(defaultConfig *Config, logger *zap.Logger) *Manager {
	if defaultConfig == nil {
		defaultConfig = DefaultConfig()
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		breakers:      make(map[string]*CircuitBreaker),
		logger:        logger,
		defaultConfig: defaultConfig,
	}
}

// GetOrCreate gets an existing circuit breaker or creates a new one
func (m *Manager) GetOrCreate(name string, config *Config) *CircuitBreaker {
	m.mutex.RLock()
	if cb, exists := m.breakers[name]; exists {
		m.mutex.RUnlock()
		return cb
	}
	m.mutex.RUnlock()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	// Double-check after acquiring write lock
	if cb, exists := m.breakers[name]; exists {
		return cb
	}

	if config == nil {
		cfg := *m.defaultConfig
		config = &cfg
	}
	config.Name = name

	cb := NewCircuitBreaker(config, m.logger)
	m.breakers[name] = cb

	m.logger.Info("Circuit breaker created",
		zap.String("name", name),
		zap.Uint32("failure_threshold", config.FailureThreshold),
		zap.Duration("timeout", config.Timeout),
	)

	return cb
}

// Get gets an existing circuit breaker
func (m *Manager) Get(name string) (*CircuitBreaker, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	cb, exists := m.breakers[name]
	return cb, exists
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *Config, logger *zap.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}

	cb := &CircuitBreaker{
		config:          config,
		logger:          logger,
		lastStateChange: time.Now(),
	}

	settings := gobreaker.Settings{
		Name:          config.Name,
		MaxRequests:   config.MaxRequests,
		Interval:      config.Interval,
		Timeout:       config.Timeout,
		ReadyToTrip:   cb.readyToTrip,
		OnStateChange: cb.onStateChange,
		IsSuccessful:  cb.isSuccessful,
	}

	cb.cb = gobreaker.NewCircuitBreaker(settings)
	return cb
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Execute runs fn under breaker protection. Rejections come back as ErrOpen.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result, err := cb.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err == nil {
		return result, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		cb.logger.Debug("Circuit breaker rejected call",
			zap.String("name", cb.config.Name),
			zap.String("state", cb.State()),
		)
		return nil, ErrOpen
	}

	if !cb.isSuccessful(err) {
		cb.mu.Lock()
		cb.lastFailure = time.Now()
		cb.mu.Unlock()
	}
	return result, err
}

// State returns the current state name
func (cb *CircuitBreaker) State() string {
	return stateName(cb.cb.State())
}

// Snapshot returns current counters and state
func (cb *CircuitBreaker) Snapshot() Snapshot {
	counts := cb.cb.Counts()
	state := cb.State()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Snapshot{
		Name:                 cb.config.Name,
		State:                state,
		Requests:             counts.Requests,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		LastFailure:          cb.lastFailure,
		LastStateChange:      cb.lastStateChange,
	}
}

func (cb *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	cb.mu.Lock()
	cb.lastStateChange = time.Now()
	cb.mu.Unlock()

	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", name),
		zap.String("from", stateName(from)),
		zap.String("to", stateName(to)),
	)

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(name, stateName(from), stateName(to))
	}
}

func (cb *CircuitBreaker) readyToTrip(counts gobreaker.Counts) bool {
	return counts.ConsecutiveFailures >= cb.config.FailureThreshold
}

func (cb *CircuitBreaker) isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	if cb.config.IsSuccessful != nil {
		return cb.config.IsSuccessful(err)
	}
	return false
}

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig() *Config {
	return &Config{
		Name:             "default",
		MaxRequests:      1,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}
