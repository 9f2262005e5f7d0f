package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector manages all metrics for a service
type Collector struct {
	namespace string
	registry  *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	StartTime prometheus.Gauge

	// Translation metrics
	TranslationsTotal   *prometheus.CounterVec
	TranslationDuration *prometheus.HistogramVec
	ValidationFailures  *prometheus.CounterVec
	TranslatorErrors    *prometheus.CounterVec

	// Cache metrics
	CacheOperations *prometheus.CounterVec

	// Resilience metrics
	RateLimited         *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
}

// NewCollector creates a new metrics collector
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		namespace: namespace,
		registry:  registry,
	}

	c.initializeMetrics()
	c.registerMetrics()

	return c
}

// initializeMetrics initializes all metrics
func (c *Collector) initializeMetrics() {
	c.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	c.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status_code"},
	)

	c.StartTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      "start_time_seconds",
			Help:      "Start time of the process since unix epoch in seconds",
		},
	)

	c.TranslationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "translations_total",
			Help:      "Total number of rule translations",
		},
		[]string{"source", "target", "status"},
	)

	c.TranslationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      "translation_duration_seconds",
			Help:      "Rule translation duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"target"},
	)

	c.ValidationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "validation_failures_total",
			Help:      "Total number of native query validation failures",
		},
		[]string{"platform"},
	)

	c.TranslatorErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "translator_errors_total",
			Help:      "Total number of translator errors by stage",
		},
		[]string{"platform", "stage"},
	)

	c.CacheOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of cache operations",
		},
		[]string{"operation", "result"},
	)

	c.RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "rate_limited_total",
			Help:      "Total number of calls rejected by the rate limiter",
		},
		[]string{"platform"},
	)

	c.CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half open, 2 open)",
		},
		[]string{"platform"},
	)
}

// registerMetrics registers all metrics with the registry
func (c *Collector) registerMetrics() {
	c.registry.MustRegister(c.RequestsTotal)
	c.registry.MustRegister(c.RequestDuration)
	c.registry.MustRegister(c.StartTime)

	c.registry.MustRegister(c.TranslationsTotal)
	c.registry.MustRegister(c.TranslationDuration)
	c.registry.MustRegister(c.ValidationFailures)
	c.registry.MustRegister(c.TranslatorErrors)

	c.registry.MustRegister(c.CacheOperations)

	c.registry.MustRegister(c.RateLimited)
	c.registry.MustRegister(c.CircuitBreakerState)

	c.StartTime.SetToCurrentTime()
}

// RecordHTTPRequest records HTTP request metrics
func (c *Collector) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	statusStr := strconv.Itoa(statusCode)
	c.RequestsTotal.WithLabelValues(method, endpoint, statusStr).Inc()
	c.RequestDuration.WithLabelValues(method, endpoint, statusStr).Observe(duration.Seconds())
}

// RecordTranslation records a translation outcome
func (c *Collector) RecordTranslation(source, target, status string, duration time.Duration) {
	c.TranslationsTotal.WithLabelValues(source, target, status).Inc()
	c.TranslationDuration.WithLabelValues(target).Observe(duration.Seconds())
}

// RecordValidationFailure records a failed native query validation
func (c *Collector) RecordValidationFailure(platform string) {
	c.ValidationFailures.WithLabelValues(platform).Inc()
}

// RecordTranslatorError records a translator error for a stage
func (c *Collector) RecordTranslatorError(platform, stage string) {
	c.TranslatorErrors.WithLabelValues(platform, stage).Inc()
}

// RecordCacheOperation records cache operation metrics
func (c *Collector) RecordCacheOperation(operation, result string) {
	c.CacheOperations.WithLabelValues(operation, result).Inc()
}

// RecordRateLimited records a rate limited call
func (c *Collector) RecordRateLimited(platform string) {
	c.RateLimited.WithLabelValues(platform).Inc()
}

// SetCircuitBreakerState records the breaker state for a platform
func (c *Collector) SetCircuitBreakerState(platform, state string) {
	var v float64
	switch state {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	c.CircuitBreakerState.WithLabelValues(platform).Set(v)
}

// GetRegistry returns the metrics registry
func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}

// CreateHandler creates an HTTP handler for metrics
func (c *Collector) CreateHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Timer measures the elapsed time of an operation
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed duration
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
