package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// External call metrics
	ExternalCallsTotal   *prometheus.CounterVec
	ExternalCallDuration *prometheus.HistogramVec

	// Circuit breaker metrics: 0=closed, 1=open, 2=half-open
	CircuitBreakerState *prometheus.GaugeVec

	// Rate limiter metrics
	RateLimitDecisions *prometheus.CounterVec

	// Distributed lock metrics
	LockAcquisitions *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "sitesage",
		Subsystem: "resilience",
		Enabled:   true,
	}
}

// NewMetrics creates all metrics and registers them with the default registry
func NewMetrics(config *Config) *Metrics {
	return NewMetricsWithRegistry(config, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates all metrics against a specific registerer so
// tests can run with isolated registries.
func NewMetricsWithRegistry(config *Config, registerer prometheus.Registerer) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		ExternalCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "external_calls_total",
				Help:      "Total number of external dependency calls",
			},
			[]string{"service", "outcome"},
		),
		ExternalCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "external_call_duration_seconds",
				Help:      "External dependency call duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"service"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"service"},
		),
		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "ratelimit_decisions_total",
				Help:      "Total number of rate limit decisions",
			},
			[]string{"source", "outcome"},
		),
		LockAcquisitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "lock_acquisitions_total",
				Help:      "Total number of distributed lock acquisition attempts",
			},
			[]string{"mode", "outcome"},
		),
	}

	registerer.MustRegister(
		m.ExternalCallsTotal,
		m.ExternalCallDuration,
		m.CircuitBreakerState,
		m.RateLimitDecisions,
		m.LockAcquisitions,
	)

	return m
}

// RecordExternalCall records the outcome and duration of one facade call
func (m *Metrics) RecordExternalCall(service, outcome string, duration time.Duration) {
	if m == nil || m.ExternalCallsTotal == nil {
		return
	}

	m.ExternalCallsTotal.WithLabelValues(service, outcome).Inc()
	m.ExternalCallDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// SetCircuitBreakerState records a breaker state transition
func (m *Metrics) SetCircuitBreakerState(service string, state int) {
	if m == nil || m.CircuitBreakerState == nil {
		return
	}

	m.CircuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordRateLimitDecision records one limiter decision by serving source
func (m *Metrics) RecordRateLimitDecision(source string, allowed bool) {
	if m == nil || m.RateLimitDecisions == nil {
		return
	}

	outcome := "allowed"
	if !allowed {
		outcome = "rejected"
	}
	m.RateLimitDecisions.WithLabelValues(source, outcome).Inc()
}

// RecordLockAcquisition records one lock acquisition attempt by serving mode
func (m *Metrics) RecordLockAcquisition(mode string, acquired bool) {
	if m == nil || m.LockAcquisitions == nil {
		return
	}

	outcome := "acquired"
	if !acquired {
		outcome = "refused"
	}
	m.LockAcquisitions.WithLabelValues(mode, outcome).Inc()
}

// Handler returns a Gin handler serving the Prometheus exposition endpoint
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
