package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for traversals. A disabled Metrics
// records nothing.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	activeRuns  prometheus.Gauge

	// Hook metrics
	hooksTotal   *prometheus.CounterVec
	hookDuration *prometheus.HistogramVec

	// Error metrics
	errorsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector on a private registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of finished runs by command and status",
			},
			[]string{"command", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of runs in seconds",
				Buckets:   buckets,
			},
			[]string{"command"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Number of runs in progress",
			},
		),
		hooksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hooks_total",
				Help:      "Total number of hook calls by hook and status",
			},
			[]string{"hook", "status"},
		),
		hookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "hook_duration_seconds",
				Help:      "Duration of hook calls in seconds",
				Buckets:   buckets,
			},
			[]string{"hook"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of failed runs by error class and code",
			},
			[]string{"class", "code"},
		),
	}

	registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.activeRuns,
		m.hooksTotal,
		m.hookDuration,
		m.errorsTotal,
	)

	return m, nil
}

// RunStarted records a run entering the traversal.
func (m *Metrics) RunStarted() {
	if m == nil || m.activeRuns == nil {
		return
	}
	m.activeRuns.Inc()
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(command, status string, duration time.Duration) {
	if m == nil || m.runsTotal == nil {
		return
	}
	m.activeRuns.Dec()
	m.runsTotal.WithLabelValues(command, status).Inc()
	m.runDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordHook records a finished hook call.
func (m *Metrics) RecordHook(hook, status string, duration time.Duration) {
	if m == nil || m.hooksTotal == nil {
		return
	}
	m.hooksTotal.WithLabelValues(hook, status).Inc()
	m.hookDuration.WithLabelValues(hook).Observe(duration.Seconds())
}

// RecordError records a run error by class and code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m == nil || m.errorsTotal == nil {
		return
	}
	m.errorsTotal.WithLabelValues(errorClass, errorCode).Inc()
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// WriteTextfile writes the current metrics to path in the text exposition
// format, for the node exporter textfile collector. The file is replaced
// atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || m.registry == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
