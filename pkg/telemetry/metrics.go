package telemetry

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for site applies.
type Metrics struct {
	config MetricsConfig

	// Apply metrics
	appliesStarted   *prometheus.CounterVec
	appliesCompleted *prometheus.CounterVec
	applyDuration    *prometheus.HistogramVec

	// Pass metrics
	passDuration *prometheus.HistogramVec

	// Entity metrics
	entityChanges    *prometheus.CounterVec
	revisionsCreated *prometheus.CounterVec
	pathRenames      *prometheus.CounterVec

	// Policy metrics
	policyViolations *prometheus.CounterVec

	// Error metrics
	errorsByKind *prometheus.CounterVec
	errorsByCode *prometheus.CounterVec

	// Watch metrics
	modelReloads *prometheus.CounterVec

	// System metrics
	activeApplies prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Apply metrics
		appliesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "applies_started_total",
				Help:      "Total number of site applies started",
			},
			[]string{"site", "mode"},
		),
		appliesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "applies_completed_total",
				Help:      "Total number of site applies completed",
			},
			[]string{"site", "status"},
		),
		applyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "apply_duration_seconds",
				Help:      "Duration of site applies in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		// Pass metrics
		passDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "apply_phase_duration_seconds",
				Help:      "Duration of apply phases in seconds",
				Buckets:   buckets,
			},
			[]string{"phase"},
		),

		// Entity metrics
		entityChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entity_changes_total",
				Help:      "Total number of persisted entity changes",
			},
			[]string{"kind", "operation"},
		),
		revisionsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "revisions_created_total",
				Help:      "Total number of content revisions created",
			},
			[]string{"site", "kind"},
		),
		pathRenames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "path_renames_total",
				Help:      "Total number of path mappings renamed in place",
			},
			[]string{"site"},
		),

		// Policy metrics
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy violations found before apply",
			},
			[]string{"policy", "severity"},
		),

		// Error metrics
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of apply errors by error kind",
			},
			[]string{"kind"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of apply errors by error code",
			},
			[]string{"code"},
		),

		// Watch metrics
		modelReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_reloads_total",
				Help:      "Total number of model reloads triggered by file changes",
			},
			[]string{"status"},
		),

		// System metrics
		activeApplies: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_applies",
				Help:      "Current number of applies in flight",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.appliesStarted,
		m.appliesCompleted,
		m.applyDuration,
		m.passDuration,
		m.entityChanges,
		m.revisionsCreated,
		m.pathRenames,
		m.policyViolations,
		m.errorsByKind,
		m.errorsByCode,
		m.modelReloads,
		m.activeApplies,
	)

	return m, nil
}

// Apply Metrics

// RecordApplyStarted increments the counter for started applies. mode is
// "apply" or "plan".
func (m *Metrics) RecordApplyStarted(site, mode string) {
	if m.appliesStarted == nil {
		return
	}
	m.appliesStarted.WithLabelValues(site, mode).Inc()
	m.activeApplies.Inc()
}

// RecordApplyCompleted records a completed apply with its status and duration.
func (m *Metrics) RecordApplyCompleted(site, status string, duration time.Duration) {
	if m.appliesCompleted == nil {
		return
	}
	m.appliesCompleted.WithLabelValues(site, status).Inc()
	m.applyDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeApplies.Dec()
}

// RecordPhase records the duration of one apply phase (removal, pass1, ...).
func (m *Metrics) RecordPhase(phase string, duration time.Duration) {
	if m.passDuration == nil {
		return
	}
	m.passDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// Entity Metrics

// RecordEntityChange counts one create, update or trash of an entity kind.
func (m *Metrics) RecordEntityChange(kind, operation string) {
	if m.entityChanges == nil {
		return
	}
	m.entityChanges.WithLabelValues(kind, operation).Inc()
}

// RecordRevision counts a new content revision.
func (m *Metrics) RecordRevision(site, contentKind string) {
	if m.revisionsCreated == nil {
		return
	}
	m.revisionsCreated.WithLabelValues(site, contentKind).Inc()
}

// RecordPathRename counts a path mapping renamed in place.
func (m *Metrics) RecordPathRename(site string) {
	if m.pathRenames == nil {
		return
	}
	m.pathRenames.WithLabelValues(site).Inc()
}

// Policy Metrics

// RecordPolicyViolation counts a policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Error Metrics

// RecordError records an error by kind and optionally by code.
func (m *Metrics) RecordError(errorKind, errorCode string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(errorKind).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Watch Metrics

// RecordModelReload counts a reload of the declared model.
func (m *Metrics) RecordModelReload(status string) {
	if m.modelReloads == nil {
		return
	}
	m.modelReloads.WithLabelValues(status).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer listens on the configured address and serves the
// registry in the background. Listen errors are returned; serve errors are
// logged.
func (m *Metrics) StartMetricsServer(logger *Logger) error {
	if !m.config.Enabled {
		return nil
	}

	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.ListenAddress, err)
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()
	logger.WithField("address", ln.Addr().String()).Info("serving metrics")
	return nil
}
