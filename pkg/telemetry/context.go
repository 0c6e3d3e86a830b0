package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer, metrics and event publisher one
// process shares.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry validates cfg and builds every component.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// NewNop returns telemetry that records nothing.
func NewNop() *Telemetry {
	cfg := NopConfig()
	tel, err := NewTelemetry(cfg)
	if err != nil {
		panic(fmt.Sprintf("telemetry: nop config rejected: %v", err))
	}
	tel.Logger = NewNopLogger()
	return tel
}

// WithContext stores t and its logger in ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext returns the telemetry stored in ctx, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryContextKey{}).(*Telemetry)
	return t
}

// Shutdown drains the event publisher and flushes the tracer. The metrics
// endpoint keeps serving until the process exits.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Events.Shutdown(ctx), t.Tracer.Shutdown(ctx))
}

// StartMetricsServer serves /metrics when metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer(t.Logger)
}

type applyStateKey struct{}

type applyState struct {
	span    trace.Span
	started time.Time
	runID   string
	site    string
}

// WithApplyContext opens the root span of an apply and scopes the logger
// in ctx to the run. It records the started metric and event. Without
// telemetry in ctx it returns ctx unchanged.
func WithApplyContext(ctx context.Context, runID, site, actor string, dryRun bool) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	ctx, span := tel.Tracer.StartApplySpan(ctx, runID, site, dryRun)

	logger := tel.Logger.WithRunID(runID).WithSite(site).WithField("actor", actor)
	if id := TraceID(ctx); id != "" {
		logger = logger.WithField("trace_id", id)
	}
	ctx = logger.WithContext(ctx)

	mode := "apply"
	if dryRun {
		mode = "plan"
	}
	tel.Metrics.RecordApplyStarted(site, mode)
	_ = tel.Events.PublishApplyStarted(runID, site, actor, dryRun)

	return context.WithValue(ctx, applyStateKey{}, &applyState{
		span:    span,
		started: time.Now(),
		runID:   runID,
		site:    site,
	})
}

// EndApplyContext closes the apply opened by WithApplyContext. changes is
// the number of persisted writes.
func EndApplyContext(ctx context.Context, changes int, err error) {
	tel := FromTelemetryContext(ctx)
	state, ok := ctx.Value(applyStateKey{}).(*applyState)
	if tel == nil || !ok {
		return
	}

	status := "success"
	if err != nil {
		status = "failed"
	}
	state.span.SetAttributes(AttrStatus.String(status))
	EndSpan(state.span, err)

	duration := time.Since(state.started)
	tel.Metrics.RecordApplyCompleted(state.site, status, duration)
	if err != nil {
		_ = tel.Events.PublishApplyFailed(state.runID, state.site, err.Error())
		return
	}
	_ = tel.Events.PublishApplyCompleted(state.runID, state.site, changes, duration)
}

// RecordPhase runs fn inside the span of one apply phase and records its
// duration.
func RecordPhase(ctx context.Context, phase string, fn func(ctx context.Context) error) error {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return fn(ctx)
	}

	ctx, span := tel.Tracer.StartPhaseSpan(ctx, phase)
	started := time.Now()
	err := fn(ctx)
	tel.Metrics.RecordPhase(phase, time.Since(started))
	EndSpan(span, err)
	return err
}
