package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing and metrics for one invocation.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// NewTelemetry validates cfg and builds the logger, the tracer and the
// metrics registry in that order.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Telemetry{Config: cfg}

	var err error
	if t.Logger, err = NewLogger(cfg.Logging); err != nil {
		return nil, err
	}
	if t.Tracer, err = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment); err != nil {
		return nil, err
	}
	if t.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, err
	}
	return t, nil
}

// Nop records nothing.
func Nop() *Telemetry {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	t := &Telemetry{Logger: NopLogger(), Config: cfg}
	t.Tracer, _ = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	t.Metrics, _ = NewMetrics(cfg.Metrics)
	return t
}

// ForRun shares the tracer and metrics but tags every log entry, stage
// loggers included, with runID.
func (t *Telemetry) ForRun(runID string) *Telemetry {
	run := *t
	run.Logger = t.Logger.WithRunID(runID)
	return &run
}

// Shutdown flushes metrics and stops the tracer, attempting both.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Metrics.Flush(ctx), t.Tracer.Shutdown(ctx))
}

// Stage is one instrumented pipeline stage. Ctx carries the stage span and
// Logger.
type Stage struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger

	name  string
	timer *Timer
	tel   *Telemetry
}

// StartStage opens the span for stage name and starts its timer.
func (t *Telemetry) StartStage(ctx context.Context, name string) *Stage {
	ctx, span := t.Tracer.StartStageSpan(ctx, name)

	logger := t.Logger.WithField("stage", name)
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": sc.TraceID().String(),
			"span_id":  sc.SpanID().String(),
		})
	}

	return &Stage{
		Ctx:    logger.WithContext(ctx),
		Span:   span,
		Logger: logger,
		name:   name,
		timer:  NewTimer(),
		tel:    t,
	}
}

// End closes the span with err's status and records the stage duration.
func (s *Stage) End(err error) {
	if err != nil {
		RecordError(s.Span, err)
	} else {
		RecordSuccess(s.Span)
	}
	s.Span.End()
	s.tel.Metrics.RecordStage(s.name, s.timer.Duration())
}
