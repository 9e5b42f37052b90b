package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds the Prometheus collectors for one resource invocation.
type Metrics struct {
	config MetricsConfig

	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	stageDuration *prometheus.HistogramVec

	hosts       *prometheus.GaugeVec
	taskResults *prometheus.GaugeVec

	fieldIssues  *prometheus.CounterVec
	errorsByCode *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	ns := cfg.Namespace

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "runs_completed_total",
			Help: "Playbook runs completed, by resource status code",
		}, []string{"status_code"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "run_duration_seconds", Buckets: buckets,
			Help: "Wall time of the whole out invocation",
		}, []string{"status_code"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "stage_duration_seconds", Buckets: buckets,
			Help: "Wall time of each pipeline stage",
		}, []string{"stage"}),
		hosts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "hosts",
			Help: "Hosts in the last run, by outcome (all, failed, unreachable)",
		}, []string{"outcome"}),
		taskResults: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "task_results",
			Help: "Recap task counters of the last run, summed over hosts",
		}, []string{"result"}),
		fieldIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "config_field_issues_total",
			Help: "Configuration fields dropped because they could not be coerced",
		}, []string{"field"}),
		errorsByCode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "errors_total",
			Help: "Failed runs, by error code",
		}, []string{"code"}),
	}

	m.registry.MustRegister(m.runsCompleted, m.runDuration, m.stageDuration,
		m.hosts, m.taskResults, m.fieldIssues, m.errorsByCode)
	return m, nil
}

// RecordRunCompleted records a completed run with its status code and duration.
func (m *Metrics) RecordRunCompleted(statusCode int, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	code := strconv.Itoa(statusCode)
	m.runsCompleted.WithLabelValues(code).Inc()
	m.runDuration.WithLabelValues(code).Observe(duration.Seconds())
}

// RecordStage records the duration of a pipeline stage.
func (m *Metrics) RecordStage(stage string, duration time.Duration) {
	if m.stageDuration == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// SetHosts sets the host count for an outcome.
func (m *Metrics) SetHosts(outcome string, count int) {
	if m.hosts == nil {
		return
	}
	m.hosts.WithLabelValues(outcome).Set(float64(count))
}

// SetTaskResults sets the aggregated count for a task result kind.
func (m *Metrics) SetTaskResults(result string, count int) {
	if m.taskResults == nil {
		return
	}
	m.taskResults.WithLabelValues(result).Set(float64(count))
}

// RecordFieldIssue records a dropped configuration field.
func (m *Metrics) RecordFieldIssue(field string) {
	if m.fieldIssues == nil {
		return
	}
	m.fieldIssues.WithLabelValues(field).Inc()
}

// RecordError records an error by code.
func (m *Metrics) RecordError(code string) {
	if m.errorsByCode == nil || code == "" {
		return
	}
	m.errorsByCode.WithLabelValues(code).Inc()
}

// Registry returns the underlying registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Flush pushes the collected metrics to the pushgateway and/or writes them
// to the configured textfile.
func (m *Metrics) Flush(ctx context.Context) error {
	if m.registry == nil {
		return nil
	}
	if m.config.TextfilePath != "" {
		if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
			return fmt.Errorf("failed to write metrics textfile %s: %w", m.config.TextfilePath, err)
		}
	}
	if m.config.PushgatewayURL != "" {
		job := m.config.Job
		if job == "" {
			job = "playbook-resource"
		}
		if err := push.New(m.config.PushgatewayURL, job).Gatherer(m.registry).PushContext(ctx); err != nil {
			return fmt.Errorf("failed to push metrics to %s: %w", m.config.PushgatewayURL, err)
		}
	}
	return nil
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
