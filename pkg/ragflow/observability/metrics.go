package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records orchestration metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordStageExecution records one stage execution with its duration and error status.
	RecordStageExecution(ctx context.Context, stage string, duration time.Duration, err error)

	// RecordRun records a finished run.
	RecordRun(ctx context.Context, success bool, iterations int, duration time.Duration)

	// RecordForcedTermination records a run that hit its iteration bound.
	RecordForcedTermination(ctx context.Context)
}

type otelMetrics struct {
	stageExecutions    metric.Int64Counter
	stageLatency       metric.Float64Histogram
	stageErrors        metric.Int64Counter
	runs               metric.Int64Counter
	runLatency         metric.Float64Histogram
	runIterations      metric.Int64Histogram
	forcedTerminations metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("ragflow")
	m := &otelMetrics{}
	var err error

	if m.stageExecutions, err = meter.Int64Counter("ragflow.stage.executions",
		metric.WithDescription("Number of stage executions"),
	); err != nil {
		return nil, err
	}
	if m.stageLatency, err = meter.Float64Histogram("ragflow.stage.latency_ms",
		metric.WithDescription("Stage execution latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.stageErrors, err = meter.Int64Counter("ragflow.stage.errors",
		metric.WithDescription("Number of stage execution errors"),
	); err != nil {
		return nil, err
	}
	if m.runs, err = meter.Int64Counter("ragflow.run.count",
		metric.WithDescription("Number of workflow runs"),
	); err != nil {
		return nil, err
	}
	if m.runLatency, err = meter.Float64Histogram("ragflow.run.latency_ms",
		metric.WithDescription("Workflow run latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.runIterations, err = meter.Int64Histogram("ragflow.run.iterations",
		metric.WithDescription("Retrieval passes per workflow run"),
	); err != nil {
		return nil, err
	}
	if m.forcedTerminations, err = meter.Int64Counter("ragflow.run.forced_terminations",
		metric.WithDescription("Runs that responded because the iteration bound was reached"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by the global OTel
// meter provider, or a no-op recorder if instrument creation fails.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordStageExecution implements MetricsRecorder.
func (m *otelMetrics) RecordStageExecution(ctx context.Context, stage string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("stage", stage))

	m.stageExecutions.Add(ctx, 1, attrs)
	m.stageLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.stageErrors.Add(ctx, 1, attrs)
	}
}

// RecordRun implements MetricsRecorder.
func (m *otelMetrics) RecordRun(ctx context.Context, success bool, iterations int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.runs.Add(ctx, 1, attrs)
	m.runLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.runIterations.Record(ctx, int64(iterations), attrs)
}

// RecordForcedTermination implements MetricsRecorder.
func (m *otelMetrics) RecordForcedTermination(ctx context.Context) {
	m.forcedTerminations.Add(ctx, 1)
}
