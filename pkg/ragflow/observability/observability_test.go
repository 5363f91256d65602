package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// captureLogger returns a JSON logger writing to buf at debug level.
func captureLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// decodeLines parses each JSON log line in buf.
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	LogRunStart(logger, "run-1", "what is rag?", 10)
	router := EnrichLogger(logger, "run-1", "router", 0)
	LogStageStart(router)
	LogStageComplete(router, 12*time.Millisecond)
	LogDecision(router, "retrieve", "retriever")
	LogForcedTermination(EnrichLogger(logger, "run-1", "evaluator", 2), 2)
	LogStageError(EnrichLogger(logger, "run-1", "retriever", 2), errors.New("index down"))
	LogRunError(logger, "run-1", errors.New("index down"), 40, "retriever")
	LogRunComplete(logger, "run-1", 50, 1, 4)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 8)

	assert.Equal(t, "workflow run starting", lines[0]["msg"])
	assert.Equal(t, float64(12), lines[0]["query_len"])
	assert.Equal(t, "DEBUG", lines[1]["level"])
	assert.Equal(t, "router", lines[1]["stage"])
	assert.Equal(t, float64(12), lines[2]["duration_ms"])
	assert.Equal(t, "retriever", lines[3]["next"])
	assert.Equal(t, "WARN", lines[4]["level"])
	assert.Equal(t, float64(2), lines[4]["max_iterations"])
	assert.Equal(t, "index down", lines[5]["error"])
	assert.Equal(t, "retriever", lines[6]["last_stage"])
	assert.Equal(t, float64(4), lines[7]["stages_executed"])
}

func TestLogHelpers_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		LogRunStart(nil, "r", "q", 1)
		LogRunComplete(nil, "r", 1, 1, 1)
		LogRunError(nil, "r", errors.New("x"), 1, "s")
		LogStageStart(nil)
		LogStageComplete(nil, time.Millisecond)
		LogStageError(nil, errors.New("x"))
		LogDecision(nil, "d", "n")
		LogForcedTermination(nil, 1)
	})
	assert.Nil(t, EnrichLogger(nil, "r", "s", 0))
}

func TestEnrichLogger(t *testing.T) {
	var buf bytes.Buffer
	EnrichLogger(captureLogger(&buf), "run-9", "evaluator", 3).Info("judging")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "run-9", lines[0]["run_id"])
	assert.Equal(t, "evaluator", lines[0]["stage"])
	assert.Equal(t, float64(3), lines[0]["iteration"])
}

// TestStageHelpers_SingleStageKey tests that stage lines carry each key once.
func TestStageHelpers_SingleStageKey(t *testing.T) {
	var buf bytes.Buffer
	LogDecision(EnrichLogger(captureLogger(&buf), "run-1", "router", 0), "retrieve", "retriever")

	assert.Equal(t, 1, strings.Count(buf.String(), `"stage":`))
	assert.Equal(t, 1, strings.Count(buf.String(), `"iteration":`))
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), 5*time.Millisecond)
}

// setupMetricsTest installs a manual-reader meter provider for the test.
func setupMetricsTest(t *testing.T) *sdkmetric.ManualReader {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	original := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(original)
		_ = provider.Shutdown(context.Background())
	})
	return reader
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestOtelMetrics(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordStageExecution(ctx, "retriever", 20*time.Millisecond, nil)
	m.RecordStageExecution(ctx, "retriever", 5*time.Millisecond, errors.New("down"))
	m.RecordRun(ctx, true, 2, 100*time.Millisecond)
	m.RecordForcedTermination(ctx)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	execs := findMetric(&rm, "ragflow.stage.executions")
	require.NotNil(t, execs)
	sum, ok := execs.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
	stage, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("stage"))
	assert.Equal(t, "retriever", stage.AsString())

	errs := findMetric(&rm, "ragflow.stage.errors")
	require.NotNil(t, errs)
	assert.Equal(t, int64(1), errs.Data.(metricdata.Sum[int64]).DataPoints[0].Value)

	iters := findMetric(&rm, "ragflow.run.iterations")
	require.NotNil(t, iters)
	hist, ok := iters.Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	assert.Equal(t, int64(2), hist.DataPoints[0].Sum)

	forced := findMetric(&rm, "ragflow.run.forced_terminations")
	require.NotNil(t, forced)
	assert.Equal(t, int64(1), forced.Data.(metricdata.Sum[int64]).DataPoints[0].Value)

	assert.NotNil(t, findMetric(&rm, "ragflow.run.latency_ms"))
	assert.NotNil(t, findMetric(&rm, "ragflow.stage.latency_ms"))
}

func TestNewMetricsRecorder(t *testing.T) {
	setupMetricsTest(t)
	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)
	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop)
}

// setupTracingTest installs an in-memory exporter for the test.
func setupTracingTest(t *testing.T) *tracetest.InMemoryExporter {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer("ragflow")
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		tracer = otel.Tracer("ragflow")
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestSpanManager(t *testing.T) {
	exporter := setupTracingTest(t)
	sm := NewSpanManager()

	ctx, runSpan := sm.StartRunSpan(context.Background(), "run-7", 3)
	stageCtx, stageSpan := sm.StartStageSpan(ctx, "evaluator", 1)
	sm.AddSpanEvent(stageCtx, "forced_termination", attribute.Int("iteration", 3))
	sm.EndSpanWithError(stageSpan, errors.New("bad reply"))
	sm.EndSpanWithError(runSpan, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	stage := spans[0]
	assert.Equal(t, "ragflow.stage.evaluator", stage.Name)
	assert.Equal(t, codes.Error, stage.Status.Code)
	assert.Equal(t, spans[1].SpanContext.SpanID(), stage.Parent.SpanID())
	require.Len(t, stage.Events, 2) // recorded error + custom event
	assert.Equal(t, "forced_termination", stage.Events[0].Name)

	run := spans[1]
	assert.Equal(t, "ragflow.run", run.Name)
	assert.Equal(t, codes.Ok, run.Status.Code)
}

func TestNoopImplementations(t *testing.T) {
	ctx := context.Background()
	var m MetricsRecorder = NoopMetrics{}
	var sm SpanManager = NoopSpanManager{}

	assert.NotPanics(t, func() {
		m.RecordStageExecution(ctx, "router", time.Millisecond, nil)
		m.RecordRun(ctx, false, 0, time.Millisecond)
		m.RecordForcedTermination(ctx)

		got, span := sm.StartRunSpan(ctx, "r", 1)
		assert.Equal(t, ctx, got)
		_, stage := sm.StartStageSpan(ctx, "router", 0)
		sm.AddSpanEvent(ctx, "x")
		sm.EndSpanWithError(stage, errors.New("x"))
		sm.EndSpanWithError(span, nil)
	})
}
