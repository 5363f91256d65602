package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("ragflow")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartRunSpan starts a span for an entire workflow run.
	StartRunSpan(ctx context.Context, runID string, maxIterations int) (context.Context, trace.Span)

	// StartStageSpan starts a child span for one stage execution.
	StartStageSpan(ctx context.Context, stage string, iteration int) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses the global OTel tracer provider.
func NewSpanManager() SpanManager {
	return otelSpanManager{}
}

// StartRunSpan implements SpanManager.
func (otelSpanManager) StartRunSpan(ctx context.Context, runID string, maxIterations int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "ragflow.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("run.max_iterations", maxIterations),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartStageSpan implements SpanManager.
func (otelSpanManager) StartStageSpan(ctx context.Context, stage string, iteration int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "ragflow.stage."+stage,
		trace.WithAttributes(
			attribute.String("stage.name", stage),
			attribute.Int("stage.iteration", iteration),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError implements SpanManager.
func (otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent implements SpanManager.
func (otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
