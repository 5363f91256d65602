package ragflow

import (
	"log/slog"

	"github.com/randalmurphal/ragflow/pkg/ragflow/observability"
)

// DefaultMaxIterations bounds the refinement loop when no option is given.
const DefaultMaxIterations = 10

// engineConfig holds engine configuration.
type engineConfig struct {
	maxIterations   int
	policy          DecisionPolicy
	messageLogLimit int
	model           string
	temperature     float64
	maxTokens       int

	logger         *slog.Logger
	metricsEnabled bool
	tracingEnabled bool
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		maxIterations: DefaultMaxIterations,
		policy:        PolicyLenient,
		logger:        slog.Default(),
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
	}
}

// Option configures an Engine.
type Option func(*engineConfig)

// WithMaxIterations bounds how many retrieval passes a run may make.
// Default: 10. Values below 1 are ignored.
func WithMaxIterations(n int) Option {
	return func(c *engineConfig) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithDecisionPolicy selects how router and evaluator replies are parsed.
// Default: PolicyLenient.
func WithDecisionPolicy(p DecisionPolicy) Option {
	return func(c *engineConfig) {
		c.policy = p
	}
}

// WithMessageLogLimit keeps only the most recent n model replies in the
// per-run message log. Zero keeps all of them.
func WithMessageLogLimit(n int) Option {
	return func(c *engineConfig) {
		if n >= 0 {
			c.messageLogLimit = n
		}
	}
}

// WithModel overrides the model name sent on every completion request.
func WithModel(model string) Option {
	return func(c *engineConfig) {
		c.model = model
	}
}

// WithTemperature sets the sampling temperature for completion requests.
func WithTemperature(t float64) Option {
	return func(c *engineConfig) {
		c.temperature = t
	}
}

// WithMaxTokens caps completion length. Zero leaves it to the provider.
func WithMaxTokens(n int) Option {
	return func(c *engineConfig) {
		if n >= 0 {
			c.maxTokens = n
		}
	}
}

// WithLogger sets the logger used when Execute is not given a ragflow Context.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables OpenTelemetry metrics.
// Metrics go to the global MeterProvider.
func WithMetrics(enabled bool) Option {
	return func(c *engineConfig) {
		c.metricsEnabled = enabled
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithTracing enables OpenTelemetry spans for runs and stages.
// Spans go to the global TracerProvider.
func WithTracing(enabled bool) Option {
	return func(c *engineConfig) {
		c.tracingEnabled = enabled
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithObservability enables both metrics and tracing.
func WithObservability(enabled bool) Option {
	return func(c *engineConfig) {
		WithMetrics(enabled)(c)
		WithTracing(enabled)(c)
	}
}
