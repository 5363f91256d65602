// Package observability provides structured logging, metrics, and tracing
// helpers for orchestration runs.
//
// Features:
//   - Structured logging via slog
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds run context to a logger.
func EnrichLogger(logger *slog.Logger, runID, stage string, iteration int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("stage", stage),
		slog.Int("iteration", iteration),
	)
}

// LogRunStart logs the start of an orchestration run.
func LogRunStart(logger *slog.Logger, runID, query string, maxIterations int) {
	if logger == nil {
		return
	}
	logger.Info("workflow run starting",
		slog.String("run_id", runID),
		slog.Int("query_len", len(query)),
		slog.Int("max_iterations", maxIterations),
	)
}

// LogRunComplete logs successful run completion.
func LogRunComplete(logger *slog.Logger, runID string, durationMs float64, iterations, stages int) {
	if logger == nil {
		return
	}
	logger.Info("workflow run completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("iterations", iterations),
		slog.Int("stages_executed", stages),
	)
}

// LogRunError logs run failure.
func LogRunError(logger *slog.Logger, runID string, err error, durationMs float64, lastStage string) {
	if logger == nil {
		return
	}
	logger.Error("workflow run failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_stage", lastStage),
	)
}

// The stage helpers below expect a logger from EnrichLogger, which already
// carries the stage and iteration.

// LogStageStart logs stage execution start.
func LogStageStart(logger *slog.Logger) {
	if logger == nil {
		return
	}
	logger.Debug("stage starting")
}

// LogStageComplete logs successful stage completion.
func LogStageComplete(logger *slog.Logger, duration time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("stage completed", slog.Float64("duration_ms", float64(duration.Milliseconds())))
}

// LogStageError logs stage failure.
func LogStageError(logger *slog.Logger, err error) {
	if logger == nil {
		return
	}
	logger.Error("stage failed", slog.String("error", err.Error()))
}

// LogDecision logs a branch taken after a stage.
func LogDecision(logger *slog.Logger, decision, next string) {
	if logger == nil {
		return
	}
	logger.Info("stage decision",
		slog.String("decision", decision),
		slog.String("next", next),
	)
}

// LogForcedTermination warns that the refinement loop hit its bound.
func LogForcedTermination(logger *slog.Logger, maxIterations int) {
	if logger == nil {
		return
	}
	logger.Warn("max iterations reached, responding with current evidence",
		slog.Int("max_iterations", maxIterations),
	)
}

// TimedOperation returns a function reporting the time elapsed since the call.
func TimedOperation() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}
