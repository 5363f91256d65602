package ragflow

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/randalmurphal/ragflow/pkg/ragflow/observability"
)

// Context provides execution context to stages.
// It extends context.Context with a run identifier and an enriched logger.
//
// Context is immutable after creation. The engine derives a new Context
// for each stage with the stage name and iteration attached to the logger.
type Context interface {
	context.Context

	// Logger returns the logger enriched with run and stage context.
	// Never returns nil.
	Logger() *slog.Logger

	// RunID returns the unique identifier for this run.
	RunID() string

	// Stage returns the stage being executed, or StageNone outside a stage.
	Stage() Stage
}

type executionContext struct {
	context.Context

	logger *slog.Logger
	runID  string
	stage  Stage
}

func (c *executionContext) Logger() *slog.Logger { return c.logger }

func (c *executionContext) RunID() string { return c.runID }

func (c *executionContext) Stage() Stage { return c.stage }

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithContextLogger sets the base logger for the context.
func WithContextLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithContextRunID sets the run identifier. A UUID is generated otherwise.
func WithContextRunID(id string) ContextOption {
	return func(c *executionContext) {
		if id != "" {
			c.runID = id
		}
	}
}

// NewContext wraps ctx with a run identifier and logger.
//
// Passing the result to Engine.Execute makes the run use that identifier,
// which lets callers correlate their own records with engine logs:
//
//	rctx := ragflow.NewContext(r.Context(), ragflow.WithContextRunID(queryID))
//	res, err := engine.Execute(rctx, query)
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
		runID:   uuid.New().String(),
	}
	for _, opt := range opts {
		opt(ec)
	}
	return ec
}

// asExecutionContext adopts an existing ragflow Context or builds a new one.
func asExecutionContext(ctx context.Context, fallback *slog.Logger) *executionContext {
	if ec, ok := ctx.(*executionContext); ok {
		return ec
	}
	if rc, ok := ctx.(Context); ok {
		return &executionContext{Context: rc, logger: rc.Logger(), runID: rc.RunID()}
	}
	return NewContext(ctx, WithContextLogger(fallback)).(*executionContext)
}

// withStage returns a derived context for one stage execution.
func (c *executionContext) withStage(ctx context.Context, stage Stage, iteration int) *executionContext {
	return &executionContext{
		Context: ctx,
		logger:  observability.EnrichLogger(c.logger, c.runID, stage.String(), iteration),
		runID:   c.runID,
		stage:   stage,
	}
}
