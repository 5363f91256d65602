package ragflow

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/ragflow/pkg/ragflow/llm"
)

// Retriever supplies ranked fragments for a query.
// Implementations must be safe for concurrent use; one Engine serves many runs.
type Retriever interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// RetrieverFunc adapts a function to the Retriever interface.
type RetrieverFunc func(ctx context.Context, query string) ([]SearchResult, error)

// Search calls f.
func (f RetrieverFunc) Search(ctx context.Context, query string) ([]SearchResult, error) {
	return f(ctx, query)
}

// Engine runs the router, retriever, evaluator, synthesizer workflow.
//
// An Engine holds only its dependencies and configuration; every Execute
// call builds its own WorkflowState, so one Engine may serve concurrent runs.
type Engine struct {
	client    llm.Client
	retriever Retriever
	cfg       engineConfig

	stages   map[Stage]StageFunc
	branches map[Stage]BranchFunc
}

// New constructs an Engine from a language-model client and a retriever.
//
// Example:
//
//	engine, err := ragflow.New(client, ragflow.RetrieverFunc(search),
//	    ragflow.WithMaxIterations(3),
//	    ragflow.WithLogger(logger))
func New(client llm.Client, retriever Retriever, opts ...Option) (*Engine, error) {
	if client == nil {
		return nil, ErrNilLLM
	}
	if retriever == nil {
		return nil, ErrNilRetriever
	}

	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Engine{
		client:    client,
		retriever: retriever,
		cfg:       cfg,
	}
	e.stages = map[Stage]StageFunc{
		StageRouter:      e.route,
		StageRetriever:   e.retrieve,
		StageEvaluator:   e.evaluate,
		StageSynthesizer: e.synthesize,
	}
	e.branches = map[Stage]BranchFunc{
		StageRouter:    e.routeBranch,
		StageEvaluator: e.evaluateBranch,
	}
	return e, nil
}

// MaxIterations returns the configured refinement bound.
func (e *Engine) MaxIterations() int {
	return e.cfg.maxIterations
}

// Policy returns the configured decision policy.
func (e *Engine) Policy() DecisionPolicy {
	return e.cfg.policy
}

func (e *Engine) logger() *slog.Logger {
	return e.cfg.logger
}
