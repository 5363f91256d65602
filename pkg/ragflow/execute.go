package ragflow

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"

	"github.com/randalmurphal/ragflow/pkg/ragflow/observability"
	"go.opentelemetry.io/otel/trace"
)

// Execute answers query by driving the workflow from the router to done.
//
// On success it returns the final answer, the results of the last retrieval
// pass as sources, the accumulated metadata, and the number of retrieval
// passes. Any stage failure aborts the run and is returned without a result.
//
// If ctx is a Context created by NewContext, the run adopts its run ID and
// logger. Cancellation is checked before every stage and yields a
// *CancellationError.
//
// Example:
//
//	res, err := engine.Execute(ctx, "What does the onboarding guide say about VPN access?")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(res.Answer, len(res.Sources), res.Iterations)
func (e *Engine) Execute(ctx context.Context, query string) (_ *Result, runErr error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	ec := asExecutionContext(ctx, e.logger())
	runID := ec.runID
	logger := ec.logger

	state := NewWorkflowState(query, e.cfg.maxIterations)
	state.Metadata[MetaRunID] = runID

	elapsed := observability.TimedOperation()
	observability.LogRunStart(logger, runID, query, e.cfg.maxIterations)

	var tracingCtx context.Context = ec
	if e.cfg.tracingEnabled {
		var runSpan trace.Span
		tracingCtx, runSpan = e.cfg.spans.StartRunSpan(ec, runID, e.cfg.maxIterations)
		defer func() {
			e.cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	final, stageCount, runErr := e.run(tracingCtx, ec, state)

	duration := elapsed()
	durationMs := float64(duration.Milliseconds())
	e.cfg.metrics.RecordRun(ec, runErr == nil, final.Iteration, duration)

	if runErr != nil {
		observability.LogRunError(logger, runID, runErr, durationMs, lastStageOf(runErr).String())
		return nil, runErr
	}
	observability.LogRunComplete(logger, runID, durationMs, final.Iteration, stageCount)
	return resultFromState(runID, final), nil
}

// run is the stage loop. tracingCtx carries span context; ec carries the
// run identity and the caller's cancellation.
func (e *Engine) run(tracingCtx context.Context, ec *executionContext, state WorkflowState) (WorkflowState, int, error) {
	current := StageRouter
	budget := 2*state.MaxIterations + 3
	steps := 0

	for !current.Terminal() {
		steps++
		if steps > budget {
			return state, steps - 1, &StepBudgetError{Budget: budget, LastStage: current}
		}

		if err := ec.Err(); err != nil {
			return state, steps - 1, &CancellationError{
				Stage:     current,
				Iteration: state.Iteration,
				Cause:     context.Cause(ec),
			}
		}

		stageTracingCtx := tracingCtx
		var stageSpan trace.Span
		if e.cfg.tracingEnabled {
			stageTracingCtx, stageSpan = e.cfg.spans.StartStageSpan(tracingCtx, current.String(), state.Iteration)
		}
		sctx := ec.withStage(stageTracingCtx, current, state.Iteration)
		observability.LogStageStart(sctx.logger)

		stageElapsed := observability.TimedOperation()
		var err error
		state, err = e.executeStage(sctx, current, state)
		stageDuration := stageElapsed()

		e.cfg.metrics.RecordStageExecution(sctx, current.String(), stageDuration, err)

		var next Stage
		if err == nil {
			next, err = e.nextStage(sctx, current, state)
		}

		if e.cfg.tracingEnabled {
			e.cfg.spans.EndSpanWithError(stageSpan, err)
		}

		if err != nil {
			observability.LogStageError(sctx.logger, err)
			return state, steps - 1, err
		}
		observability.LogStageComplete(sctx.logger, stageDuration)

		current = next
	}

	return state, steps, nil
}

// executeStage runs one stage with panic recovery.
func (e *Engine) executeStage(ctx *executionContext, stage Stage, state WorkflowState) (result WorkflowState, err error) {
	fn, ok := e.stages[stage]
	if !ok {
		return state, &TransitionError{From: stage, Decision: DecisionNone}
	}

	defer func() {
		if r := recover(); r != nil {
			result = state
			err = &PanicError{
				Stage: stage,
				Value: r,
				Stack: string(debug.Stack()),
			}
		}
	}()

	return fn(ctx, state)
}

// nextStage resolves the decision for current and looks up its successor.
func (e *Engine) nextStage(ctx *executionContext, current Stage, state WorkflowState) (Stage, error) {
	decision := DecisionNone
	if branch, ok := e.branches[current]; ok {
		d, err := branch(ctx, state)
		if err != nil {
			return StageNone, err
		}
		decision = d
	}

	next, err := Transition(current, decision)
	if err != nil {
		return StageNone, err
	}
	if decision != DecisionNone {
		observability.LogDecision(ctx.logger, decision.String(), next.String())
	}
	return next, nil
}

// lastStageOf extracts the failing stage from a run error, if it carries one.
func lastStageOf(err error) Stage {
	var (
		stageErr    *StageError
		panicErr    *PanicError
		cancelErr   *CancellationError
		decisionErr *DecisionError
		budgetErr   *StepBudgetError
		transErr    *TransitionError
	)
	switch {
	case errors.As(err, &stageErr):
		return stageErr.Stage
	case errors.As(err, &panicErr):
		return panicErr.Stage
	case errors.As(err, &cancelErr):
		return cancelErr.Stage
	case errors.As(err, &decisionErr):
		return decisionErr.Stage
	case errors.As(err, &budgetErr):
		return budgetErr.LastStage
	case errors.As(err, &transErr):
		return transErr.From
	default:
		return StageNone
	}
}
