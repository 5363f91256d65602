package ragflow

import (
	"github.com/randalmurphal/ragflow/pkg/ragflow/llm"
	"github.com/randalmurphal/ragflow/pkg/ragflow/observability"
	"go.opentelemetry.io/otel/attribute"
)

// StageFunc performs one stage of the workflow.
//
// The state parameter is passed by value. A stage returns the updated state
// and any error; on error the run aborts and the returned state is reported
// as the state at the point of failure.
type StageFunc func(ctx Context, state WorkflowState) (WorkflowState, error)

// BranchFunc chooses the decision that follows a stage with more than one
// successor.
type BranchFunc func(ctx Context, state WorkflowState) (Decision, error)

// complete sends one system plus user turn and returns the reply text.
func (e *Engine) complete(ctx Context, stage Stage, system, user string) (string, error) {
	resp, err := e.client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
		Model:        e.cfg.model,
		MaxTokens:    e.cfg.maxTokens,
		Temperature:  e.cfg.temperature,
	})
	if err != nil {
		return "", &StageError{Stage: stage, Op: "complete", Err: err}
	}
	if resp == nil {
		return "", nil
	}
	return resp.Content, nil
}

func (e *Engine) recordReply(s WorkflowState, reply string) WorkflowState {
	return s.appendMessage(llm.Message{Role: llm.RoleAssistant, Content: reply}, e.cfg.messageLogLimit)
}

// route asks the model whether the query needs retrieval.
func (e *Engine) route(ctx Context, s WorkflowState) (WorkflowState, error) {
	reply, err := e.complete(ctx, StageRouter, routerSystemPrompt, routerUserPrompt(s.Query))
	if err != nil {
		return s, err
	}
	s = e.recordReply(s, reply)
	s.Metadata[MetaRouterDecision] = reply
	s.Stage = StageRouter
	return s, nil
}

func (e *Engine) routeBranch(ctx Context, s WorkflowState) (Decision, error) {
	reply, _ := s.Metadata[MetaRouterDecision].(string)
	d, err := e.cfg.policy.routeDecision(reply)
	if err != nil {
		return DecisionNone, &DecisionError{Stage: StageRouter, Reply: reply, Err: err}
	}
	return d, nil
}

// retrieve runs one retrieval pass with the original query.
func (e *Engine) retrieve(ctx Context, s WorkflowState) (WorkflowState, error) {
	results, err := e.retriever.Search(ctx, s.Query)
	if err != nil {
		return s, &StageError{Stage: StageRetriever, Op: "search", Err: err}
	}
	s.SearchResults = results
	s.Iteration++
	s.Stage = StageRetriever
	ctx.Logger().Debug("retrieval pass complete",
		"results", len(results),
		"pass", s.Iteration,
	)
	return s, nil
}

// evaluate asks the model whether the current results are sufficient.
// The model is consulted even at the iteration limit so its verdict is
// recorded, but the branch then ignores it.
func (e *Engine) evaluate(ctx Context, s WorkflowState) (WorkflowState, error) {
	reply, err := e.complete(ctx, StageEvaluator, evaluatorSystemPrompt, evaluatorUserPrompt(s.Query, s.SearchResults))
	if err != nil {
		return s, err
	}
	s = e.recordReply(s, reply)
	s.Metadata[MetaEvaluation] = reply
	if s.AtIterationLimit() {
		s.Metadata[MetaForcedTermination] = true
	}
	s.Stage = StageEvaluator
	return s, nil
}

func (e *Engine) evaluateBranch(ctx Context, s WorkflowState) (Decision, error) {
	if s.AtIterationLimit() {
		observability.LogForcedTermination(ctx.Logger(), s.MaxIterations)
		e.cfg.metrics.RecordForcedTermination(ctx)
		e.cfg.spans.AddSpanEvent(ctx, "forced_termination",
			attribute.Int("iteration", s.Iteration),
			attribute.Int("max_iterations", s.MaxIterations),
		)
		return DecisionRespond, nil
	}

	reply, _ := s.Metadata[MetaEvaluation].(string)
	d, err := e.cfg.policy.sufficiencyDecision(reply)
	if err != nil {
		return DecisionNone, &DecisionError{Stage: StageEvaluator, Reply: reply, Err: err}
	}
	return d, nil
}

// synthesize writes the answer from the top results.
func (e *Engine) synthesize(ctx Context, s WorkflowState) (WorkflowState, error) {
	if s.Answer != "" {
		return s, &StageError{Stage: StageSynthesizer, Op: "respond", Err: ErrAnswerAlreadySet}
	}
	reply, err := e.complete(ctx, StageSynthesizer, synthesizerSystemPrompt, synthesizerUserPrompt(s.Query, s.SearchResults))
	if err != nil {
		return s, err
	}
	s = e.recordReply(s, reply)
	s.Answer = reply
	s.Stage = StageDone
	return s, nil
}
