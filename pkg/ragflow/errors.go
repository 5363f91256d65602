package ragflow

import (
	"errors"
	"fmt"
)

// Sentinel errors for engine construction.
var (
	// ErrNilLLM indicates New was called without a language-model client.
	ErrNilLLM = errors.New("llm client is required")

	// ErrNilRetriever indicates New was called without a retriever.
	ErrNilRetriever = errors.New("retriever is required")
)

// Sentinel errors for execution.
var (
	// ErrNilContext indicates Execute was called with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrEmptyQuery indicates Execute was called with blank query text.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrAnswerAlreadySet indicates a second attempt to write the answer.
	ErrAnswerAlreadySet = errors.New("answer already set")

	// ErrInvalidTransition indicates the workflow graph has no edge for a decision.
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrStepBudgetExceeded indicates the driver executed more stages than
	// any valid run can require.
	ErrStepBudgetExceeded = errors.New("stage step budget exceeded")
)

// StageError wraps a dependency failure with the stage that hit it.
type StageError struct {
	// Stage is the stage that failed.
	Stage Stage
	// Op is the operation that failed ("complete", "search").
	Op string
	// Err is the underlying error, unmodified.
	Err error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StageError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic recovered from a stage.
type PanicError struct {
	Stage Stage
	Value any
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("stage %s panicked: %v", e.Stage, e.Value)
}

// CancellationError reports a run stopped because its context was done.
type CancellationError struct {
	// Stage is the stage that was about to execute.
	Stage Stage
	// Iteration is the retrieval pass count at cancellation.
	Iteration int
	// Cause is context.Canceled or context.DeadlineExceeded.
	Cause error
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	return fmt.Sprintf("cancelled before stage %s (iteration %d): %v", e.Stage, e.Iteration, e.Cause)
}

// Unwrap returns the cancellation cause.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// DecisionError reports a model reply that did not carry a valid decision.
type DecisionError struct {
	Stage Stage
	// Reply is the raw model output.
	Reply string
	Err   error
}

// Error implements the error interface.
func (e *DecisionError) Error() string {
	return fmt.Sprintf("stage %s: unusable decision in reply %q: %v", e.Stage, truncate(e.Reply, 120), e.Err)
}

// Unwrap returns the parse or validation failure.
func (e *DecisionError) Unwrap() error {
	return e.Err
}

// TransitionError reports a decision with no matching edge.
type TransitionError struct {
	From     Stage
	Decision Decision
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("no transition from %s on %s", e.From, e.Decision)
}

// Unwrap returns ErrInvalidTransition for errors.Is support.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// StepBudgetError reports a run that exceeded its stage budget.
type StepBudgetError struct {
	Budget    int
	LastStage Stage
}

// Error implements the error interface.
func (e *StepBudgetError) Error() string {
	return fmt.Sprintf("exceeded step budget (%d) at stage %s", e.Budget, e.LastStage)
}

// Unwrap returns ErrStepBudgetExceeded for errors.Is support.
func (e *StepBudgetError) Unwrap() error {
	return ErrStepBudgetExceeded
}

func truncate(s string, n int) string {
	head := firstRunes(s, n)
	if len(head) == len(s) {
		return s
	}
	return head + "..."
}
