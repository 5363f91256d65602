package ragflow

// Stage identifies a step of the orchestration workflow.
type Stage int

const (
	// StageNone is the zero value before any stage has executed.
	StageNone Stage = iota
	// StageRouter classifies the query as retrieval-requiring or direct.
	StageRouter
	// StageRetriever fetches ranked fragments for the query.
	StageRetriever
	// StageEvaluator judges whether the fragments suffice.
	StageEvaluator
	// StageSynthesizer produces the final answer.
	StageSynthesizer
	// StageDone is terminal.
	StageDone
)

// String returns the stage name used in logs, metrics, and span names.
func (s Stage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StageRouter:
		return "router"
	case StageRetriever:
		return "retriever"
	case StageEvaluator:
		return "evaluator"
	case StageSynthesizer:
		return "synthesizer"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Terminal reports whether no stage follows s.
func (s Stage) Terminal() bool {
	return s == StageDone
}

// Decision is the branch chosen after a stage completes.
type Decision int

const (
	// DecisionNone marks an unconditional transition.
	DecisionNone Decision = iota
	// DecisionRetrieve routes the query to retrieval.
	DecisionRetrieve
	// DecisionDirect answers without retrieval.
	DecisionDirect
	// DecisionRefine runs another retrieval pass.
	DecisionRefine
	// DecisionRespond moves on to synthesis.
	DecisionRespond
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case DecisionNone:
		return "none"
	case DecisionRetrieve:
		return "retrieve"
	case DecisionDirect:
		return "direct"
	case DecisionRefine:
		return "refine"
	case DecisionRespond:
		return "respond"
	default:
		return "unknown"
	}
}
