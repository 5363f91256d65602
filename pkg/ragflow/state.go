package ragflow

import "github.com/randalmurphal/ragflow/pkg/ragflow/llm"

// Metadata keys recorded on WorkflowState.Metadata.
const (
	MetaRouterDecision    = "router_decision"
	MetaEvaluation        = "evaluation"
	MetaForcedTermination = "forced_termination"
	MetaRunID             = "run_id"
)

// SearchResult is one scored fragment returned by a Retriever.
// It is treated as immutable once produced.
type SearchResult struct {
	ChunkID    string         `json:"chunk_id,omitempty"`
	DocumentID string         `json:"document_id,omitempty"`
	Content    string         `json:"content"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// WorkflowState is the per-run record threaded through every stage.
// Each Execute call owns exactly one; it is never shared between runs.
type WorkflowState struct {
	// Messages holds model replies in the order received.
	Messages []llm.Message

	// Query is the original query text, set once at run start.
	Query string

	// SearchResults is replaced wholesale on every retrieval pass.
	SearchResults []SearchResult

	// Answer is empty until the synthesizer sets it.
	Answer string

	// Stage is the last stage executed, or StageDone after synthesis.
	Stage Stage

	// Metadata accumulates stage outputs; keys are only added.
	Metadata map[string]any

	// Iteration counts retrieval passes.
	Iteration int

	// MaxIterations bounds the refinement loop.
	MaxIterations int
}

// NewWorkflowState seeds a fresh state for query.
func NewWorkflowState(query string, maxIterations int) WorkflowState {
	return WorkflowState{
		Query:         query,
		Metadata:      make(map[string]any),
		MaxIterations: maxIterations,
	}
}

// appendMessage records a model reply, keeping at most limit entries
// when limit is positive.
func (s WorkflowState) appendMessage(msg llm.Message, limit int) WorkflowState {
	s.Messages = append(s.Messages, msg)
	if limit > 0 && len(s.Messages) > limit {
		trimmed := make([]llm.Message, limit)
		copy(trimmed, s.Messages[len(s.Messages)-limit:])
		s.Messages = trimmed
	}
	return s
}

// AtIterationLimit reports whether the refinement loop must stop.
func (s WorkflowState) AtIterationLimit() bool {
	return s.Iteration >= s.MaxIterations
}

// Result is the outcome of one Execute call.
type Result struct {
	RunID      string         `json:"run_id"`
	Answer     string         `json:"answer"`
	Sources    []SearchResult `json:"sources"`
	Metadata   map[string]any `json:"metadata"`
	Iterations int            `json:"iterations"`
}

func resultFromState(runID string, s WorkflowState) *Result {
	sources := s.SearchResults
	if sources == nil {
		sources = []SearchResult{}
	}
	return &Result{
		RunID:      runID,
		Answer:     s.Answer,
		Sources:    sources,
		Metadata:   s.Metadata,
		Iterations: s.Iteration,
	}
}
