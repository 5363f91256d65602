package rag

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/randalmurphal/ragflow/internal/domain"
	"github.com/randalmurphal/ragflow/pkg/ragflow"
	ferrors "github.com/randalmurphal/ragflow/pkg/ragflow/errors"
)

// Request limits.
const (
	MaxQueryLength        = 1000
	MaxTopK               = 20
	DefaultTopK           = 5
	DefaultScoreThreshold = 0.7
)

// QueryRequest is one question for the RAG service.
// Zero TopK and nil ScoreThreshold or UseAgent take the defaults.
type QueryRequest struct {
	Query          string         `json:"query"`
	Filters        map[string]any `json:"filters,omitempty"`
	TopK           int            `json:"top_k,omitempty"`
	ScoreThreshold *float64       `json:"score_threshold,omitempty"`
	UseAgent       *bool          `json:"use_agent,omitempty"`
}

// normalize validates r and fills in defaults.
func (r QueryRequest) normalize() (QueryRequest, error) {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return r, &ferrors.ValidationError{Field: "query", Message: "must not be empty"}
	}
	if n := utf8.RuneCountInString(r.Query); n > MaxQueryLength {
		return r, &ferrors.ValidationError{
			Field:   "query",
			Message: fmt.Sprintf("must be at most %d characters, got %d", MaxQueryLength, n),
		}
	}

	if r.TopK == 0 {
		r.TopK = DefaultTopK
	}
	if r.TopK < 1 || r.TopK > MaxTopK {
		return r, &ferrors.ValidationError{
			Field:   "top_k",
			Message: fmt.Sprintf("must be 1-%d, got %d", MaxTopK, r.TopK),
		}
	}

	if r.ScoreThreshold == nil {
		t := DefaultScoreThreshold
		r.ScoreThreshold = &t
	}
	if t := *r.ScoreThreshold; t < 0 || t > 1 {
		return r, &ferrors.ValidationError{
			Field:   "score_threshold",
			Message: fmt.Sprintf("must be 0-1, got %v", t),
		}
	}

	if r.UseAgent == nil {
		yes := true
		r.UseAgent = &yes
	}
	return r, nil
}

// QueryResponse is the answer to a QueryRequest.
type QueryResponse struct {
	QueryID          string                 `json:"query_id"`
	Query            string                 `json:"query"`
	Answer           string                 `json:"answer"`
	Sources          []ragflow.SearchResult `json:"sources"`
	Confidence       float64                `json:"confidence"`
	AgentType        domain.AgentType       `json:"agent_type"`
	ProcessingTimeMs float64                `json:"processing_time_ms"`
	Iterations       int                    `json:"iterations"`
	Metadata         map[string]any         `json:"metadata"`
}

// Confidence is the mean score of the three best sources, or 0 without sources.
func Confidence(sources []ragflow.SearchResult) float64 {
	if len(sources) == 0 {
		return 0
	}
	scores := make([]float64, len(sources))
	for i, s := range sources {
		scores[i] = s.Score
	}
	slices.SortFunc(scores, func(a, b float64) int { return cmp.Compare(b, a) })
	top := scores[:min(3, len(scores))]
	var sum float64
	for _, s := range top {
		sum += s
	}
	return sum / float64(len(top))
}
