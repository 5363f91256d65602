package ragflow

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/randalmurphal/ragflow/pkg/ragflow/llm"
)

// script holds the canned reply for each stage prompt.
type script struct {
	route      string
	evaluation string
	answer     string
}

// scriptedLLM answers each stage by matching its system prompt, so replies
// do not depend on call order.
func scriptedLLM(s script) *llm.MockClient {
	return llm.NewMockClient("").WithCompleteFunc(func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var content string
		switch req.SystemPrompt {
		case routerSystemPrompt:
			content = s.route
		case evaluatorSystemPrompt:
			content = s.evaluation
		case synthesizerSystemPrompt:
			content = s.answer
		default:
			return nil, fmt.Errorf("unexpected system prompt %q", req.SystemPrompt)
		}
		return &llm.CompletionResponse{Content: content, Model: "mock"}, nil
	})
}

// callsFor returns the requests sent with the given system prompt.
func callsFor(m *llm.MockClient, system string) []llm.CompletionRequest {
	var out []llm.CompletionRequest
	for _, c := range m.Calls {
		if c.SystemPrompt == system {
			out = append(out, c)
		}
	}
	return out
}

// fakeRetriever returns fixed results and records every query.
type fakeRetriever struct {
	mu      sync.Mutex
	results []SearchResult
	err     error
	queries []string
}

func (r *fakeRetriever) Search(ctx context.Context, query string) ([]SearchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, query)
	if r.err != nil {
		return nil, r.err
	}
	out := make([]SearchResult, len(r.results))
	copy(out, r.results)
	return out, nil
}

func (r *fakeRetriever) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries)
}

// makeResults builds n results with descending scores.
func makeResults(n int) []SearchResult {
	out := make([]SearchResult, n)
	for i := range out {
		out[i] = SearchResult{
			ChunkID:    fmt.Sprintf("chunk-%d", i+1),
			DocumentID: "doc-1",
			Content:    fmt.Sprintf("fragment number %d", i+1),
			Score:      0.99 - float64(i)*0.01,
		}
	}
	return out
}

func newTestEngine(t testing.TB, client llm.Client, r Retriever, opts ...Option) *Engine {
	t.Helper()
	e, err := New(client, r, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

var bothPolicies = []DecisionPolicy{PolicyStructured, PolicyLenient}
