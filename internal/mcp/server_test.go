package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/randalmurphal/ragflow/internal/domain"
	"github.com/randalmurphal/ragflow/internal/logging"
	"github.com/randalmurphal/ragflow/internal/rag"
	"github.com/randalmurphal/ragflow/pkg/ragflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnswerer struct {
	got  rag.QueryRequest
	resp *rag.QueryResponse
	err  error
}

func (f *fakeAnswerer) Query(_ context.Context, req rag.QueryRequest) (*rag.QueryResponse, error) {
	f.got = req
	return f.resp, f.err
}

var staticRetriever = ragflow.RetrieverFunc(func(context.Context, string) ([]ragflow.SearchResult, error) {
	return []ragflow.SearchResult{{ChunkID: "c1", Content: "VPN needs a token.", Score: 0.8}}, nil
})

func newTestServer(a Answerer) *Server {
	logger := logging.NewNop()
	return NewServer(a, staticRetriever, NewProvider(true, logger), "1.2.3", logger)
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func TestHandleQuery(t *testing.T) {
	a := &fakeAnswerer{resp: &rag.QueryResponse{QueryID: "q1", Answer: "Use a token.", AgentType: domain.AgentRouter}}
	s := newTestServer(a)

	threshold := 0.5
	no := false
	resp, err := s.handleQuery(context.Background(), mcp.CallToolRequest{}, queryArgs{
		Query: "vpn", TopK: 3, ScoreThreshold: &threshold, UseAgent: &no,
	})
	require.NoError(t, err)
	assert.Equal(t, "Use a token.", resp.Answer)
	assert.Equal(t, "vpn", a.got.Query)
	assert.Equal(t, 3, a.got.TopK)
	assert.Equal(t, 0.5, *a.got.ScoreThreshold)
	assert.False(t, *a.got.UseAgent)
}

func TestQueryTool_BindsArguments(t *testing.T) {
	a := &fakeAnswerer{resp: &rag.QueryResponse{Answer: "ok"}}
	s := newTestServer(a)

	handler := mcp.NewStructuredToolHandler(s.handleQuery)
	res, err := handler(context.Background(), callRequest("rag_query", map[string]any{
		"query": "vpn",
		"top_k": 4.0,
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, 4, a.got.TopK)
	assert.Nil(t, a.got.UseAgent)
}

func TestQueryTool_ErrorResult(t *testing.T) {
	s := newTestServer(&fakeAnswerer{err: errors.New("llm unavailable")})

	handler := mcp.NewStructuredToolHandler(s.handleQuery)
	res, err := handler(context.Background(), callRequest("rag_query", map[string]any{"query": "vpn"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleContext(t *testing.T) {
	s := newTestServer(&fakeAnswerer{})

	res, err := s.handleContext(context.Background(), mcp.CallToolRequest{}, contextArgs{Query: "vpn", MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, res.Sources)
	assert.Contains(t, res.Context, "Query: vpn")
	assert.Contains(t, res.Context, "VPN needs a token.")

	_, err = s.handleContext(context.Background(), mcp.CallToolRequest{}, contextArgs{Query: "  "})
	assert.Error(t, err)
}
