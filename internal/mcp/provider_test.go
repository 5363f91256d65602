package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/randalmurphal/ragflow/internal/logging"
	"github.com/randalmurphal/ragflow/pkg/ragflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docOfTokens(id string, tokens int, score float64) Document {
	return Document{ID: id, Content: strings.Repeat("abcd", tokens), Score: score}
}

func TestGetContext_Budget(t *testing.T) {
	p := NewProvider(true, logging.NewNop())
	docs := []Document{
		docOfTokens("a", 40, 0.9),
		docOfTokens("b", 50, 0.8),
		docOfTokens("c", 20, 0.7),
		docOfTokens("d", 5, 0.6),
	}

	c := p.GetContext("q", docs, 100)

	require.Len(t, c.Documents, 2)
	assert.Equal(t, "a", c.Documents[0].ID)
	assert.Equal(t, "b", c.Documents[1].ID)
	assert.NotNil(t, c.Documents[0].Metadata)
	assert.Equal(t, 100, c.MaxTokens)
	assert.Equal(t, map[string]any{
		"total_documents":    4,
		"included_documents": 2,
		"estimated_tokens":   90,
	}, c.Metadata)
}

func TestGetContext_ExactFit(t *testing.T) {
	p := NewProvider(true, logging.NewNop())
	c := p.GetContext("q", []Document{docOfTokens("a", 60, 1), docOfTokens("b", 40, 1)}, 100)
	assert.Len(t, c.Documents, 2)
}

func TestGetContext_DefaultBudget(t *testing.T) {
	p := NewProvider(true, logging.NewNop())
	c := p.GetContext("q", []Document{docOfTokens("a", DefaultMaxTokens+1, 1)}, 0)
	assert.Equal(t, DefaultMaxTokens, c.MaxTokens)
	assert.Empty(t, c.Documents)
	assert.NotNil(t, c.Documents)
}

func TestGetContext_Disabled(t *testing.T) {
	p := NewProvider(false, logging.NewNop())
	assert.False(t, p.Enabled())

	c := p.GetContext("q", []Document{docOfTokens("a", 1, 1)}, 100)
	assert.Empty(t, c.Documents)
	assert.Equal(t, map[string]any{"enabled": false}, c.Metadata)
}

func TestFormatForLLM(t *testing.T) {
	c := Context{
		Query: "What is X?",
		Documents: []Document{
			{ID: "a", Content: "X is a letter.", Score: 0.912},
			{ID: "b", Content: "X follows W.", Score: 0.5},
		},
	}
	want := "Query: What is X?\n\n" +
		"Context Documents:\n\n" +
		"[Document 1] (Relevance: 0.91)\nX is a letter.\n\n" +
		"[Document 2] (Relevance: 0.50)\nX follows W.\n\n"
	assert.Equal(t, want, FormatForLLM(c))
}

func TestRetrieve(t *testing.T) {
	calls := 0
	retriever := ragflow.RetrieverFunc(func(_ context.Context, query string) ([]ragflow.SearchResult, error) {
		calls++
		assert.Equal(t, "vpn", query)
		return []ragflow.SearchResult{
			{ChunkID: "c1", Content: strings.Repeat("x", 40), Score: 0.9},
			{ChunkID: "c2", Content: strings.Repeat("y", 80), Score: 0.8},
		}, nil
	})

	res, err := NewProvider(true, logging.NewNop()).Retrieve(context.Background(), retriever, "vpn", 15)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"c1"}, res.Sources)
	assert.Equal(t, 10, res.TokensUsed)
	assert.Contains(t, res.Context, "[Document 1] (Relevance: 0.90)")
	assert.NotContains(t, res.Context, "[Document 2]")

	res, err = NewProvider(false, logging.NewNop()).Retrieve(context.Background(), retriever, "vpn", 15)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "disabled provider does not search")
	assert.Empty(t, res.Sources)
	assert.Zero(t, res.TokensUsed)
}

func TestRetrieve_Error(t *testing.T) {
	retriever := ragflow.RetrieverFunc(func(context.Context, string) ([]ragflow.SearchResult, error) {
		return nil, errors.New("index offline")
	})
	_, err := NewProvider(true, logging.NewNop()).Retrieve(context.Background(), retriever, "vpn", 0)
	assert.ErrorContains(t, err, "index offline")
}

func TestDocumentsFromResults(t *testing.T) {
	docs := DocumentsFromResults([]ragflow.SearchResult{
		{ChunkID: "c1", DocumentID: "d1", Content: "text", Score: 0.5, Metadata: map[string]any{"k": "v"}},
		{ChunkID: "c2"},
	})
	require.Len(t, docs, 2)
	assert.Equal(t, Document{ID: "c1", Content: "text", Score: 0.5, Metadata: map[string]any{"k": "v"}}, docs[0])
	assert.NotNil(t, docs[1].Metadata)
}
