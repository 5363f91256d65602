// Package mcp assembles retrieved documents into model context and exposes
// the RAG service over the Model Context Protocol.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/randalmurphal/ragflow/pkg/ragflow"
)

// DefaultMaxTokens is the context budget when none is given.
const DefaultMaxTokens = 4000

// Document is one retrieved fragment offered as context.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// Context is the documents selected for a query within a token budget.
type Context struct {
	Query     string         `json:"query"`
	Documents []Document     `json:"context_documents"`
	Metadata  map[string]any `json:"metadata"`
	MaxTokens int            `json:"max_tokens"`
}

// ContextResult is a formatted context ready to send to a model.
type ContextResult struct {
	Context    string   `json:"context"`
	TokensUsed int      `json:"tokens_used"`
	Sources    []string `json:"sources"`
}

// EstimateTokens approximates the token count of s at four bytes per token.
func EstimateTokens(s string) int {
	return len(s) / 4
}

// DocumentsFromResults converts search results, keyed by chunk ID.
func DocumentsFromResults(results []ragflow.SearchResult) []Document {
	docs := make([]Document, len(results))
	for i, r := range results {
		meta := r.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		docs[i] = Document{ID: r.ChunkID, Content: r.Content, Score: r.Score, Metadata: meta}
	}
	return docs
}

// Provider builds model context from retrieved documents.
type Provider struct {
	enabled bool
	logger  *slog.Logger
}

// NewProvider creates a provider. A disabled provider returns empty contexts.
func NewProvider(enabled bool, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mcp provider initialized", "enabled", enabled)
	return &Provider{enabled: enabled, logger: logger}
}

// Enabled reports whether the provider assembles context.
func (p *Provider) Enabled() bool {
	return p.enabled
}

// GetContext takes documents in order until the next one would exceed
// maxTokens. The first document that does not fit ends the selection.
func (p *Provider) GetContext(query string, docs []Document, maxTokens int) Context {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if !p.enabled {
		p.logger.Warn("mcp provider is disabled")
		return Context{
			Query:     query,
			Documents: []Document{},
			Metadata:  map[string]any{"enabled": false},
			MaxTokens: maxTokens,
		}
	}

	selected := []Document{}
	used := 0
	for _, d := range docs {
		n := EstimateTokens(d.Content)
		if used+n > maxTokens {
			break
		}
		if d.Metadata == nil {
			d.Metadata = map[string]any{}
		}
		selected = append(selected, d)
		used += n
	}

	p.logger.Info("generated mcp context", "documents", len(selected), "estimated_tokens", used)
	return Context{
		Query:     query,
		Documents: selected,
		Metadata: map[string]any{
			"total_documents":    len(docs),
			"included_documents": len(selected),
			"estimated_tokens":   used,
		},
		MaxTokens: maxTokens,
	}
}

// Retrieve searches with r and formats the selected documents.
// A disabled provider skips the search.
func (p *Provider) Retrieve(ctx context.Context, r ragflow.Retriever, query string, maxTokens int) (ContextResult, error) {
	var docs []Document
	if p.enabled {
		results, err := r.Search(ctx, query)
		if err != nil {
			return ContextResult{}, fmt.Errorf("retrieve context: %w", err)
		}
		docs = DocumentsFromResults(results)
	}

	c := p.GetContext(query, docs, maxTokens)
	sources := make([]string, len(c.Documents))
	used := 0
	for i, d := range c.Documents {
		sources[i] = d.ID
		used += EstimateTokens(d.Content)
	}
	return ContextResult{Context: FormatForLLM(c), TokensUsed: used, Sources: sources}, nil
}

// FormatForLLM renders c as plain text with a relevance line per document.
func FormatForLLM(c Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\n", c.Query)
	b.WriteString("Context Documents:\n\n")
	for i, d := range c.Documents {
		fmt.Fprintf(&b, "[Document %d] (Relevance: %.2f)\n", i+1, d.Score)
		b.WriteString(d.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}
