// Package rag answers questions over the indexed documents.
//
// A query either runs through the multi-stage engine in pkg/ragflow or,
// with UseAgent false, through a single retrieve-then-generate pass.
// Every query is recorded before it is answered.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/randalmurphal/ragflow/internal/domain"
	"github.com/randalmurphal/ragflow/internal/store"
	"github.com/randalmurphal/ragflow/internal/vectordb"
	"github.com/randalmurphal/ragflow/pkg/ragflow"
	"github.com/randalmurphal/ragflow/pkg/ragflow/llm"
)

// DefaultRecentLimit is used by RecentQueries when no limit is given.
const DefaultRecentLimit = 10

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service answers queries against the vector index.
type Service struct {
	queries  store.QueryStore
	vectors  vectordb.Store
	embedder Embedder
	client   llm.Client
	engine   *ragflow.Engine

	defaults    vectordb.SearchOptions
	timeout     time.Duration
	model       string
	temperature float64
	maxTokens   int
	engineOpts  []ragflow.Option
	logger      *slog.Logger
}

// Option configures Service.
type Option func(*Service)

// WithSearchDefaults sets top-k and score threshold for searches that
// carry no per-request values, such as direct engine runs.
func WithSearchDefaults(topK int, threshold float64) Option {
	return func(s *Service) {
		if topK > 0 {
			s.defaults.TopK = topK
		}
		if threshold >= 0 && threshold <= 1 {
			s.defaults.ScoreThreshold = threshold
		}
	}
}

// WithTimeout bounds each agent run. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithGeneration sets the model parameters used for every completion.
func WithGeneration(model string, temperature float64, maxTokens int) Option {
	return func(s *Service) {
		s.model = model
		s.temperature = temperature
		s.maxTokens = maxTokens
	}
}

// WithEngineOptions passes extra options to the agent engine.
func WithEngineOptions(opts ...ragflow.Option) Option {
	return func(s *Service) { s.engineOpts = append(s.engineOpts, opts...) }
}

// WithLogger sets the logger for the service and its engine.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService wires the engine to VectorSearch and returns the service.
func NewService(queries store.QueryStore, vectors vectordb.Store, embedder Embedder, client llm.Client, opts ...Option) (*Service, error) {
	s := &Service{
		queries:  queries,
		vectors:  vectors,
		embedder: embedder,
		client:   client,
		defaults: vectordb.SearchOptions{TopK: DefaultTopK, ScoreThreshold: DefaultScoreThreshold},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	engineOpts := []ragflow.Option{
		ragflow.WithLogger(s.logger),
		ragflow.WithModel(s.model),
		ragflow.WithTemperature(s.temperature),
		ragflow.WithMaxTokens(s.maxTokens),
	}
	engine, err := ragflow.New(client, ragflow.RetrieverFunc(s.VectorSearch), append(engineOpts, s.engineOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	s.engine = engine
	return s, nil
}

// Engine returns the agent engine.
func (s *Service) Engine() *ragflow.Engine {
	return s.engine
}

type searchKey struct{}

// withSearch scopes search options to one engine run.
func withSearch(ctx context.Context, opts vectordb.SearchOptions) context.Context {
	return context.WithValue(ctx, searchKey{}, opts)
}

// VectorSearch is the engine's retriever. It uses the options of the
// surrounding Query call, or the service defaults.
func (s *Service) VectorSearch(ctx context.Context, query string) ([]ragflow.SearchResult, error) {
	opts, ok := ctx.Value(searchKey{}).(vectordb.SearchOptions)
	if !ok {
		opts = s.defaults
	}
	return s.Search(ctx, query, opts)
}

// Search embeds query and returns the matching chunks, best first.
func (s *Service) Search(ctx context.Context, query string, opts vectordb.SearchOptions) ([]ragflow.SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.vectors.Search(ctx, vec, opts)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	results := make([]ragflow.SearchResult, len(hits))
	for i, h := range hits {
		results[i] = ragflow.SearchResult{
			ChunkID:    h.Chunk.ID,
			DocumentID: h.Chunk.DocumentID,
			Content:    h.Chunk.Content,
			Score:      h.Score,
			Metadata:   h.Chunk.Metadata,
		}
	}
	return results, nil
}

// Query validates req, records it, and answers it.
func (s *Service) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()
	req, err := req.normalize()
	if err != nil {
		return nil, err
	}

	q := domain.NewQuery(req.Query, req.Filters, req.TopK, *req.ScoreThreshold)
	if err := s.queries.CreateQuery(ctx, q); err != nil {
		return nil, fmt.Errorf("record query: %w", err)
	}
	logger := s.logger.With("query_id", q.ID)
	logger.Info("processing query", "use_agent", *req.UseAgent, "top_k", req.TopK)

	opts := vectordb.SearchOptions{TopK: req.TopK, ScoreThreshold: *req.ScoreThreshold, Filters: req.Filters}
	var resp *QueryResponse
	if *req.UseAgent {
		resp, err = s.agentAnswer(ctx, q.ID, req.Query, opts)
	} else {
		resp, err = s.simpleAnswer(ctx, req.Query, opts)
	}
	if err != nil {
		logger.Error("query failed", "error", err)
		return nil, err
	}

	resp.QueryID = q.ID
	resp.Query = req.Query
	resp.Confidence = Confidence(resp.Sources)
	resp.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000
	logger.Info("query answered",
		"agent_type", resp.AgentType,
		"sources", len(resp.Sources),
		"iterations", resp.Iterations,
		"duration_ms", resp.ProcessingTimeMs)
	return resp, nil
}

// agentAnswer runs the engine with the query ID as its run ID.
func (s *Service) agentAnswer(ctx context.Context, queryID, query string, opts vectordb.SearchOptions) (*QueryResponse, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	rctx := ragflow.NewContext(withSearch(ctx, opts),
		ragflow.WithContextRunID(queryID),
		ragflow.WithContextLogger(s.logger))
	res, err := s.engine.Execute(rctx, query)
	if err != nil {
		return nil, err
	}
	return &QueryResponse{
		Answer:     res.Answer,
		Sources:    res.Sources,
		AgentType:  domain.AgentRouter,
		Iterations: res.Iterations,
		Metadata:   res.Metadata,
	}, nil
}

func (s *Service) simpleAnswer(ctx context.Context, query string, opts vectordb.SearchOptions) (*QueryResponse, error) {
	results, err := s.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: simplePrompt(query, results)}},
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	return &QueryResponse{
		Answer:    resp.Content,
		Sources:   results,
		AgentType: domain.AgentQuery,
		Metadata:  map[string]any{},
	}, nil
}

func simplePrompt(query string, results []ragflow.SearchResult) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("[Source %d]\n%s", i+1, r.Content)
	}
	return fmt.Sprintf("Context:\n%s\n\nQuery: %s\n\nAnswer:", strings.Join(blocks, "\n\n"), query)
}

// GetQuery returns a recorded query.
func (s *Service) GetQuery(ctx context.Context, id string) (domain.Query, error) {
	return s.queries.GetQuery(ctx, id)
}

// RecentQueries returns up to limit recorded queries, newest first.
func (s *Service) RecentQueries(ctx context.Context, limit int) ([]domain.Query, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return s.queries.RecentQueries(ctx, limit)
}
