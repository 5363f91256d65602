package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/randalmurphal/ragflow/internal/config"
	"github.com/randalmurphal/ragflow/internal/embeddings"
	"github.com/randalmurphal/ragflow/internal/indexing"
	"github.com/randalmurphal/ragflow/internal/mcp"
	"github.com/randalmurphal/ragflow/internal/rag"
	"github.com/randalmurphal/ragflow/internal/store"
	"github.com/randalmurphal/ragflow/internal/vectordb"
	"github.com/randalmurphal/ragflow/pkg/ragflow"
	"github.com/randalmurphal/ragflow/pkg/ragflow/llm"
)

// app holds the services built from Settings.
type app struct {
	settings   *config.Settings
	logger     *slog.Logger
	records    store.Store
	vectors    vectordb.Store
	embeddings *embeddings.Service
	indexing   *indexing.Service
	rag        *rag.Service
	context    *mcp.Provider
	closers    []io.Closer
}

// newApp wires the configured backends. Close releases them.
func newApp(ctx context.Context, s *config.Settings, logger *slog.Logger) (_ *app, err error) {
	a := &app{settings: s, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.records, err = openRecords(s.Store); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.records)

	if a.vectors, err = a.openVectors(ctx); err != nil {
		return nil, err
	}

	if a.embeddings, err = a.openEmbeddings(ctx); err != nil {
		return nil, err
	}

	client, err := newLLMClient(s.LLM)
	if err != nil {
		return nil, err
	}

	policy, err := ragflow.ParseDecisionPolicy(s.Agent.DecisionPolicy)
	if err != nil {
		return nil, err
	}

	a.rag, err = rag.NewService(a.records, a.vectors, a.embeddings, client,
		rag.WithSearchDefaults(s.RAG.TopK, s.RAG.ScoreThreshold),
		rag.WithTimeout(s.Agent.Timeout),
		rag.WithGeneration("", s.LLM.Temperature, s.LLM.MaxTokens),
		rag.WithEngineOptions(
			ragflow.WithMaxIterations(s.Agent.MaxIterations),
			ragflow.WithDecisionPolicy(policy),
			ragflow.WithMessageLogLimit(s.Agent.MessageLogLimit),
			ragflow.WithMetrics(s.Agent.Metrics),
			ragflow.WithTracing(s.Agent.Tracing),
		),
		rag.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("build rag service: %w", err)
	}

	a.indexing = indexing.NewService(a.records, a.records, a.vectors, a.embeddings,
		indexing.WithChunking(s.Documents.ChunkSize, s.Documents.ChunkOverlap),
		indexing.WithExtractor(indexing.Extractor{
			Formats: s.Documents.SupportedFormats,
			MaxSize: s.Documents.MaxFileSize,
		}),
		indexing.WithUploadDir(s.Documents.UploadDir),
		indexing.WithConcurrency(s.Documents.IndexConcurrency),
		indexing.WithLogger(logger),
	)

	a.context = mcp.NewProvider(s.MCP.Enabled, logger)
	return a, nil
}

func openRecords(s config.StoreSettings) (store.Store, error) {
	switch s.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		st, err := store.NewSQLiteStore(s.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store %s: %w", s.Path, err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", s.Driver)
	}
}

func (a *app) openVectors(ctx context.Context) (vectordb.Store, error) {
	s := a.settings
	switch s.Vector.Backend {
	case "memory":
		return vectordb.NewMemoryStore(), nil
	case "qdrant":
		var opts []vectordb.QdrantOption
		if s.Qdrant.APIKey != "" {
			opts = append(opts, vectordb.WithQdrantAPIKey(s.Qdrant.APIKey))
		}
		return vectordb.NewQdrantStore(s.Qdrant.URL(), s.Qdrant.Collection, opts...), nil
	case "postgres":
		pg, err := vectordb.OpenPGStore(ctx, s.Postgres.URL, s.Postgres.Table)
		if err != nil {
			return nil, fmt.Errorf("open pgvector store: %w", err)
		}
		a.closers = append(a.closers, pg)
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", s.Vector.Backend)
	}
}

func (a *app) openEmbeddings(ctx context.Context) (*embeddings.Service, error) {
	s := a.settings
	var provider embeddings.Provider
	switch s.Embedding.Provider {
	case "openai":
		provider = embeddings.NewOpenAIProvider(s.LLM.OpenAIBaseURL, s.LLM.OpenAIAPIKey, s.Embedding.Model, s.LLM.Timeout)
	case "ollama":
		provider = embeddings.NewOllamaProvider(s.LLM.OllamaBaseURL, s.Embedding.Model, s.LLM.Timeout)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", s.Embedding.Provider)
	}

	opts := []embeddings.Option{
		embeddings.WithBatchSize(s.Embedding.BatchSize),
		embeddings.WithDimension(s.Embedding.Dimension),
		embeddings.WithLogger(a.logger),
	}
	if s.Embedding.LocalCacheSize > 0 {
		opts = append(opts, embeddings.WithLRUSize(s.Embedding.LocalCacheSize))
	}
	if s.Redis.URL != "" {
		cache, err := embeddings.NewRedisCache(ctx, s.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("connect embedding cache: %w", err)
		}
		a.closers = append(a.closers, cache)
		opts = append(opts,
			embeddings.WithCache(cache),
			embeddings.WithCacheTTL(time.Duration(s.Redis.CacheTTL)*time.Second))
	}
	return embeddings.NewService(provider, opts...), nil
}

func newLLMClient(s config.LLMSettings) (llm.Client, error) {
	hc := &http.Client{Timeout: s.Timeout}
	switch s.Provider {
	case "ollama":
		return llm.NewOllamaClient(
			llm.WithOllamaBaseURL(s.OllamaBaseURL),
			llm.WithOllamaModel(s.OllamaModel),
			llm.WithOllamaHTTPClient(hc),
		), nil
	case "openai":
		if s.OpenAIAPIKey == "" {
			return nil, errors.New("llm.openai_api_key is required for the openai provider")
		}
		return llm.NewOpenAIClient(s.OpenAIAPIKey,
			llm.WithOpenAIBaseURL(s.OpenAIBaseURL),
			llm.WithOpenAIModel(s.OpenAIModel),
			llm.WithOpenAIHTTPClient(hc),
		), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", s.Provider)
	}
}

// ensureCollection prepares the vector index for the configured dimension.
func (a *app) ensureCollection(ctx context.Context) error {
	size := a.settings.Qdrant.VectorSize
	if a.settings.Vector.Backend != "qdrant" {
		size = a.settings.Embedding.Dimension
	}
	return a.indexing.EnsureCollection(ctx, size)
}

// Close releases every opened backend in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
