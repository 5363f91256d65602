// Package vectordb stores chunk embeddings and answers similarity searches.
//
// Two backends are provided: QdrantStore talks to a Qdrant server over its
// REST API, and PGStore keeps vectors in a Postgres table using the pgvector
// extension. Both report cosine similarity as the hit score, higher is closer.
package vectordb

import (
	"context"

	"github.com/randalmurphal/ragflow/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Store is a vector index over document chunks.
// Implementations must be safe for concurrent use.
type Store interface {
	// EnsureCollection creates the backing collection or table if missing.
	EnsureCollection(ctx context.Context, vectorSize int) error

	// Upsert writes chunks with their embeddings, replacing existing IDs.
	Upsert(ctx context.Context, chunks []domain.Chunk) error

	// Search returns the closest chunks, best first.
	Search(ctx context.Context, vector []float32, opts SearchOptions) ([]Hit, error)

	// DeleteByDocument removes every chunk belonging to documentID.
	DeleteByDocument(ctx context.Context, documentID string) error

	// GetChunk returns a *NotFoundError if the chunk doesn't exist.
	GetChunk(ctx context.Context, id string) (domain.Chunk, error)

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)
}

// SearchOptions bounds a similarity search.
type SearchOptions struct {
	TopK int
	// ScoreThreshold drops hits scoring below it. Zero disables the cut.
	ScoreThreshold float64
	// Filters restricts hits to chunks whose metadata equals every entry.
	Filters map[string]any
}

// DefaultTopK applies when SearchOptions.TopK is not positive.
const DefaultTopK = 5

func (o SearchOptions) limit() int {
	if o.TopK <= 0 {
		return DefaultTopK
	}
	return o.TopK
}

// Hit is a scored search result. Chunk.Embedding is not populated.
type Hit struct {
	Chunk domain.Chunk
	Score float64
}

func tracer() trace.Tracer {
	return otel.Tracer("github.com/randalmurphal/ragflow/internal/vectordb")
}

func startSpan(ctx context.Context, backend, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("vectordb.backend", backend))
	return tracer().Start(ctx, "vectordb."+op, trace.WithAttributes(attrs...))
}
