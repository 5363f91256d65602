// Package embeddings generates text embeddings with a two-level cache.
//
// Lookups go to an in-process LRU first, then to an optional shared cache
// (Redis), and only then to the provider. Uncached texts are sent to the
// provider in batches.
package embeddings

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	ferrors "github.com/randalmurphal/ragflow/pkg/ragflow/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const lruTTL = 30 * time.Minute

// Service embeds text through a Provider with caching.
type Service struct {
	provider  Provider
	lru       *LocalLRU
	cache     Cache
	cacheTTL  time.Duration
	batchSize int
	dimension int
	logger    *slog.Logger
}

// Option configures Service.
type Option func(*Service)

// WithCache adds a shared cache behind the LRU.
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithCacheTTL sets the shared cache TTL. Defaults to one hour.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithLRUSize sets the in-process cache capacity.
func WithLRUSize(n int) Option {
	return func(s *Service) { s.lru = NewLocalLRU(n) }
}

// WithBatchSize caps texts per provider call. Defaults to 32.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithDimension rejects provider vectors of any other length.
func WithDimension(n int) Option {
	return func(s *Service) { s.dimension = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates an embedding service.
func NewService(p Provider, opts ...Option) *Service {
	s := &Service{
		provider:  p,
		lru:       NewLocalLRU(2048),
		cacheTTL:  time.Hour,
		batchSize: 32,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Model returns the provider's model name.
func (s *Service) Model() string {
	return s.provider.Model()
}

// Embed returns the vector for a single text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per text, in input order.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	model := s.provider.Model()

	results := make([][]float32, len(texts))
	var missing []int
	hits := 0
	for i, text := range texts {
		key := MakeKey(model, text)
		if v, ok := s.lru.Get(ctx, key); ok {
			results[i] = v
			hits++
			continue
		}
		if s.cache != nil {
			if v, ok := s.cache.Get(ctx, key); ok {
				s.lru.Set(ctx, key, v, lruTTL)
				results[i] = v
				hits++
				continue
			}
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return results, nil
	}

	ctx, span := otel.Tracer("github.com/randalmurphal/ragflow/internal/embeddings").
		Start(ctx, "embeddings.batch")
	defer span.End()
	span.SetAttributes(
		attribute.String("embeddings.model", model),
		attribute.Int("embeddings.texts", len(texts)),
		attribute.Int("embeddings.cache_hits", hits),
	)

	start := time.Now()
	for lo := 0; lo < len(missing); lo += s.batchSize {
		hi := min(lo+s.batchSize, len(missing))
		batch := make([]string, 0, hi-lo)
		for _, idx := range missing[lo:hi] {
			batch = append(batch, texts[idx])
		}

		vecs, err := s.provider.Embed(ctx, batch)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("embed batch: %w", err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("provider returned %d embeddings for %d texts", len(vecs), len(batch))
		}

		for j, v := range vecs {
			if s.dimension > 0 && len(v) != s.dimension {
				return nil, &ferrors.ValidationError{
					Field:   "embedding",
					Message: fmt.Sprintf("got dimension %d, want %d", len(v), s.dimension),
				}
			}
			idx := missing[lo+j]
			results[idx] = v
			key := MakeKey(model, texts[idx])
			s.lru.Set(ctx, key, v, lruTTL)
			if s.cache != nil {
				s.cache.Set(ctx, key, v, s.cacheTTL)
			}
		}
	}

	s.logger.Debug("embedded texts",
		"model", model,
		"texts", len(texts),
		"cache_hits", hits,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}
