package vectordb

import (
	"context"
	"maps"
	"math"
	"reflect"
	"slices"
	"sort"
	"sync"

	"github.com/randalmurphal/ragflow/internal/domain"
	ferrors "github.com/randalmurphal/ragflow/pkg/ragflow/errors"
)

// MemoryStore is a brute-force in-process vector index.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]domain.Chunk
}

// NewMemoryStore creates an empty index.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string]domain.Chunk)}
}

var _ Store = (*MemoryStore)(nil)

// EnsureCollection implements Store.
func (m *MemoryStore) EnsureCollection(context.Context, int) error {
	return nil
}

// Upsert implements Store.
func (m *MemoryStore) Upsert(_ context.Context, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range chunks {
		c.Metadata = maps.Clone(c.Metadata)
		c.Embedding = slices.Clone(c.Embedding)
		m.chunks[c.ID] = c
	}
	return nil
}

// Search implements Store using cosine similarity.
func (m *MemoryStore) Search(_ context.Context, vector []float32, opts SearchOptions) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Hit
	for _, c := range m.chunks {
		if !matches(c, opts.Filters) {
			continue
		}
		score := cosine(vector, c.Embedding)
		if score < opts.ScoreThreshold {
			continue
		}
		c.Embedding = nil
		c.Metadata = maps.Clone(c.Metadata)
		hits = append(hits, Hit{Chunk: c, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	if len(hits) > opts.limit() {
		hits = hits[:opts.limit()]
	}
	return hits, nil
}

// DeleteByDocument implements Store.
func (m *MemoryStore) DeleteByDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, c := range m.chunks {
		if c.DocumentID == documentID {
			delete(m.chunks, id)
		}
	}
	return nil
}

// GetChunk implements Store.
func (m *MemoryStore) GetChunk(_ context.Context, id string) (domain.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.chunks[id]
	if !ok {
		return domain.Chunk{}, &ferrors.NotFoundError{Resource: "chunk", ID: id}
	}
	c.Metadata = maps.Clone(c.Metadata)
	c.Embedding = slices.Clone(c.Embedding)
	return c, nil
}

// Count implements Store.
func (m *MemoryStore) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks), nil
}

func matches(c domain.Chunk, filters map[string]any) bool {
	for k, want := range filters {
		var got any
		if k == "document_id" {
			got = c.DocumentID
		} else {
			got = c.Metadata[k]
		}
		if !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// cosine returns the cosine similarity of a and b, or 0 when either is
// zero-length or the dimensions differ.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
