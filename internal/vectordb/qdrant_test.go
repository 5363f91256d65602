package vectordb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/randalmurphal/ragflow/internal/domain"
	ferrors "github.com/randalmurphal/ragflow/pkg/ragflow/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQdrant records requests by "METHOD path" and replies from handlers.
type fakeQdrant struct {
	mu       sync.Mutex
	requests map[string][]map[string]any
	handlers map[string]func(w http.ResponseWriter, body map[string]any)
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *httptest.Server) {
	f := &fakeQdrant{
		requests: make(map[string][]map[string]any),
		handlers: make(map[string]func(http.ResponseWriter, map[string]any)),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		var body map[string]any
		if r.Body != nil && r.ContentLength != 0 {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		f.mu.Lock()
		f.requests[key] = append(f.requests[key], body)
		h := f.handlers[key]
		f.mu.Unlock()
		if h == nil {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":{"error":"Not found"}}`))
			return
		}
		h(w, body)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeQdrant) on(key string, h func(http.ResponseWriter, map[string]any)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[key] = h
}

func (f *fakeQdrant) calls(key string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[key]
}

func reply(v any) func(http.ResponseWriter, map[string]any) {
	return func(w http.ResponseWriter, _ map[string]any) {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func TestQdrant_EnsureCollection(t *testing.T) {
	f, srv := newFakeQdrant(t)
	f.on("PUT /collections/rag_documents", reply(map[string]any{"result": true}))
	q := NewQdrantStore(srv.URL+"/", "rag_documents", WithQdrantAPIKey("secret"))

	require.NoError(t, q.EnsureCollection(context.Background(), 768))

	created := f.calls("PUT /collections/rag_documents")
	require.Len(t, created, 1)
	vectors := created[0]["vectors"].(map[string]any)
	assert.EqualValues(t, 768, vectors["size"])
	assert.Equal(t, "Cosine", vectors["distance"])
}

func TestQdrant_EnsureCollection_Exists(t *testing.T) {
	f, srv := newFakeQdrant(t)
	f.on("GET /collections/rag_documents", reply(map[string]any{"result": map[string]any{"status": "green"}}))
	q := NewQdrantStore(srv.URL, "rag_documents")

	require.NoError(t, q.EnsureCollection(context.Background(), 768))
	assert.Empty(t, f.calls("PUT /collections/rag_documents"))
}

func TestQdrant_Upsert(t *testing.T) {
	f, srv := newFakeQdrant(t)
	f.on("PUT /collections/c/points", reply(map[string]any{"result": map[string]any{"status": "completed"}}))
	q := NewQdrantStore(srv.URL, "c")

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	err := q.Upsert(context.Background(), []domain.Chunk{{
		ID:         "11111111-1111-1111-1111-111111111111",
		DocumentID: "doc-1",
		Content:    "hello",
		ChunkIndex: 2,
		StartChar:  10,
		EndChar:    15,
		Embedding:  []float32{0.1, 0.2},
		CreatedAt:  created,
	}})
	require.NoError(t, err)

	calls := f.calls("PUT /collections/c/points")
	require.Len(t, calls, 1)
	points := calls[0]["points"].([]any)
	require.Len(t, points, 1)
	point := points[0].(map[string]any)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", point["id"])
	payload := point["payload"].(map[string]any)
	assert.Equal(t, "doc-1", payload["document_id"])
	assert.EqualValues(t, 2, payload["chunk_index"])
	assert.Equal(t, map[string]any{}, payload["metadata"])

	assert.NoError(t, q.Upsert(context.Background(), nil))
	assert.Len(t, f.calls("PUT /collections/c/points"), 1)
}

func TestQdrant_Search_Query(t *testing.T) {
	f, srv := newFakeQdrant(t)
	f.on("POST /collections/c/points/query", reply(map[string]any{
		"result": map[string]any{"points": []map[string]any{
			{"id": "b", "score": 0.8, "payload": map[string]any{"content": "second", "document_id": "d", "chunk_index": 1}},
			{"id": "a", "score": 0.9, "payload": map[string]any{"content": "first", "document_id": "d", "metadata": map[string]any{"lang": "en"}}},
		}},
	}))
	q := NewQdrantStore(srv.URL, "c")

	hits, err := q.Search(context.Background(), []float32{1, 0}, SearchOptions{
		TopK:           3,
		ScoreThreshold: 0.5,
		Filters:        map[string]any{"lang": "en", "document_id": "d"},
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].Chunk.ID)
	assert.Equal(t, 0.9, hits[0].Score)
	assert.Equal(t, "en", hits[0].Chunk.Metadata["lang"])
	assert.Equal(t, 1, hits[1].Chunk.ChunkIndex)

	req := f.calls("POST /collections/c/points/query")[0]
	assert.EqualValues(t, 3, req["limit"])
	assert.Equal(t, 0.5, req["score_threshold"])
	assert.Equal(t, true, req["with_payload"])
	must := req["filter"].(map[string]any)["must"].([]any)
	require.Len(t, must, 2)
	assert.Equal(t, "document_id", must[0].(map[string]any)["key"])
	assert.Equal(t, "metadata.lang", must[1].(map[string]any)["key"])
	assert.Empty(t, f.calls("POST /collections/c/points/search"))
}

func TestQdrant_Search_FallsBackToLegacyEndpoint(t *testing.T) {
	f, srv := newFakeQdrant(t)
	f.on("POST /collections/c/points/search", reply(map[string]any{
		"result": []map[string]any{{"id": 7, "score": 0.75, "payload": map[string]any{"content": "legacy"}}},
	}))
	q := NewQdrantStore(srv.URL, "c")

	hits, err := q.Search(context.Background(), []float32{1}, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "7", hits[0].Chunk.ID)
	assert.Equal(t, "legacy", hits[0].Chunk.Content)

	legacy := f.calls("POST /collections/c/points/search")[0]
	assert.EqualValues(t, DefaultTopK, legacy["limit"])
	assert.NotContains(t, legacy, "score_threshold")
	assert.Contains(t, legacy, "vector")
}

func TestQdrant_Search_BothEndpointsFail(t *testing.T) {
	f, srv := newFakeQdrant(t)
	f.on("POST /collections/c/points/search", func(w http.ResponseWriter, _ map[string]any) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	q := NewQdrantStore(srv.URL, "c")

	_, err := q.Search(context.Background(), []float32{1}, SearchOptions{})
	require.Error(t, err)
	var httpErr *ferrors.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	assert.True(t, ferrors.IsRetryable(err))
}

func TestQdrant_TransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewQdrantStore(url, "c").Count(context.Background())
	require.Error(t, err)
	assert.True(t, ferrors.IsRetryable(err))
}

func TestQdrant_DeleteByDocument(t *testing.T) {
	f, srv := newFakeQdrant(t)
	f.on("POST /collections/c/points/delete", reply(map[string]any{"result": map[string]any{}}))
	q := NewQdrantStore(srv.URL, "c")

	require.NoError(t, q.DeleteByDocument(context.Background(), "doc-9"))

	req := f.calls("POST /collections/c/points/delete")[0]
	must := req["filter"].(map[string]any)["must"].([]any)
	clause := must[0].(map[string]any)
	assert.Equal(t, "document_id", clause["key"])
	assert.Equal(t, map[string]any{"value": "doc-9"}, clause["match"])
}

func TestQdrant_GetChunk(t *testing.T) {
	f, srv := newFakeQdrant(t)
	f.on("GET /collections/c/points/p1", reply(map[string]any{
		"result": map[string]any{
			"id":      "p1",
			"vector":  []float32{0.5, 0.25},
			"payload": map[string]any{"content": "stored", "end_char": 6},
		},
	}))
	q := NewQdrantStore(srv.URL, "c")

	chunk, err := q.GetChunk(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "stored", chunk.Content)
	assert.Equal(t, 6, chunk.EndChar)
	assert.Equal(t, []float32{0.5, 0.25}, chunk.Embedding)

	_, err = q.GetChunk(context.Background(), "missing")
	assert.True(t, ferrors.IsNotFound(err))
}

func TestQdrant_Count(t *testing.T) {
	f, srv := newFakeQdrant(t)
	f.on("POST /collections/c/points/count", reply(map[string]any{"result": map[string]any{"count": 42}}))
	q := NewQdrantStore(srv.URL, "c")

	n, err := q.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.Equal(t, true, f.calls("POST /collections/c/points/count")[0]["exact"])
}
