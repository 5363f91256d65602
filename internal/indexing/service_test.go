package indexing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randalmurphal/ragflow/internal/domain"
	"github.com/randalmurphal/ragflow/internal/logging"
	"github.com/randalmurphal/ragflow/internal/store"
	"github.com/randalmurphal/ragflow/internal/vectordb"
	ferrors "github.com/randalmurphal/ragflow/pkg/ragflow/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder returns {len(text), 1} and fails the first failures calls.
type fakeEmbedder struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

// failingVectors rejects upserts.
type failingVectors struct {
	*vectordb.MemoryStore
	err error
}

func (f failingVectors) Upsert(context.Context, []domain.Chunk) error { return f.err }

type fixture struct {
	svc     *Service
	records *store.MemoryStore
	vectors *vectordb.MemoryStore
	embed   *fakeEmbedder
	dir     string
}

func fastRetry() ferrors.RetryConfig {
	return ferrors.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, BackoffFactor: 1}
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		records: store.NewMemoryStore(),
		vectors: vectordb.NewMemoryStore(),
		embed:   &fakeEmbedder{},
		dir:     t.TempDir(),
	}
	base := []Option{
		WithChunking(100, 20),
		WithUploadDir(filepath.Join(f.dir, "uploads")),
		WithRetry(fastRetry()),
		WithLogger(logging.NewNop()),
	}
	f.svc = NewService(f.records, f.records, f.vectors, f.embed, append(base, opts...)...)
	return f
}

func (f *fixture) document(t *testing.T, name, content string) domain.Document {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	doc, err := f.svc.CreateDocument(context.Background(), name, path, "text/plain", int64(len(content)), map[string]any{"team": "docs"})
	require.NoError(t, err)
	return doc
}

func TestProcessDocument_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.document(t, "guide.txt", strings.Repeat("Indexing splits text into overlapping chunks. ", 10))
	assert.Equal(t, domain.StatusPending, doc.Status)

	job, err := f.svc.ProcessDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, []string{doc.ID}, job.DocumentIDs)
	assert.Greater(t, job.TotalChunks, 1)
	assert.Equal(t, job.TotalChunks, job.ProcessedChunks)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)

	stored, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)

	got, err := f.svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.NotNil(t, got.ProcessedAt)
	assert.Equal(t, job.TotalChunks, got.Metadata["chunk_count"])

	n, err := f.vectors.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.TotalChunks, n)

	hits, err := f.vectors.Search(ctx, []float32{1, 0}, vectordb.SearchOptions{TopK: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, doc.ID, hits[0].Chunk.DocumentID)
	assert.Equal(t, "docs", hits[0].Chunk.Metadata["team"])
	assert.Equal(t, "guide.txt", hits[0].Chunk.Metadata["filename"])
}

func TestProcessDocument_ReindexReplacesChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.document(t, "a.txt", strings.Repeat("word ", 100))

	first, err := f.svc.ProcessDocument(ctx, doc.ID)
	require.NoError(t, err)
	_, err = f.svc.ProcessDocument(ctx, doc.ID)
	require.NoError(t, err)

	n, err := f.vectors.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.TotalChunks, n)
}

func TestProcessDocument_RetriesTransientEmbeddingErrors(t *testing.T) {
	f := newFixture(t)
	f.embed.failures = 2
	f.embed.err = &ferrors.HTTPError{StatusCode: 429, Message: "slow down"}
	doc := f.document(t, "a.txt", "short text")

	job, err := f.svc.ProcessDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, 3, f.embed.calls)
}

func TestProcessDocument_PermanentEmbeddingErrorFails(t *testing.T) {
	f := newFixture(t)
	f.embed.failures = 10
	f.embed.err = &ferrors.HTTPError{StatusCode: 401, Message: "bad key"}
	doc := f.document(t, "a.txt", "short text")
	ctx := context.Background()

	job, err := f.svc.ProcessDocument(ctx, doc.ID)
	require.Error(t, err)
	assert.Equal(t, 1, f.embed.calls)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "bad key")

	stored, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)

	got, err := f.svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "bad key")
}

func TestProcessDocument_UpsertFailure(t *testing.T) {
	records := store.NewMemoryStore()
	vectors := failingVectors{MemoryStore: vectordb.NewMemoryStore(), err: errors.New("disk full")}
	svc := NewService(records, records, vectors, &fakeEmbedder{}, WithRetry(ferrors.NoRetry), WithLogger(logging.NewNop()))

	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o600))
	doc, err := svc.CreateDocument(context.Background(), "a.txt", path, "text/plain", 7, nil)
	require.NoError(t, err)

	job, err := svc.ProcessDocument(context.Background(), doc.ID)
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, domain.StatusFailed, job.Status)
}

func TestProcessDocument_ExtractionFailure(t *testing.T) {
	f := newFixture(t)
	doc, err := f.svc.CreateDocument(context.Background(), "gone.txt", filepath.Join(f.dir, "gone.txt"), "text/plain", 0, nil)
	require.NoError(t, err)

	job, err := f.svc.ProcessDocument(context.Background(), doc.ID)
	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Zero(t, f.embed.calls)
}

func TestProcessDocument_EmptyDocumentCompletes(t *testing.T) {
	f := newFixture(t)
	doc := f.document(t, "empty.txt", "   \n\n ")

	job, err := f.svc.ProcessDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Zero(t, job.TotalChunks)
	assert.Zero(t, f.embed.calls)
}

func TestProcessDocument_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ProcessDocument(context.Background(), "missing")
	assert.True(t, store.IsNotFound(err))

	n, err := f.records.CountDocuments(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIndexDocuments_Concurrent(t *testing.T) {
	f := newFixture(t, WithConcurrency(2))
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt"} {
		ids = append(ids, f.document(t, name, "document "+name).ID)
	}
	ids = append(ids, "missing")

	jobs, err := f.svc.IndexDocuments(ctx, ids)
	require.Error(t, err)
	assert.ErrorContains(t, err, "document missing")
	require.Len(t, jobs, 5)
	for i := range 4 {
		assert.Equal(t, domain.StatusCompleted, jobs[i].Status, ids[i])
		assert.Equal(t, []string{ids[i]}, jobs[i].DocumentIDs)
	}
	assert.Empty(t, jobs[4].ID)

	n, err := f.records.CountDocuments(ctx, domain.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestIndexDocuments_RespectsLimit(t *testing.T) {
	var inflight, peak atomic.Int32
	records := store.NewMemoryStore()
	embedder := embedFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		cur := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = []float32{1}
		}
		return out, nil
	})
	svc := NewService(records, records, vectordb.NewMemoryStore(), embedder,
		WithConcurrency(2), WithLogger(logging.NewNop()))

	dir := t.TempDir()
	var ids []string
	for i := range 6 {
		path := filepath.Join(dir, string(rune('a'+i))+".txt")
		require.NoError(t, os.WriteFile(path, []byte("text"), 0o600))
		doc, err := svc.CreateDocument(context.Background(), filepath.Base(path), path, "text/plain", 4, nil)
		require.NoError(t, err)
		ids = append(ids, doc.ID)
	}

	_, err := svc.IndexDocuments(context.Background(), ids)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

type embedFunc func(ctx context.Context, texts []string) ([][]float32, error)

func (f embedFunc) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}

func TestIndexDocuments_Empty(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.IndexDocuments(context.Background(), nil)
	var valErr *ferrors.ValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestSaveUpload(t *testing.T) {
	f := newFixture(t, WithExtractor(Extractor{Formats: []string{"txt"}, MaxSize: 16}))
	ctx := context.Background()

	doc, err := f.svc.SaveUpload(ctx, "../../etc/notes.txt", "", strings.NewReader("hello upload"))
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", doc.Filename)
	assert.Equal(t, int64(12), doc.SizeBytes)
	assert.Equal(t, "application/octet-stream", doc.ContentType)
	assert.Equal(t, filepath.Join(f.dir, "uploads"), filepath.Dir(doc.FilePath))
	data, err := os.ReadFile(doc.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "hello upload", string(data))

	_, err = f.svc.SaveUpload(ctx, "image.png", "image/png", strings.NewReader("x"))
	var valErr *ferrors.ValidationError
	require.ErrorAs(t, err, &valErr)

	_, err = f.svc.SaveUpload(ctx, "big.txt", "text/plain", strings.NewReader(strings.Repeat("x", 17)))
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Message, "exceeds limit")

	entries, err := os.ReadDir(filepath.Join(f.dir, "uploads"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "oversized upload is removed")
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.document(t, "a.txt", "some content to index")
	_, err := f.svc.ProcessDocument(ctx, doc.ID)
	require.NoError(t, err)

	deleted, err := f.svc.DeleteDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	n, err := f.vectors.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	deleted, err = f.svc.DeleteDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestListDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.document(t, "a.txt", "alpha")
	f.document(t, "b.txt", "beta")
	_, err := f.svc.ProcessDocument(ctx, a.ID)
	require.NoError(t, err)

	docs, total, err := f.svc.ListDocuments(ctx, 0, 10, "")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Equal(t, 2, total)

	docs, total, err = f.svc.ListDocuments(ctx, 0, 10, domain.StatusCompleted)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, a.ID, docs[0].ID)
	assert.Equal(t, 1, total)

	_, _, err = f.svc.ListDocuments(ctx, 0, 10, "archived")
	var valErr *ferrors.ValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestEnsureCollection(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.svc.EnsureCollection(context.Background(), 8))
}
