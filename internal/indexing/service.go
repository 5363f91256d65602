// Package indexing turns uploaded files into searchable chunks.
//
// A document moves pending -> processing -> completed (or failed). Each
// processing attempt is tracked by an IndexingJob. Processing extracts the
// text, splits it into overlapping chunks, embeds the chunks, and writes
// them to the vector index.
package indexing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/randalmurphal/ragflow/internal/domain"
	"github.com/randalmurphal/ragflow/internal/store"
	"github.com/randalmurphal/ragflow/internal/vectordb"
	ferrors "github.com/randalmurphal/ragflow/pkg/ragflow/errors"
	"golang.org/x/sync/errgroup"
)

// Embedder turns texts into vectors, one per input.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Service coordinates document records, text extraction, embedding, and
// the vector index.
type Service struct {
	docs        store.DocumentStore
	jobs        store.JobStore
	vectors     vectordb.Store
	embedder    Embedder
	chunker     Chunker
	extractor   Extractor
	uploadDir   string
	concurrency int
	retry       ferrors.RetryConfig
	logger      *slog.Logger
}

// Option configures Service.
type Option func(*Service)

// WithChunking sets chunk size and overlap in characters.
func WithChunking(size, overlap int) Option {
	return func(s *Service) { s.chunker = NewChunker(size, overlap) }
}

// WithExtractor replaces the file extractor.
func WithExtractor(e Extractor) Option {
	return func(s *Service) { s.extractor = e }
}

// WithUploadDir sets where SaveUpload writes files.
func WithUploadDir(dir string) Option {
	return func(s *Service) { s.uploadDir = dir }
}

// WithConcurrency bounds how many documents IndexDocuments processes at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithRetry sets the retry policy for embedding and upsert calls.
func WithRetry(cfg ferrors.RetryConfig) Option {
	return func(s *Service) { s.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates an indexing service.
func NewService(docs store.DocumentStore, jobs store.JobStore, vectors vectordb.Store, embedder Embedder, opts ...Option) *Service {
	s := &Service{
		docs:        docs,
		jobs:        jobs,
		vectors:     vectors,
		embedder:    embedder,
		chunker:     NewChunker(1000, 200),
		uploadDir:   "uploads",
		concurrency: 4,
		retry:       ferrors.DefaultRetry,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureCollection prepares the vector index for vectors of size dim.
func (s *Service) EnsureCollection(ctx context.Context, dim int) error {
	if err := s.vectors.EnsureCollection(ctx, dim); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}
	return nil
}

// CreateDocument records a pending document for a file already on disk.
func (s *Service) CreateDocument(ctx context.Context, filename, path, contentType string, size int64, metadata map[string]any) (domain.Document, error) {
	doc := domain.NewDocument(filename, path, contentType, size, metadata)
	if err := s.docs.CreateDocument(ctx, doc); err != nil {
		return domain.Document{}, fmt.Errorf("create document: %w", err)
	}
	s.logger.Info("document created", "document_id", doc.ID, "filename", filename)
	return doc, nil
}

// SaveUpload copies r into the upload directory and records the document.
// Files with unsupported extensions or over the size limit are rejected.
func (s *Service) SaveUpload(ctx context.Context, filename, contentType string, r io.Reader) (domain.Document, error) {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return domain.Document{}, &ferrors.ValidationError{Field: "file", Message: "filename is required"}
	}
	if !s.extractor.Supported(base) {
		return domain.Document{}, &ferrors.ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("unsupported format %q", extension(base)),
		}
	}
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return domain.Document{}, fmt.Errorf("create upload dir: %w", err)
	}

	path := filepath.Join(s.uploadDir, uuid.NewString()+"_"+base)
	f, err := os.Create(path)
	if err != nil {
		return domain.Document{}, fmt.Errorf("create upload file: %w", err)
	}

	src := r
	if s.extractor.MaxSize > 0 {
		src = io.LimitReader(r, s.extractor.MaxSize+1)
	}
	size, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.extractor.MaxSize > 0 && size > s.extractor.MaxSize {
		err = &ferrors.ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("file exceeds limit of %d bytes", s.extractor.MaxSize),
		}
	}
	if err != nil {
		os.Remove(path)
		return domain.Document{}, err
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return s.CreateDocument(ctx, base, path, contentType, size, nil)
}

// ProcessDocument extracts, chunks, embeds, and indexes one document.
// On failure both the document and the job are marked failed and the
// failed job is returned along with the error.
func (s *Service) ProcessDocument(ctx context.Context, documentID string) (domain.IndexingJob, error) {
	doc, err := s.docs.GetDocument(ctx, documentID)
	if err != nil {
		return domain.IndexingJob{}, err
	}
	logger := s.logger.With("document_id", documentID)
	logger.Info("processing document", "filename", doc.Filename)

	doc.Status = domain.StatusProcessing
	doc.ErrorMessage = ""
	if doc, err = s.docs.UpdateDocument(ctx, doc); err != nil {
		return domain.IndexingJob{}, fmt.Errorf("mark processing: %w", err)
	}

	job := domain.NewIndexingJob(documentID)
	started := time.Now().UTC()
	job.Status = domain.StatusProcessing
	job.StartedAt = &started
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return domain.IndexingJob{}, fmt.Errorf("create job: %w", err)
	}

	chunks, err := s.index(ctx, doc, &job)
	if err != nil {
		logger.Error("document processing failed", "job_id", job.ID, "error", err)
		return s.fail(ctx, doc, job, err), err
	}

	now := time.Now().UTC()
	doc.Status = domain.StatusCompleted
	doc.ProcessedAt = &now
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	doc.Metadata["chunk_count"] = chunks
	if _, err := s.docs.UpdateDocument(ctx, doc); err != nil {
		return s.fail(ctx, doc, job, err), fmt.Errorf("mark completed: %w", err)
	}

	job.Status = domain.StatusCompleted
	job.CompletedAt = &now
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return job, fmt.Errorf("update job: %w", err)
	}
	logger.Info("document processed", "job_id", job.ID, "chunks", chunks)
	return job, nil
}

// index runs extraction through upsert and returns the chunk count.
func (s *Service) index(ctx context.Context, doc domain.Document, job *domain.IndexingJob) (int, error) {
	text, err := s.extractor.Extract(ctx, doc.FilePath)
	if err != nil {
		return 0, err
	}
	spans := s.chunker.Split(text)
	job.TotalChunks = len(spans)
	if len(spans) == 0 {
		return 0, nil
	}

	texts := make([]string, len(spans))
	for i, sp := range spans {
		texts[i] = sp.Text
	}
	vecs, attempts, err := ferrors.Retry(ctx, s.retry, func(ctx context.Context) ([][]float32, error) {
		return s.embedder.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return 0, fmt.Errorf("embed chunks after %d attempts: %w", attempts, err)
	}

	now := time.Now().UTC()
	chunks := make([]domain.Chunk, len(spans))
	for i, sp := range spans {
		meta := maps.Clone(doc.Metadata)
		if meta == nil {
			meta = map[string]any{}
		}
		meta["filename"] = doc.Filename
		chunks[i] = domain.Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Content:    sp.Text,
			ChunkIndex: i,
			StartChar:  sp.Start,
			EndChar:    sp.End,
			Metadata:   meta,
			Embedding:  vecs[i],
			CreatedAt:  now,
		}
	}

	// Re-indexing replaces the document's previous chunks.
	if err := s.vectors.DeleteByDocument(ctx, doc.ID); err != nil {
		return 0, fmt.Errorf("clear previous chunks: %w", err)
	}
	_, attempts, err = ferrors.Retry(ctx, s.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.vectors.Upsert(ctx, chunks)
	})
	if err != nil {
		return 0, fmt.Errorf("upsert chunks after %d attempts: %w", attempts, err)
	}
	job.ProcessedChunks = len(chunks)
	return len(chunks), nil
}

// fail records err on doc and job. Store errors here are logged, not returned.
func (s *Service) fail(ctx context.Context, doc domain.Document, job domain.IndexingJob, cause error) domain.IndexingJob {
	// Record the failure even when ctx is already cancelled.
	ctx = context.WithoutCancel(ctx)

	doc.Status = domain.StatusFailed
	doc.ErrorMessage = cause.Error()
	if _, err := s.docs.UpdateDocument(ctx, doc); err != nil {
		s.logger.Warn("mark document failed", "document_id", doc.ID, "error", err)
	}

	now := time.Now().UTC()
	job.Status = domain.StatusFailed
	job.ErrorMessage = cause.Error()
	job.CompletedAt = &now
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		s.logger.Warn("mark job failed", "job_id", job.ID, "error", err)
	}
	return job
}

// IndexDocuments processes documents concurrently. It returns one job per
// ID in input order; IDs that never produced a job leave a zero value.
// Errors from every document are joined.
func (s *Service) IndexDocuments(ctx context.Context, documentIDs []string) ([]domain.IndexingJob, error) {
	if len(documentIDs) == 0 {
		return nil, &ferrors.ValidationError{Field: "document_ids", Message: "at least one document ID is required"}
	}

	jobs := make([]domain.IndexingJob, len(documentIDs))
	errs := make([]error, len(documentIDs))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, id := range documentIDs {
		g.Go(func() error {
			job, err := s.ProcessDocument(ctx, id)
			jobs[i] = job
			if err != nil {
				errs[i] = fmt.Errorf("document %s: %w", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return jobs, errors.Join(errs...)
}

// DeleteDocument removes a document's chunks and its record.
// It reports false when the document did not exist.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) (bool, error) {
	if err := s.vectors.DeleteByDocument(ctx, documentID); err != nil {
		return false, fmt.Errorf("delete chunks: %w", err)
	}
	deleted, err := s.docs.DeleteDocument(ctx, documentID)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	if deleted {
		s.logger.Info("document deleted", "document_id", documentID)
	}
	return deleted, nil
}

// GetDocument returns a document by ID.
func (s *Service) GetDocument(ctx context.Context, documentID string) (domain.Document, error) {
	return s.docs.GetDocument(ctx, documentID)
}

// ListDocuments pages through documents, newest first.
func (s *Service) ListDocuments(ctx context.Context, skip, limit int, status domain.DocumentStatus) ([]domain.Document, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, &ferrors.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}
	docs, err := s.docs.ListDocuments(ctx, store.ListOptions{Skip: skip, Limit: limit, Status: status})
	if err != nil {
		return nil, 0, err
	}
	total, err := s.docs.CountDocuments(ctx, status)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// GetJob returns an indexing job by ID.
func (s *Service) GetJob(ctx context.Context, jobID string) (domain.IndexingJob, error) {
	return s.jobs.GetJob(ctx, jobID)
}
