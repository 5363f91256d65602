package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/ragflow/internal/domain"
)

// MemoryStore keeps records in process memory.
// Data is lost when the process exits.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]domain.Document
	jobs      map[string]domain.IndexingJob
	queries   map[string]domain.Query
	closed    bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]domain.Document),
		jobs:      make(map[string]domain.IndexingJob),
		queries:   make(map[string]domain.Query),
	}
}

var _ Store = (*MemoryStore)(nil)

// CreateDocument implements DocumentStore.
func (m *MemoryStore) CreateDocument(_ context.Context, doc domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.documents[doc.ID]; ok {
		return ErrDuplicate
	}
	m.documents[doc.ID] = copyDocument(doc)
	return nil
}

// GetDocument implements DocumentStore.
func (m *MemoryStore) GetDocument(_ context.Context, id string) (domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return domain.Document{}, ErrStoreClosed
	}
	doc, ok := m.documents[id]
	if !ok {
		return domain.Document{}, notFound("document", id)
	}
	return copyDocument(doc), nil
}

// ListDocuments implements DocumentStore.
func (m *MemoryStore) ListDocuments(_ context.Context, opts ListOptions) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	opts = opts.normalized()

	docs := make([]domain.Document, 0, len(m.documents))
	for _, doc := range m.documents {
		if opts.Status != "" && doc.Status != opts.Status {
			continue
		}
		docs = append(docs, copyDocument(doc))
	}
	slices.SortFunc(docs, func(a, b domain.Document) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return page(docs, opts.Skip, opts.Limit), nil
}

// UpdateDocument implements DocumentStore.
func (m *MemoryStore) UpdateDocument(_ context.Context, doc domain.Document) (domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return domain.Document{}, ErrStoreClosed
	}
	if _, ok := m.documents[doc.ID]; !ok {
		return domain.Document{}, notFound("document", doc.ID)
	}
	doc.UpdatedAt = time.Now().UTC()
	m.documents[doc.ID] = copyDocument(doc)
	return copyDocument(doc), nil
}

// DeleteDocument implements DocumentStore.
func (m *MemoryStore) DeleteDocument(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrStoreClosed
	}
	if _, ok := m.documents[id]; !ok {
		return false, nil
	}
	delete(m.documents, id)
	return true, nil
}

// CountDocuments implements DocumentStore.
func (m *MemoryStore) CountDocuments(_ context.Context, status domain.DocumentStatus) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	if status == "" {
		return len(m.documents), nil
	}
	n := 0
	for _, doc := range m.documents {
		if doc.Status == status {
			n++
		}
	}
	return n, nil
}

// CreateJob implements JobStore.
func (m *MemoryStore) CreateJob(_ context.Context, job domain.IndexingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.jobs[job.ID]; ok {
		return ErrDuplicate
	}
	m.jobs[job.ID] = copyJob(job)
	return nil
}

// GetJob implements JobStore.
func (m *MemoryStore) GetJob(_ context.Context, id string) (domain.IndexingJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return domain.IndexingJob{}, ErrStoreClosed
	}
	job, ok := m.jobs[id]
	if !ok {
		return domain.IndexingJob{}, notFound("job", id)
	}
	return copyJob(job), nil
}

// UpdateJob implements JobStore.
func (m *MemoryStore) UpdateJob(_ context.Context, job domain.IndexingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.jobs[job.ID]; !ok {
		return notFound("job", job.ID)
	}
	m.jobs[job.ID] = copyJob(job)
	return nil
}

// PendingJobs implements JobStore.
func (m *MemoryStore) PendingJobs(_ context.Context) ([]domain.IndexingJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	var jobs []domain.IndexingJob
	for _, job := range m.jobs {
		if job.Status == domain.StatusPending {
			jobs = append(jobs, copyJob(job))
		}
	}
	slices.SortFunc(jobs, func(a, b domain.IndexingJob) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return jobs, nil
}

// CreateQuery implements QueryStore.
func (m *MemoryStore) CreateQuery(_ context.Context, q domain.Query) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.queries[q.ID]; ok {
		return ErrDuplicate
	}
	q.Filters = maps.Clone(q.Filters)
	m.queries[q.ID] = q
	return nil
}

// GetQuery implements QueryStore.
func (m *MemoryStore) GetQuery(_ context.Context, id string) (domain.Query, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return domain.Query{}, ErrStoreClosed
	}
	q, ok := m.queries[id]
	if !ok {
		return domain.Query{}, notFound("query", id)
	}
	q.Filters = maps.Clone(q.Filters)
	return q, nil
}

// RecentQueries implements QueryStore.
func (m *MemoryStore) RecentQueries(_ context.Context, limit int) ([]domain.Query, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	qs := make([]domain.Query, 0, len(m.queries))
	for _, q := range m.queries {
		q.Filters = maps.Clone(q.Filters)
		qs = append(qs, q)
	}
	slices.SortFunc(qs, func(a, b domain.Query) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return page(qs, 0, limit), nil
}

// CountQueries implements QueryStore.
func (m *MemoryStore) CountQueries(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	return len(m.queries), nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.documents = nil
	m.jobs = nil
	m.queries = nil
	return nil
}

func page[T any](items []T, skip, limit int) []T {
	if skip >= len(items) {
		return []T{}
	}
	items = items[skip:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// copyDocument keeps callers from mutating stored metadata.
func copyDocument(doc domain.Document) domain.Document {
	doc.Metadata = maps.Clone(doc.Metadata)
	if doc.ProcessedAt != nil {
		t := *doc.ProcessedAt
		doc.ProcessedAt = &t
	}
	return doc
}

func copyJob(job domain.IndexingJob) domain.IndexingJob {
	job.DocumentIDs = slices.Clone(job.DocumentIDs)
	if job.StartedAt != nil {
		t := *job.StartedAt
		job.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		job.CompletedAt = &t
	}
	return job
}
