// Package store persists documents, indexing jobs, and recorded queries.
package store

import (
	"context"
	"errors"
	"io"

	"github.com/randalmurphal/ragflow/internal/domain"
	ferrors "github.com/randalmurphal/ragflow/pkg/ragflow/errors"
)

// DocumentStore persists uploaded documents.
type DocumentStore interface {
	// CreateDocument inserts a new document.
	// Returns ErrDuplicate if the ID is already taken.
	CreateDocument(ctx context.Context, doc domain.Document) error

	// GetDocument returns a *NotFoundError if the document doesn't exist.
	GetDocument(ctx context.Context, id string) (domain.Document, error)

	// ListDocuments returns documents newest first.
	ListDocuments(ctx context.Context, opts ListOptions) ([]domain.Document, error)

	// UpdateDocument replaces a stored document and bumps UpdatedAt.
	UpdateDocument(ctx context.Context, doc domain.Document) (domain.Document, error)

	// DeleteDocument reports whether a document was removed.
	DeleteDocument(ctx context.Context, id string) (bool, error)

	// CountDocuments counts documents, optionally filtered by status.
	CountDocuments(ctx context.Context, status domain.DocumentStatus) (int, error)
}

// JobStore persists indexing jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job domain.IndexingJob) error
	GetJob(ctx context.Context, id string) (domain.IndexingJob, error)
	UpdateJob(ctx context.Context, job domain.IndexingJob) error

	// PendingJobs returns jobs still in the pending state, oldest first.
	PendingJobs(ctx context.Context) ([]domain.IndexingJob, error)
}

// QueryStore records questions asked of the system.
type QueryStore interface {
	CreateQuery(ctx context.Context, q domain.Query) error
	GetQuery(ctx context.Context, id string) (domain.Query, error)

	// RecentQueries returns at most limit queries, newest first.
	RecentQueries(ctx context.Context, limit int) ([]domain.Query, error)

	CountQueries(ctx context.Context) (int, error)
}

// Store combines every record store.
// Implementations must be safe for concurrent use.
type Store interface {
	DocumentStore
	JobStore
	QueryStore
	io.Closer
}

// ListOptions pages and filters ListDocuments.
type ListOptions struct {
	Skip  int
	Limit int
	// Status filters by status when non-empty.
	Status domain.DocumentStatus
}

// DefaultListLimit applies when ListOptions.Limit is zero.
const DefaultListLimit = 100

func (o ListOptions) normalized() ListOptions {
	if o.Skip < 0 {
		o.Skip = 0
	}
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	return o
}

// Sentinel errors for store operations.
var (
	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("store closed")

	// ErrDuplicate indicates a record with the same ID exists.
	ErrDuplicate = errors.New("record already exists")
)

func notFound(resource, id string) error {
	return &ferrors.NotFoundError{Resource: resource, ID: id}
}

// IsNotFound reports whether err means the requested record doesn't exist.
func IsNotFound(err error) bool {
	return ferrors.IsNotFound(err)
}
