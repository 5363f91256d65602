package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/randalmurphal/ragflow/internal/domain"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	file_path TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	status TEXT NOT NULL,
	metadata TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	processed_at INTEGER,
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

CREATE TABLE IF NOT EXISTS indexing_jobs (
	id TEXT PRIMARY KEY,
	document_ids TEXT NOT NULL,
	status TEXT NOT NULL,
	total_chunks INTEGER NOT NULL,
	processed_chunks INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER,
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_indexing_jobs_status ON indexing_jobs(status);

CREATE TABLE IF NOT EXISTS queries (
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	filters TEXT NOT NULL,
	top_k INTEGER NOT NULL,
	score_threshold REAL NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queries_created_at ON queries(created_at);
`

// SQLiteStore persists records to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (or creates) the database at path.
// Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

var _ Store = (*SQLiteStore)(nil)

// CreateDocument implements DocumentStore.
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc domain.Document) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	meta, err := marshalJSON(doc.Metadata, "{}")
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, filename, file_path, content_type, size_bytes, status,
			metadata, created_at, updated_at, processed_at, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, doc.ID, doc.Filename, doc.FilePath, doc.ContentType, doc.SizeBytes, string(doc.Status),
		meta, doc.CreatedAt.UnixNano(), doc.UpdatedAt.UnixNano(), nullTime(doc.ProcessedAt), doc.ErrorMessage)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return insertedOrDuplicate(res)
}

const documentColumns = `id, filename, file_path, content_type, size_bytes, status,
	metadata, created_at, updated_at, processed_at, error_message`

// GetDocument implements DocumentStore.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return domain.Document{}, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, notFound("document", id)
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// ListDocuments implements DocumentStore.
func (s *SQLiteStore) ListDocuments(ctx context.Context, opts ListOptions) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	opts = opts.normalized()

	query := `SELECT ` + documentColumns + ` FROM documents`
	var args []any
	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Skip)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []domain.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// UpdateDocument implements DocumentStore.
func (s *SQLiteStore) UpdateDocument(ctx context.Context, doc domain.Document) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return domain.Document{}, ErrStoreClosed
	}
	meta, err := marshalJSON(doc.Metadata, "{}")
	if err != nil {
		return domain.Document{}, err
	}
	doc.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET filename = ?, file_path = ?, content_type = ?, size_bytes = ?,
			status = ?, metadata = ?, updated_at = ?, processed_at = ?, error_message = ?
		WHERE id = ?
	`, doc.Filename, doc.FilePath, doc.ContentType, doc.SizeBytes, string(doc.Status),
		meta, doc.UpdatedAt.UnixNano(), nullTime(doc.ProcessedAt), doc.ErrorMessage, doc.ID)
	if err != nil {
		return domain.Document{}, fmt.Errorf("update document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Document{}, notFound("document", doc.ID)
	}
	return doc, nil
}

// DeleteDocument implements DocumentStore.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrStoreClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CountDocuments implements DocumentStore.
func (s *SQLiteStore) CountDocuments(ctx context.Context, status domain.DocumentStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	var n int
	var err error
	if status == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE status = ?`, string(status)).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// CreateJob implements JobStore.
func (s *SQLiteStore) CreateJob(ctx context.Context, job domain.IndexingJob) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	ids, err := marshalJSON(job.DocumentIDs, "[]")
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO indexing_jobs (id, document_ids, status, total_chunks, processed_chunks,
			created_at, started_at, completed_at, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, job.ID, ids, string(job.Status), job.TotalChunks, job.ProcessedChunks,
		job.CreatedAt.UnixNano(), nullTime(job.StartedAt), nullTime(job.CompletedAt), job.ErrorMessage)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return insertedOrDuplicate(res)
}

const jobColumns = `id, document_ids, status, total_chunks, processed_chunks,
	created_at, started_at, completed_at, error_message`

// GetJob implements JobStore.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (domain.IndexingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return domain.IndexingJob{}, ErrStoreClosed
	}
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM indexing_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IndexingJob{}, notFound("job", id)
	}
	if err != nil {
		return domain.IndexingJob{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// UpdateJob implements JobStore.
func (s *SQLiteStore) UpdateJob(ctx context.Context, job domain.IndexingJob) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	ids, err := marshalJSON(job.DocumentIDs, "[]")
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE indexing_jobs SET document_ids = ?, status = ?, total_chunks = ?, processed_chunks = ?,
			started_at = ?, completed_at = ?, error_message = ?
		WHERE id = ?
	`, ids, string(job.Status), job.TotalChunks, job.ProcessedChunks,
		nullTime(job.StartedAt), nullTime(job.CompletedAt), job.ErrorMessage, job.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("job", job.ID)
	}
	return nil
}

// PendingJobs implements JobStore.
func (s *SQLiteStore) PendingJobs(ctx context.Context) ([]domain.IndexingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM indexing_jobs WHERE status = ? ORDER BY created_at`,
		string(domain.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.IndexingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// CreateQuery implements QueryStore.
func (s *SQLiteStore) CreateQuery(ctx context.Context, q domain.Query) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	filters, err := marshalJSON(q.Filters, "null")
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO queries (id, text, filters, top_k, score_threshold, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, q.ID, q.Text, filters, q.TopK, q.ScoreThreshold, q.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("create query: %w", err)
	}
	return insertedOrDuplicate(res)
}

const queryColumns = `id, text, filters, top_k, score_threshold, created_at`

// GetQuery implements QueryStore.
func (s *SQLiteStore) GetQuery(ctx context.Context, id string) (domain.Query, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return domain.Query{}, ErrStoreClosed
	}
	q, err := scanQuery(s.db.QueryRowContext(ctx, `SELECT `+queryColumns+` FROM queries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Query{}, notFound("query", id)
	}
	if err != nil {
		return domain.Query{}, fmt.Errorf("get query: %w", err)
	}
	return q, nil
}

// RecentQueries implements QueryStore.
func (s *SQLiteStore) RecentQueries(ctx context.Context, limit int) ([]domain.Query, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queryColumns+` FROM queries ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list queries: %w", err)
	}
	defer rows.Close()

	qs := []domain.Query{}
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan query: %w", err)
		}
		qs = append(qs, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queries: %w", err)
	}
	return qs, nil
}

// CountQueries implements QueryStore.
func (s *SQLiteStore) CountQueries(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queries: %w", err)
	}
	return n, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (domain.Document, error) {
	var (
		doc              domain.Document
		status, meta     string
		created, updated int64
		processed        sql.NullInt64
	)
	if err := row.Scan(&doc.ID, &doc.Filename, &doc.FilePath, &doc.ContentType, &doc.SizeBytes,
		&status, &meta, &created, &updated, &processed, &doc.ErrorMessage); err != nil {
		return domain.Document{}, err
	}
	doc.Status = domain.DocumentStatus(status)
	if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
		return domain.Document{}, fmt.Errorf("decode metadata: %w", err)
	}
	doc.CreatedAt = fromNanos(created)
	doc.UpdatedAt = fromNanos(updated)
	doc.ProcessedAt = fromNull(processed)
	return doc, nil
}

func scanJob(row scanner) (domain.IndexingJob, error) {
	var (
		job                domain.IndexingJob
		ids, status        string
		created            int64
		started, completed sql.NullInt64
	)
	if err := row.Scan(&job.ID, &ids, &status, &job.TotalChunks, &job.ProcessedChunks,
		&created, &started, &completed, &job.ErrorMessage); err != nil {
		return domain.IndexingJob{}, err
	}
	job.Status = domain.DocumentStatus(status)
	if err := json.Unmarshal([]byte(ids), &job.DocumentIDs); err != nil {
		return domain.IndexingJob{}, fmt.Errorf("decode document ids: %w", err)
	}
	job.CreatedAt = fromNanos(created)
	job.StartedAt = fromNull(started)
	job.CompletedAt = fromNull(completed)
	return job, nil
}

func scanQuery(row scanner) (domain.Query, error) {
	var (
		q       domain.Query
		filters string
		created int64
	)
	if err := row.Scan(&q.ID, &q.Text, &filters, &q.TopK, &q.ScoreThreshold, &created); err != nil {
		return domain.Query{}, err
	}
	if err := json.Unmarshal([]byte(filters), &q.Filters); err != nil {
		return domain.Query{}, fmt.Errorf("decode filters: %w", err)
	}
	q.CreatedAt = fromNanos(created)
	return q, nil
}

func marshalJSON(v any, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

func insertedOrDuplicate(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func fromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}
