package vectordb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/randalmurphal/ragflow/internal/domain"
	ferrors "github.com/randalmurphal/ragflow/pkg/ragflow/errors"
	"go.opentelemetry.io/otel/attribute"
)

// PGStore keeps chunks in a Postgres table with a pgvector column.
type PGStore struct {
	db *sql.DB
	// table is the quoted identifier; name is the raw one.
	table string
	name  string
}

// OpenPGStore connects to Postgres at dsn using the lib/pq driver.
func OpenPGStore(ctx context.Context, dsn, table string) (*PGStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPGStore(db, table), nil
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB, table string) *PGStore {
	return &PGStore{db: db, table: pq.QuoteIdentifier(table), name: table}
}

var _ Store = (*PGStore)(nil)

// Close closes the database handle.
func (s *PGStore) Close() error {
	return s.db.Close()
}

// EnsureCollection implements Store.
func (s *PGStore) EnsureCollection(ctx context.Context, vectorSize int) error {
	ctx, span := startSpan(ctx, "postgres", "ensure_collection")
	defer span.End()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			content TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			start_char INTEGER NOT NULL,
			end_char INTEGER NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`, s.table, vectorSize),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (document_id)`,
			pq.QuoteIdentifier(s.name+"_document_id_idx"), s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure vector table: %w", err)
		}
	}
	return nil
}

// Upsert implements Store.
func (s *PGStore) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	ctx, span := startSpan(ctx, "postgres", "upsert", attribute.Int("vectordb.points", len(chunks)))
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, document_id, content, chunk_index, start_char, end_char, metadata, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			content = EXCLUDED.content,
			chunk_index = EXCLUDED.chunk_index,
			start_char = EXCLUDED.start_char,
			end_char = EXCLUDED.end_char,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`, s.table))
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		meta, err := json.Marshal(nonNil(c.Metadata))
		if err != nil {
			return fmt.Errorf("encode chunk metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Content, c.ChunkIndex, c.StartChar, c.EndChar,
			string(meta), pgvector.NewVector(c.Embedding), c.CreatedAt); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// Search implements Store. Score is 1 minus the cosine distance.
func (s *PGStore) Search(ctx context.Context, vector []float32, opts SearchOptions) ([]Hit, error) {
	ctx, span := startSpan(ctx, "postgres", "search", attribute.Int("vectordb.limit", opts.limit()))
	defer span.End()

	args := []any{pgvector.NewVector(vector), opts.ScoreThreshold}
	where := `1 - (embedding <=> $1) >= $2`
	if len(opts.Filters) > 0 {
		filter, err := json.Marshal(opts.Filters)
		if err != nil {
			return nil, fmt.Errorf("encode filters: %w", err)
		}
		args = append(args, string(filter))
		where += fmt.Sprintf(` AND metadata @> $%d::jsonb`, len(args))
	}
	args = append(args, opts.limit())

	query := fmt.Sprintf(`
		SELECT id, document_id, content, chunk_index, start_char, end_char, metadata, created_at,
			1 - (embedding <=> $1) AS score
		FROM %s
		WHERE %s
		ORDER BY embedding <=> $1
		LIMIT $%d`, s.table, where, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h    Hit
			meta []byte
		)
		if err := rows.Scan(&h.Chunk.ID, &h.Chunk.DocumentID, &h.Chunk.Content, &h.Chunk.ChunkIndex,
			&h.Chunk.StartChar, &h.Chunk.EndChar, &meta, &h.Chunk.CreatedAt, &h.Score); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		if err := json.Unmarshal(meta, &h.Chunk.Metadata); err != nil {
			return nil, fmt.Errorf("decode chunk metadata: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	span.SetAttributes(attribute.Int("vectordb.hits", len(hits)))
	return hits, nil
}

// DeleteByDocument implements Store.
func (s *PGStore) DeleteByDocument(ctx context.Context, documentID string) error {
	ctx, span := startSpan(ctx, "postgres", "delete", attribute.String("document_id", documentID))
	defer span.End()

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, s.table), documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

// GetChunk implements Store.
func (s *PGStore) GetChunk(ctx context.Context, id string) (domain.Chunk, error) {
	ctx, span := startSpan(ctx, "postgres", "get")
	defer span.End()

	var (
		c    domain.Chunk
		meta []byte
		vec  pgvector.Vector
	)
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, document_id, content, chunk_index, start_char, end_char, metadata, embedding, created_at
		FROM %s WHERE id = $1`, s.table), id).
		Scan(&c.ID, &c.DocumentID, &c.Content, &c.ChunkIndex, &c.StartChar, &c.EndChar, &meta, &vec, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Chunk{}, &ferrors.NotFoundError{Resource: "chunk", ID: id}
	}
	if err != nil {
		return domain.Chunk{}, fmt.Errorf("get chunk: %w", err)
	}
	if err := json.Unmarshal(meta, &c.Metadata); err != nil {
		return domain.Chunk{}, fmt.Errorf("decode chunk metadata: %w", err)
	}
	c.Embedding = vec.Slice()
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

// Count implements Store.
func (s *PGStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
