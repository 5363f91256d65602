// Package domain holds the records shared by the indexing, query, and
// storage layers.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus is the processing state of a document or indexing job.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Valid reports whether s is a known status.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// AgentType names the component that produced an answer.
type AgentType string

const (
	AgentRouter     AgentType = "router"
	AgentIndexing   AgentType = "indexing"
	AgentQuery      AgentType = "query"
	AgentEvaluation AgentType = "evaluation"
)

// Document is an uploaded source file.
type Document struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	FilePath     string         `json:"file_path"`
	ContentType  string         `json:"content_type"`
	SizeBytes    int64          `json:"size_bytes"`
	Status       DocumentStatus `json:"status"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// NewDocument returns a pending document with a fresh ID.
func NewDocument(filename, path, contentType string, size int64, metadata map[string]any) Document {
	now := time.Now().UTC()
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return Document{
		ID:          uuid.New().String(),
		Filename:    filename,
		FilePath:    path,
		ContentType: contentType,
		SizeBytes:   size,
		Status:      StatusPending,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Chunk is a contiguous slice of a document's text.
type Chunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Content    string         `json:"content"`
	ChunkIndex int            `json:"chunk_index"`
	StartChar  int            `json:"start_char"`
	EndChar    int            `json:"end_char"`
	Metadata   map[string]any `json:"metadata"`
	Embedding  []float32      `json:"embedding,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Query is a recorded question.
type Query struct {
	ID             string         `json:"id"`
	Text           string         `json:"text"`
	Filters        map[string]any `json:"filters,omitempty"`
	TopK           int            `json:"top_k"`
	ScoreThreshold float64        `json:"score_threshold"`
	CreatedAt      time.Time      `json:"created_at"`
}

// NewQuery returns a query record with a fresh ID.
func NewQuery(text string, filters map[string]any, topK int, threshold float64) Query {
	return Query{
		ID:             uuid.New().String(),
		Text:           text,
		Filters:        filters,
		TopK:           topK,
		ScoreThreshold: threshold,
		CreatedAt:      time.Now().UTC(),
	}
}

// IndexingJob tracks the processing of one or more documents.
type IndexingJob struct {
	ID              string         `json:"id"`
	DocumentIDs     []string       `json:"document_ids"`
	Status          DocumentStatus `json:"status"`
	TotalChunks     int            `json:"total_chunks"`
	ProcessedChunks int            `json:"processed_chunks"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
}

// NewIndexingJob returns a pending job for documentIDs.
func NewIndexingJob(documentIDs ...string) IndexingJob {
	return IndexingJob{
		ID:          uuid.New().String(),
		DocumentIDs: documentIDs,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}
