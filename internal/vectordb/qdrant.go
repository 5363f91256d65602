package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/randalmurphal/ragflow/internal/domain"
	ferrors "github.com/randalmurphal/ragflow/pkg/ragflow/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// QdrantStore is a minimal Qdrant REST client scoped to one collection.
type QdrantStore struct {
	base       string
	collection string
	apiKey     string
	http       *http.Client
}

// QdrantOption configures QdrantStore.
type QdrantOption func(*QdrantStore)

// WithQdrantAPIKey sends key in the api-key header.
func WithQdrantAPIKey(key string) QdrantOption {
	return func(q *QdrantStore) { q.apiKey = key }
}

// WithQdrantHTTPClient replaces the underlying HTTP client.
func WithQdrantHTTPClient(hc *http.Client) QdrantOption {
	return func(q *QdrantStore) { q.http = hc }
}

// NewQdrantStore creates a client for collection at baseURL (http://host:port).
func NewQdrantStore(baseURL, collection string, opts ...QdrantOption) *QdrantStore {
	q := &QdrantStore{
		base:       strings.TrimRight(baseURL, "/"),
		collection: collection,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

var _ Store = (*QdrantStore)(nil)

type qdrantPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score,omitempty"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type qdrantQueryRequest struct {
	Query          []float32      `json:"query"`
	Limit          int            `json:"limit"`
	ScoreThreshold *float64       `json:"score_threshold,omitempty"`
	WithPayload    bool           `json:"with_payload"`
	Filter         map[string]any `json:"filter,omitempty"`
}

type qdrantSearchRequest struct {
	Vector         []float32      `json:"vector"`
	Limit          int            `json:"limit"`
	ScoreThreshold *float64       `json:"score_threshold,omitempty"`
	WithPayload    bool           `json:"with_payload"`
	Filter         map[string]any `json:"filter,omitempty"`
}

type qdrantQueryResponse struct {
	Result struct {
		Points []qdrantPoint `json:"points"`
	} `json:"result"`
}

type qdrantSearchResponse struct {
	Result []qdrantPoint `json:"result"`
}

// EnsureCollection implements Store.
func (q *QdrantStore) EnsureCollection(ctx context.Context, vectorSize int) error {
	ctx, span := startSpan(ctx, "qdrant", "ensure_collection")
	defer span.End()

	status, _, err := q.do(ctx, http.MethodGet, q.collectionPath(), nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{"size": vectorSize, "distance": "Cosine"},
	}
	status, data, err := q.do(ctx, http.MethodPut, q.collectionPath(), body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return q.statusError("create collection", status, data)
	}
	return nil
}

// Upsert implements Store.
func (q *QdrantStore) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	ctx, span := startSpan(ctx, "qdrant", "upsert", attribute.Int("vectordb.points", len(chunks)))
	defer span.End()

	points := make([]qdrantPoint, len(chunks))
	for i, c := range chunks {
		points[i] = qdrantPoint{ID: c.ID, Vector: c.Embedding, Payload: chunkPayload(c)}
	}
	status, data, err := q.do(ctx, http.MethodPut, q.collectionPath()+"/points?wait=true", map[string]any{"points": points})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if status != http.StatusOK {
		err := q.statusError("upsert", status, data)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Search implements Store. It prefers /points/query and falls back to the
// older /points/search endpoint when the server rejects the former.
func (q *QdrantStore) Search(ctx context.Context, vector []float32, opts SearchOptions) ([]Hit, error) {
	ctx, span := startSpan(ctx, "qdrant", "search", attribute.Int("vectordb.limit", opts.limit()))
	defer span.End()

	var threshold *float64
	if opts.ScoreThreshold > 0 {
		t := opts.ScoreThreshold
		threshold = &t
	}
	filter := qdrantFilter(opts.Filters)

	status, data, err := q.do(ctx, http.MethodPost, q.collectionPath()+"/points/query", qdrantQueryRequest{
		Query:          vector,
		Limit:          opts.limit(),
		ScoreThreshold: threshold,
		WithPayload:    true,
		Filter:         filter,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var points []qdrantPoint
	if status == http.StatusOK {
		var resp qdrantQueryResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("qdrant: decode query response: %w", err)
		}
		points = resp.Result.Points
	} else {
		status, data, err = q.do(ctx, http.MethodPost, q.collectionPath()+"/points/search", qdrantSearchRequest{
			Vector:         vector,
			Limit:          opts.limit(),
			ScoreThreshold: threshold,
			WithPayload:    true,
			Filter:         filter,
		})
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if status != http.StatusOK {
			err := q.statusError("search", status, data)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		var resp qdrantSearchResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("qdrant: decode search response: %w", err)
		}
		points = resp.Result
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, Hit{Chunk: chunkFromPayload(pointID(p.ID), p.Payload), Score: p.Score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	span.SetAttributes(attribute.Int("vectordb.hits", len(hits)))
	return hits, nil
}

// DeleteByDocument implements Store.
func (q *QdrantStore) DeleteByDocument(ctx context.Context, documentID string) error {
	ctx, span := startSpan(ctx, "qdrant", "delete", attribute.String("document_id", documentID))
	defer span.End()

	body := map[string]any{"filter": qdrantFilter(map[string]any{"document_id": documentID})}
	status, data, err := q.do(ctx, http.MethodPost, q.collectionPath()+"/points/delete?wait=true", body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return q.statusError("delete", status, data)
	}
	return nil
}

// GetChunk implements Store.
func (q *QdrantStore) GetChunk(ctx context.Context, id string) (domain.Chunk, error) {
	ctx, span := startSpan(ctx, "qdrant", "get")
	defer span.End()

	status, data, err := q.do(ctx, http.MethodGet, q.collectionPath()+"/points/"+url.PathEscape(id), nil)
	if err != nil {
		return domain.Chunk{}, err
	}
	if status == http.StatusNotFound {
		return domain.Chunk{}, &ferrors.NotFoundError{Resource: "chunk", ID: id}
	}
	if status != http.StatusOK {
		return domain.Chunk{}, q.statusError("get point", status, data)
	}

	var resp struct {
		Result *qdrantPoint `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return domain.Chunk{}, fmt.Errorf("qdrant: decode point: %w", err)
	}
	if resp.Result == nil {
		return domain.Chunk{}, &ferrors.NotFoundError{Resource: "chunk", ID: id}
	}
	chunk := chunkFromPayload(pointID(resp.Result.ID), resp.Result.Payload)
	chunk.Embedding = resp.Result.Vector
	return chunk, nil
}

// Count implements Store.
func (q *QdrantStore) Count(ctx context.Context) (int, error) {
	ctx, span := startSpan(ctx, "qdrant", "count")
	defer span.End()

	status, data, err := q.do(ctx, http.MethodPost, q.collectionPath()+"/points/count", map[string]any{"exact": true})
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, q.statusError("count", status, data)
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("qdrant: decode count: %w", err)
	}
	return resp.Result.Count, nil
}

func (q *QdrantStore) collectionPath() string {
	return "/collections/" + url.PathEscape(q.collection)
}

// do sends body as JSON and returns the status and up to 1 MiB of the response.
// Transport failures come back as transient errors.
func (q *QdrantStore) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("qdrant: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.base+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("qdrant: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, ferrors.Transient(err, "qdrant "+method+" "+path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, ferrors.Transient(err, "qdrant read response")
	}
	return resp.StatusCode, data, nil
}

func (q *QdrantStore) statusError(op string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fmt.Errorf("qdrant %s: %w", op, &ferrors.HTTPError{StatusCode: status, Message: msg, Endpoint: q.base + q.collectionPath()})
}

// qdrantFilter turns equality filters into a "must" clause. Keys other than
// document_id address the nested metadata payload.
func qdrantFilter(filters map[string]any) map[string]any {
	if len(filters) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	must := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		field := k
		if k != "document_id" {
			field = "metadata." + k
		}
		must = append(must, map[string]any{
			"key":   field,
			"match": map[string]any{"value": filters[k]},
		})
	}
	return map[string]any{"must": must}
}

func chunkPayload(c domain.Chunk) map[string]any {
	meta := c.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return map[string]any{
		"document_id": c.DocumentID,
		"content":     c.Content,
		"chunk_index": c.ChunkIndex,
		"start_char":  c.StartChar,
		"end_char":    c.EndChar,
		"metadata":    meta,
		"created_at":  c.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func chunkFromPayload(id string, p map[string]any) domain.Chunk {
	c := domain.Chunk{ID: id}
	c.DocumentID, _ = p["document_id"].(string)
	c.Content, _ = p["content"].(string)
	c.ChunkIndex = intFrom(p["chunk_index"])
	c.StartChar = intFrom(p["start_char"])
	c.EndChar = intFrom(p["end_char"])
	if meta, ok := p["metadata"].(map[string]any); ok {
		c.Metadata = meta
	}
	if ts, ok := p["created_at"].(string); ok {
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return c
}

func intFrom(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}

// pointID renders Qdrant's string or numeric point IDs.
func pointID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}
