package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/randalmurphal/ragflow/internal/domain"
	"github.com/randalmurphal/ragflow/internal/mcp"
	"github.com/randalmurphal/ragflow/internal/rag"
	"github.com/randalmurphal/ragflow/pkg/ragflow"
	ferrors "github.com/randalmurphal/ragflow/pkg/ragflow/errors"
)

const maxJSONBody = 1 << 20

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var (
		valErr      *ferrors.ValidationError
		decisionErr *ragflow.DecisionError
	)
	// A DecisionError wraps the ValidationError of the model reply, so it
	// is checked first. An expired deadline is checked before the retryable
	// case because the error categorizer treats it as transient.
	switch {
	case errors.As(err, &decisionErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &valErr), errors.Is(err, ragflow.ErrEmptyQuery):
		return http.StatusBadRequest
	case ferrors.IsNotFound(err):
		return http.StatusNotFound
	case ferrors.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Detail: err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return &ferrors.ValidationError{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Welcome to " + s.info.Name,
		"version": s.info.Version,
		"health":  "/health",
		"metrics": "/metrics",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"version":     s.info.Version,
		"environment": s.info.Environment,
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req rag.QueryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.rag.Query(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetQuery(w http.ResponseWriter, r *http.Request) {
	q, err := s.rag.GetQuery(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleRecentQueries(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", rag.DefaultRecentLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	queries, err := s.rag.RecentQueries(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if queries == nil {
		queries = []domain.Query{}
	}
	writeJSON(w, http.StatusOK, queries)
}

type uploadResponse struct {
	DocumentID string                `json:"document_id"`
	Filename   string                `json:"filename"`
	Status     domain.DocumentStatus `json:"status"`
	Message    string                `json:"message"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, &ferrors.ValidationError{Field: "file", Message: fmt.Sprintf("multipart file is required: %v", err)})
		return
	}
	defer file.Close()

	doc, err := s.docs.SaveUpload(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Status:     doc.Status,
		Message:    "Document uploaded successfully",
	})
}

type indexRequest struct {
	DocumentIDs []string `json:"document_ids"`
}

type indexResponse struct {
	Jobs   []domain.IndexingJob `json:"jobs"`
	Errors []string             `json:"errors,omitempty"`
}

// handleIndex runs indexing for every listed document and reports each job.
// Per-document failures are reported in the body, not the status code.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	jobs, err := s.docs.IndexDocuments(r.Context(), req.DocumentIDs)
	var valErr *ferrors.ValidationError
	if errors.As(err, &valErr) && jobs == nil {
		s.writeError(w, r, err)
		return
	}

	resp := indexResponse{Jobs: []domain.IndexingJob{}}
	for _, j := range jobs {
		if j.ID != "" {
			resp.Jobs = append(resp.Jobs, j)
		}
	}
	if err != nil {
		resp.Errors = unjoin(err)
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// unjoin splits an errors.Join result into messages.
func unjoin(err error) []string {
	var msgs []string
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			msgs = append(msgs, e.Error())
		}
		return msgs
	}
	return []string{err.Error()}
}

type documentList struct {
	Documents []domain.Document `json:"documents"`
	Total     int               `json:"total"`
	Page      int               `json:"page"`
	PageSize  int               `json:"page_size"`
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	skip, err := intParam(r, "skip", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := intParam(r, "limit", 100)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if skip < 0 || limit < 1 {
		s.writeError(w, r, &ferrors.ValidationError{Field: "limit", Message: "skip must be >= 0 and limit >= 1"})
		return
	}
	status := domain.DocumentStatus(r.URL.Query().Get("status"))

	docs, total, err := s.docs.ListDocuments(r.Context(), skip, limit, status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	writeJSON(w, http.StatusOK, documentList{
		Documents: docs,
		Total:     total,
		Page:      skip/limit + 1,
		PageSize:  limit,
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.docs.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleted, err := s.docs.DeleteDocument(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !deleted {
		s.writeError(w, r, &ferrors.NotFoundError{Resource: "document", ID: id})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.docs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type contextRequest struct {
	Query     string `json:"query"`
	MaxTokens int    `json:"max_tokens"`
}

func (s *Server) handleMCPContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Query == "" {
		s.writeError(w, r, &ferrors.ValidationError{Field: "query", Message: "must not be empty"})
		return
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = mcp.DefaultMaxTokens
	}
	res, err := s.context.Retrieve(r.Context(), ragflow.RetrieverFunc(s.rag.VectorSearch), req.Query, req.MaxTokens)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ferrors.ValidationError{Field: name, Message: fmt.Sprintf("must be an integer, got %q", raw)}
	}
	return n, nil
}
