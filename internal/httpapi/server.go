// Package httpapi serves the RAG and document APIs over HTTP.
package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/randalmurphal/ragflow/internal/domain"
	"github.com/randalmurphal/ragflow/internal/mcp"
	"github.com/randalmurphal/ragflow/internal/rag"
	"github.com/randalmurphal/ragflow/pkg/ragflow"
)

// RAGService answers and records queries.
type RAGService interface {
	Query(ctx context.Context, req rag.QueryRequest) (*rag.QueryResponse, error)
	GetQuery(ctx context.Context, id string) (domain.Query, error)
	RecentQueries(ctx context.Context, limit int) ([]domain.Query, error)
	VectorSearch(ctx context.Context, query string) ([]ragflow.SearchResult, error)
}

// DocumentService manages uploaded documents and their indexing.
type DocumentService interface {
	SaveUpload(ctx context.Context, filename, contentType string, r io.Reader) (domain.Document, error)
	IndexDocuments(ctx context.Context, ids []string) ([]domain.IndexingJob, error)
	GetDocument(ctx context.Context, id string) (domain.Document, error)
	ListDocuments(ctx context.Context, skip, limit int, status domain.DocumentStatus) ([]domain.Document, int, error)
	DeleteDocument(ctx context.Context, id string) (bool, error)
	GetJob(ctx context.Context, id string) (domain.IndexingJob, error)
}

// Info describes the running application.
type Info struct {
	Name        string
	Version     string
	Environment string
}

// Server routes HTTP requests to the services.
type Server struct {
	rag         RAGService
	docs        DocumentService
	context     *mcp.Provider
	info        Info
	corsOrigins []string
	maxUpload   int64
	metrics     *Metrics
	logger      *slog.Logger
	router      chi.Router
}

// Option configures Server.
type Option func(*Server)

// WithCORSOrigins sets the origins allowed to call the API from a browser.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithMaxUploadSize caps multipart request bodies in bytes.
func WithMaxUploadSize(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithMetrics sets the Prometheus collectors. A private registry is used otherwise.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds the router.
func New(ragSvc RAGService, docs DocumentService, provider *mcp.Provider, info Info, opts ...Option) *Server {
	s := &Server{
		rag:       ragSvc,
		docs:      docs,
		context:   provider,
		info:      info,
		maxUpload: 50 << 20,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(prometheus.NewRegistry())
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors(s.corsOrigins))
	r.Use(s.metrics.Middleware)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/rag", func(r chi.Router) {
			r.Post("/query", s.handleQuery)
			r.Get("/query/{id}", s.handleGetQuery)
			r.Get("/queries/recent", s.handleRecentQueries)
		})
		r.Route("/documents", func(r chi.Router) {
			r.Post("/upload", s.handleUpload)
			r.Post("/index", s.handleIndex)
			r.Get("/", s.handleListDocuments)
			r.Get("/jobs/{id}", s.handleGetJob)
			r.Get("/{id}", s.handleGetDocument)
			r.Delete("/{id}", s.handleDeleteDocument)
		})
		r.Post("/mcp/context", s.handleMCPContext)
	})
	return r
}
