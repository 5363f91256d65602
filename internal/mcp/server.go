package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/randalmurphal/ragflow/internal/rag"
	"github.com/randalmurphal/ragflow/pkg/ragflow"
)

// Answerer answers a RAG query.
type Answerer interface {
	Query(ctx context.Context, req rag.QueryRequest) (*rag.QueryResponse, error)
}

// Server exposes the RAG service as MCP tools.
type Server struct {
	answerer  Answerer
	retriever ragflow.Retriever
	provider  *Provider
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer registers the rag_query and rag_context tools.
func NewServer(answerer Answerer, retriever ragflow.Retriever, provider *Provider, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		answerer:  answerer,
		retriever: retriever,
		provider:  provider,
		logger:    logger,
		mcpServer: server.NewMCPServer("ragflow", strings.TrimSpace(version), server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

// Listen serves on the given streams until ctx is done or in closes.
func (s *Server) Listen(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

type queryArgs struct {
	Query          string   `json:"query"`
	TopK           int      `json:"top_k,omitempty"`
	ScoreThreshold *float64 `json:"score_threshold,omitempty"`
	UseAgent       *bool    `json:"use_agent,omitempty"`
}

type contextArgs struct {
	Query     string `json:"query"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

func (s *Server) registerTools() {
	queryTool := mcp.NewTool("rag_query",
		mcp.WithDescription("Answer a question from the indexed documents. Returns the answer with its sources."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The question to answer")),
		mcp.WithNumber("top_k", mcp.Description("Number of fragments to retrieve (1-20, default 5)")),
		mcp.WithNumber("score_threshold", mcp.Description("Minimum similarity score (0-1, default 0.7)")),
		mcp.WithBoolean("use_agent", mcp.Description("Use the multi-stage agent workflow (default true)")),
		mcp.WithOutputSchema[rag.QueryResponse](),
	)
	s.mcpServer.AddTool(queryTool, mcp.NewStructuredToolHandler(s.handleQuery))

	contextTool := mcp.NewTool("rag_context",
		mcp.WithDescription("Retrieve document context for a question without generating an answer."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The question to retrieve context for")),
		mcp.WithNumber("max_tokens", mcp.Description("Approximate token budget for the context (default 4000)")),
		mcp.WithOutputSchema[ContextResult](),
	)
	s.mcpServer.AddTool(contextTool, mcp.NewStructuredToolHandler(s.handleContext))
}

func (s *Server) handleQuery(ctx context.Context, _ mcp.CallToolRequest, args queryArgs) (rag.QueryResponse, error) {
	resp, err := s.answerer.Query(ctx, rag.QueryRequest{
		Query:          args.Query,
		TopK:           args.TopK,
		ScoreThreshold: args.ScoreThreshold,
		UseAgent:       args.UseAgent,
	})
	if err != nil {
		s.logger.Error("mcp rag_query failed", "error", err)
		return rag.QueryResponse{}, err
	}
	return *resp, nil
}

func (s *Server) handleContext(ctx context.Context, _ mcp.CallToolRequest, args contextArgs) (ContextResult, error) {
	if strings.TrimSpace(args.Query) == "" {
		return ContextResult{}, errors.New("query is required")
	}
	res, err := s.provider.Retrieve(ctx, s.retriever, args.Query, args.MaxTokens)
	if err != nil {
		s.logger.Error("mcp rag_context failed", "error", err)
		return ContextResult{}, err
	}
	return res, nil
}
