package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaClient implements Client against a local Ollama server's /api/chat endpoint.
type OllamaClient struct {
	baseURL string
	model   string
	http    *http.Client
}

// OllamaOption configures OllamaClient.
type OllamaOption func(*OllamaClient)

// NewOllamaClient creates an Ollama chat client.
// Defaults to http://localhost:11434 and the llama2 model.
func NewOllamaClient(opts ...OllamaOption) *OllamaClient {
	c := &OllamaClient{
		baseURL: "http://localhost:11434",
		model:   "llama2",
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithOllamaBaseURL sets the server address.
func WithOllamaBaseURL(url string) OllamaOption {
	return func(c *OllamaClient) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithOllamaModel sets the default model.
func WithOllamaModel(model string) OllamaOption {
	return func(c *OllamaClient) { c.model = model }
}

// WithOllamaHTTPClient replaces the underlying HTTP client.
func WithOllamaHTTPClient(hc *http.Client) OllamaOption {
	return func(c *OllamaClient) { c.http = hc }
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	DoneReason      string  `json:"done_reason"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

// Complete implements Client.
func (c *OllamaClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.model
	}
	body := ollamaChatRequest{
		Model:    model,
		Messages: req.chatMessages(),
	}
	opts := map[string]any{}
	if req.Temperature > 0 {
		opts["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if len(opts) > 0 {
		body.Options = opts
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return nil, NewError("complete", fmt.Errorf("encode request: %w", err), false)
	}

	endpoint := c.baseURL + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, NewError("complete", err, false)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewError("complete", ctx.Err(), false)
		}
		return nil, NewError("complete", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError("complete", endpoint, resp.StatusCode, data)
	}

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, NewError("complete", fmt.Errorf("decode response: %w", err), false)
	}

	finish := out.DoneReason
	if finish == "" {
		finish = "stop"
	}
	return &CompletionResponse{
		Content:      out.Message.Content,
		Model:        out.Model,
		FinishReason: finish,
		Usage: TokenUsage{
			InputTokens:  out.PromptEvalCount,
			OutputTokens: out.EvalCount,
			TotalTokens:  out.PromptEvalCount + out.EvalCount,
		},
		Duration: time.Since(start),
	}, nil
}
