// Package llm provides the language-model client boundary used by the
// orchestration engine, with HTTP implementations for Ollama and
// OpenAI-compatible chat APIs plus a scripted mock for tests.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	ferrors "github.com/randalmurphal/ragflow/pkg/ragflow/errors"
)

// Client generates a reply for a list of role-tagged messages.
// Implementations must be safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Error wraps a provider failure with the operation that produced it.
type Error struct {
	Op        string
	Err       error
	Retryable bool
}

// NewError creates a provider error.
func NewError(op string, err error, retryable bool) *Error {
	return &Error{Op: op, Err: err, Retryable: retryable}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a provider error marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// statusError builds a categorized HTTP error from a failed provider response.
func statusError(op, endpoint string, status int, body []byte) *Error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	httpErr := &ferrors.HTTPError{StatusCode: status, Message: msg, Endpoint: endpoint}
	return NewError(op, httpErr, ferrors.IsRetryable(httpErr))
}
