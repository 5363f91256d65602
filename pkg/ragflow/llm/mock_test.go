package llm_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/randalmurphal/ragflow/pkg/ragflow/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient_FixedResponse(t *testing.T) {
	mock := llm.NewMockClient("route: direct")

	resp, err := mock.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Query: hi"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "route: direct", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestMockClient_SequentialResponsesCycle(t *testing.T) {
	mock := llm.NewMockClient("").WithResponses("router", "evaluator", "answer")

	var got []string
	for range 4 {
		resp, err := mock.Complete(context.Background(), llm.CompletionRequest{})
		require.NoError(t, err)
		got = append(got, resp.Content)
	}

	assert.Equal(t, []string{"router", "evaluator", "answer", "router"}, got)
}

func TestMockClient_WithError(t *testing.T) {
	expectedErr := errors.New("model offline")
	mock := llm.NewMockClient("").WithError(expectedErr)

	_, err := mock.Complete(context.Background(), llm.CompletionRequest{})
	assert.Equal(t, expectedErr, err)
	assert.Equal(t, 1, mock.CallCount(), "failed calls are still recorded")
}

func TestMockClient_CallTracking(t *testing.T) {
	mock := llm.NewMockClient("ok")

	_, _ = mock.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "router",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "first"}},
	})
	_, _ = mock.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "second"}},
	})

	assert.Equal(t, 2, mock.CallCount())
	require.Len(t, mock.Calls, 2)
	assert.Equal(t, "router", mock.Calls[0].SystemPrompt)
	assert.Equal(t, "second", mock.Calls[1].Messages[0].Content)
}

func TestMockClient_LastCall(t *testing.T) {
	mock := llm.NewMockClient("ok")
	assert.Nil(t, mock.LastCall())

	_, _ = mock.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hello"}},
	})

	last := mock.LastCall()
	require.NotNil(t, last)
	assert.Equal(t, "Hello", last.Messages[0].Content)
}

func TestMockClient_Reset(t *testing.T) {
	mock := llm.NewMockClient("").WithResponses("a", "b")

	_, _ = mock.Complete(context.Background(), llm.CompletionRequest{})
	mock.Reset()

	assert.Zero(t, mock.CallCount())
	resp, err := mock.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Content)
}

func TestMockClient_CompleteFunc(t *testing.T) {
	mock := llm.NewMockClient("").WithCompleteFunc(func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: "echo: " + req.Messages[0].Content}, nil
	})

	resp, err := mock.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "ping"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "echo: ping", resp.Content)
}

func TestMockClient_ConcurrentCalls(t *testing.T) {
	mock := llm.NewMockClient("ok")

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = mock.Complete(context.Background(), llm.CompletionRequest{})
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, mock.CallCount())
}
