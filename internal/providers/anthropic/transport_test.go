package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/ai-task-router/internal/providers"
	"github.com/tributary-ai/ai-task-router/internal/types"
)

func testProvider(baseURL string) *types.ProviderConfig {
	return &types.ProviderConfig{
		Type:      "anthropic",
		APIKey:    "sk-ant-test",
		BaseURL:   baseURL,
		Models:    []string{"claude-3-haiku-20240307"},
		Enabled:   true,
		TaskTypes: []types.TaskType{types.TaskWriting},
		Transport: types.TransportAnthropic,
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestTransport_Dispatch_Success(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-haiku-20240307",
			"content": [{"type": "text", "text": "Dear reader, "}, {"type": "text", "text": "hello."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 8}
		}`))
	}))
	defer server.Close()

	transport := NewTransport(quietLogger())
	req := &types.AIRequest{TaskType: types.TaskWriting, Prompt: "write a letter", SystemPrompt: "formal", MaxTokens: 200}

	result, err := transport.Dispatch(context.Background(), testProvider(server.URL), "claude-3-haiku-20240307", req)
	require.NoError(t, err)

	assert.Equal(t, "Dear reader, hello.", result.Content)
	assert.Equal(t, 20, result.TokensUsed)
	assert.Equal(t, "claude-3-haiku-20240307", received["model"])
	assert.EqualValues(t, 200, received["max_tokens"])
	assert.NotNil(t, received["system"])
}

func TestTransport_Dispatch_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"type": "error", "error": {"type": "overloaded_error", "message": "Overloaded"}}`))
	}))
	defer server.Close()

	transport := NewTransport(quietLogger())
	req := &types.AIRequest{TaskType: types.TaskWriting, Prompt: "hi", MaxTokens: 10}

	_, err := transport.Dispatch(context.Background(), testProvider(server.URL), "claude-3-haiku-20240307", req)
	require.Error(t, err)

	var transportErr *providers.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.StatusServiceUnavailable, transportErr.StatusCode)
}

func TestTransport_Name(t *testing.T) {
	assert.Equal(t, "anthropic", NewTransport(quietLogger()).Name())
}

func TestBuildParams(t *testing.T) {
	topP := float32(0.9)
	req := &types.AIRequest{
		TaskType:  types.TaskReview,
		Prompt:    "review this",
		MaxTokens: 50,
		TopP:      &topP,
		Stop:      []string{"END"},
	}

	params := buildParams("claude-3-5-sonnet-20241022", req)

	assert.Equal(t, anthropic.Model("claude-3-5-sonnet-20241022"), params.Model)
	assert.Equal(t, int64(50), params.MaxTokens)
	assert.Equal(t, []string{"END"}, params.StopSequences)
	assert.Empty(t, params.System)
	require.Len(t, params.Messages, 1)
}
