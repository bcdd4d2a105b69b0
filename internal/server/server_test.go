package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/ai-task-router/internal/auth"
	"github.com/tributary-ai/ai-task-router/internal/failover"
	"github.com/tributary-ai/ai-task-router/internal/providers"
	"github.com/tributary-ai/ai-task-router/internal/quota"
	"github.com/tributary-ai/ai-task-router/internal/routing"
	"github.com/tributary-ai/ai-task-router/internal/types"
)

type stubTransport struct {
	failing map[string]bool
}

func (s *stubTransport) Name() string { return "stub" }

func (s *stubTransport) Dispatch(ctx context.Context, provider *types.ProviderConfig, model string, req *types.AIRequest) (*types.DispatchResult, error) {
	if s.failing[provider.Type] {
		return nil, providers.NewTransportError(provider.Type, http.StatusServiceUnavailable, errors.New("overloaded"))
	}
	return &types.DispatchResult{Content: "ok from " + provider.Type, TokensUsed: 20}, nil
}

func (s *stubTransport) HealthCheck(ctx context.Context, provider *types.ProviderConfig) error {
	if s.failing[provider.Type] {
		return errors.New("probe failed")
	}
	return nil
}

func newTestServer(t *testing.T, failing ...string) (*Server, *stubTransport) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	catalog := []types.ProviderConfig{
		{Type: "primary", Models: []string{"big"}, Priority: 1, Enabled: true, TaskTypes: []types.TaskType{types.TaskCoding}, CostPerToken: 0.5},
		{Type: "secondary", Models: []string{"small"}, Priority: 2, Enabled: true, TaskTypes: []types.TaskType{types.TaskCoding, types.TaskChat}},
	}

	transport := &stubTransport{failing: make(map[string]bool)}
	for _, name := range failing {
		transport.failing[name] = true
	}

	engine, err := routing.NewEngine(catalog, quota.NewManager(nil, logger), failover.NewManager(nil, logger), transport, logger)
	require.NoError(t, err)

	return NewServer(engine, transport, &ServerConfig{Port: "0"}, logger), transport
}

func doRequest(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	return rec, decoded
}

func TestHandleTask_Success(t *testing.T) {
	s, _ := newTestServer(t)

	rec, body := doRequest(t, s, http.MethodPost, "/v1/tasks", `{"task_type": "coding", "prompt": "sort a slice", "max_tokens": 100}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "primary", body["provider"])
	assert.Equal(t, "big", body["model"])
	assert.Equal(t, "ok from primary", body["content"])
	assert.EqualValues(t, 20, body["tokens_used"])
	assert.EqualValues(t, 10, body["cost"])
	assert.NotEmpty(t, body["request_id"])
}

func TestHandleTask_Failover(t *testing.T) {
	s, _ := newTestServer(t, "primary")

	rec, body := doRequest(t, s, http.MethodPost, "/v1/tasks", `{"task_type": "coding", "prompt": "x", "max_tokens": 10}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "secondary", body["provider"])
	assert.EqualValues(t, 2, body["attempts"])
}

func TestHandleTask_Exhausted(t *testing.T) {
	s, _ := newTestServer(t, "primary", "secondary")

	rec, body := doRequest(t, s, http.MethodPost, "/v1/tasks", `{"task_type": "coding", "prompt": "x", "max_tokens": 10}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	errBody := body["error"].(map[string]interface{})
	assert.Len(t, errBody["attempts"], 2)
}

func TestHandleTask_NoSuitableProvider(t *testing.T) {
	s, _ := newTestServer(t)

	rec, _ := doRequest(t, s, http.MethodPost, "/v1/tasks", `{"task_type": "vision", "prompt": "x", "max_tokens": 10}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleTask_BadRequests(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"task_type": `},
		{"unknown task type", `{"task_type": "dancing", "prompt": "x", "max_tokens": 10}`},
		{"missing max tokens", `{"task_type": "coding", "prompt": "x"}`},
		{"missing prompt", `{"task_type": "coding", "max_tokens": 10}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := doRequest(t, s, http.MethodPost, "/v1/tasks", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleTask_RejectsNonJSON(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", strings.NewReader("prompt"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestHandleSelect_AcceptsJSONWithParameters(t *testing.T) {
	s, _ := newTestServer(t)

	for _, contentType := range []string{"application/json; charset=utf-8", "Application/JSON"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/routing/select", strings.NewReader(`{"task_type": "chat", "prompt": "hi", "max_tokens": 5}`))
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, contentType)
	}
}

func TestHandleSelect(t *testing.T) {
	s, _ := newTestServer(t)

	rec, body := doRequest(t, s, http.MethodPost, "/v1/routing/select", `{"task_type": "chat", "prompt": "hi", "max_tokens": 5}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "secondary", body["selected_provider"])
	assert.Equal(t, routing.ReasonTaskType, body["excluded"].(map[string]interface{})["primary"])

	rec, _ = doRequest(t, s, http.MethodPost, "/v1/routing/select", `{"task_type": "vision", "prompt": "hi", "max_tokens": 5}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleProviders(t *testing.T) {
	s, _ := newTestServer(t)

	rec, body := doRequest(t, s, http.MethodGet, "/v1/providers", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])

	rec, body = doRequest(t, s, http.MethodGet, "/v1/providers/secondary", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "secondary", body["type"])
	assert.Equal(t, true, body["free_tier"])

	rec, _ = doRequest(t, s, http.MethodGet, "/v1/providers/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHealthCheck(t *testing.T) {
	s, _ := newTestServer(t)

	rec, body := doRequest(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 2, body["available_providers"])
}

func TestHandleProviderHealth(t *testing.T) {
	s, _ := newTestServer(t, "secondary")

	rec, body := doRequest(t, s, http.MethodGet, "/v1/health/primary", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	rec, body = doRequest(t, s, http.MethodGet, "/v1/health/secondary", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "probe failed", body["error"])

	rec, _ = doRequest(t, s, http.MethodGet, "/v1/health/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthMiddleware_GuardsAPIOnly(t *testing.T) {
	s, _ := newTestServer(t)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	authenticator := auth.NewAuthenticator(&auth.Config{RequireAuth: true, JWTSecret: "s3cret"}, logger)
	s.Use(authenticator.Middleware)

	rec, _ := doRequest(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doRequest(t, s, http.MethodGet, "/v1/providers", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := authenticator.IssueToken("reviewer-bot", []string{"review"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", strings.NewReader(`{"task_type": "coding", "prompt": "x", "max_tokens": 10}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
