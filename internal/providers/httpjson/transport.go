// Package httpjson dispatches requests to self-hosted or bespoke JSON
// endpoints. The request body is built with sjson and the answer is
// picked out of the response with gjson paths configured per provider.
package httpjson

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tributary-ai/ai-task-router/internal/providers"
	"github.com/tributary-ai/ai-task-router/internal/types"
)

const (
	DefaultContentPath = "content"
	DefaultTokensPath  = "tokens_used"

	maxResponseBytes = 4 << 20
)

// Transport posts a flat JSON document to provider.BaseURL
type Transport struct {
	client *http.Client
	logger *logrus.Logger
}

// NewTransport creates an http transport. A nil client means http.DefaultClient.
func NewTransport(client *http.Client, logger *logrus.Logger) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	return &Transport{client: client, logger: logger}
}

// Name returns the transport name
func (t *Transport) Name() string {
	return types.TransportHTTP
}

// Dispatch implements providers.Transport
func (t *Transport) Dispatch(ctx context.Context, provider *types.ProviderConfig, model string, req *types.AIRequest) (*types.DispatchResult, error) {
	if provider.BaseURL == "" {
		return nil, providers.NewTransportError(provider.Type, 0, fmt.Errorf("http transport requires base_url"))
	}

	body, err := buildBody(model, req)
	if err != nil {
		return nil, providers.NewTransportError(provider.Type, 0, fmt.Errorf("failed to build request body: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewTransportError(provider.Type, 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if provider.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+provider.APIKey)
	}
	if req.ID != "" {
		httpReq.Header.Set("X-Request-ID", req.ID)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, providers.NewTransportError(provider.Type, 0, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, providers.NewTransportError(provider.Type, resp.StatusCode, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		t.logger.WithFields(logrus.Fields{
			"provider": provider.Type,
			"status":   resp.StatusCode,
		}).Warn("HTTP provider returned error status")
		return nil, providers.NewTransportError(provider.Type, resp.StatusCode, fmt.Errorf("unexpected status: %s", errorMessage(payload)))
	}

	return parseResponse(provider, payload)
}

func buildBody(model string, req *types.AIRequest) ([]byte, error) {
	body := []byte(`{}`)
	var err error

	set := func(path string, value interface{}) {
		if err != nil {
			return
		}
		body, err = sjson.SetBytes(body, path, value)
	}

	// Extra goes first so the fields below always win
	for key, value := range req.Extra {
		set(escapeKey(key), value)
	}

	set("model", model)
	set("prompt", req.Prompt)
	set("max_tokens", req.MaxTokens)
	set("task_type", string(req.TaskType))
	if req.SystemPrompt != "" {
		set("system_prompt", req.SystemPrompt)
	}
	if req.Temperature != nil {
		set("temperature", *req.Temperature)
	}
	if req.TopP != nil {
		set("top_p", *req.TopP)
	}
	if len(req.Stop) > 0 {
		set("stop", req.Stop)
	}
	return body, err
}

func parseResponse(provider *types.ProviderConfig, payload []byte) (*types.DispatchResult, error) {
	if !gjson.ValidBytes(payload) {
		return nil, providers.NewTransportError(provider.Type, 0, fmt.Errorf("%w: invalid json", providers.ErrMalformedResponse))
	}

	contentPath := provider.ContentPath
	if contentPath == "" {
		contentPath = DefaultContentPath
	}
	tokensPath := provider.TokensPath
	if tokensPath == "" {
		tokensPath = DefaultTokensPath
	}

	content := gjson.GetBytes(payload, contentPath)
	if !content.Exists() || content.Type != gjson.String {
		return nil, providers.NewTransportError(provider.Type, 0, fmt.Errorf("%w: no string at %q", providers.ErrMalformedResponse, contentPath))
	}

	return &types.DispatchResult{
		Content:    content.String(),
		TokensUsed: int(gjson.GetBytes(payload, tokensPath).Int()),
	}, nil
}

// errorMessage extracts a readable message from common error envelopes
func errorMessage(payload []byte) string {
	for _, path := range []string{"error.message", "error", "message"} {
		if result := gjson.GetBytes(payload, path); result.Exists() && result.Type == gjson.String {
			return result.String()
		}
	}
	msg := strings.TrimSpace(string(payload))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// escapeKey keeps a top-level key from being read as an sjson path
func escapeKey(key string) string {
	replacer := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)
	return replacer.Replace(key)
}

var _ providers.Transport = (*Transport)(nil)
