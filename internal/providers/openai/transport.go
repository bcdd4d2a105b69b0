package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/ai-task-router/internal/providers"
	"github.com/tributary-ai/ai-task-router/internal/types"
)

// Transport dispatches requests to OpenAI and OpenAI-compatible endpoints.
// One client is kept per provider since key and base URL differ per entry.
type Transport struct {
	logger     *logrus.Logger
	httpClient *http.Client

	clients map[string]*openai.Client
	mutex   sync.Mutex
}

// NewTransport creates an OpenAI transport
func NewTransport(logger *logrus.Logger) *Transport {
	return &Transport{
		logger:  logger,
		clients: make(map[string]*openai.Client),
	}
}

// WithHTTPClient makes every client created afterwards use httpClient
func (t *Transport) WithHTTPClient(httpClient *http.Client) *Transport {
	t.httpClient = httpClient
	return t
}

// Name returns the transport name
func (t *Transport) Name() string {
	return types.TransportOpenAI
}

// Dispatch performs a chat completion for req against provider
func (t *Transport) Dispatch(ctx context.Context, provider *types.ProviderConfig, model string, req *types.AIRequest) (*types.DispatchResult, error) {
	client := t.clientFor(provider)

	resp, err := client.CreateChatCompletion(ctx, buildRequest(model, req))
	if err != nil {
		t.logger.WithError(err).WithField("provider", provider.Type).Warn("OpenAI API call failed")
		return nil, providers.NewTransportError(provider.Type, statusCode(err), fmt.Errorf("openai api call failed: %w", err))
	}

	if len(resp.Choices) == 0 {
		return nil, providers.NewTransportError(provider.Type, 0, fmt.Errorf("%w: no choices", providers.ErrMalformedResponse))
	}

	return &types.DispatchResult{
		Content:    resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// HealthCheck lists models as a cheap liveness probe
func (t *Transport) HealthCheck(ctx context.Context, provider *types.ProviderConfig) error {
	if _, err := t.clientFor(provider).ListModels(ctx); err != nil {
		return fmt.Errorf("openai health check failed: %w", err)
	}
	return nil
}

func (t *Transport) clientFor(provider *types.ProviderConfig) *openai.Client {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if client, ok := t.clients[provider.Type]; ok {
		return client
	}

	clientConfig := openai.DefaultConfig(provider.APIKey)
	if provider.BaseURL != "" {
		clientConfig.BaseURL = provider.BaseURL
	}
	if t.httpClient != nil {
		clientConfig.HTTPClient = t.httpClient
	}

	client := openai.NewClientWithConfig(clientConfig)
	t.clients[provider.Type] = client
	return client
}

// buildRequest converts an AIRequest into a single-turn chat completion
func buildRequest(model string, req *types.AIRequest) openai.ChatCompletionRequest {
	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Stop:      req.Stop,
	}
	if req.Temperature != nil {
		chatReq.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		chatReq.TopP = *req.TopP
	}
	return chatReq
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

var _ providers.HealthChecker = (*Transport)(nil)
