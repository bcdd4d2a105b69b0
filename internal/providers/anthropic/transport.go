package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/ai-task-router/internal/providers"
	"github.com/tributary-ai/ai-task-router/internal/types"
)

// Transport dispatches requests to the Anthropic Messages API
type Transport struct {
	logger *logrus.Logger
	opts   []option.RequestOption

	clients map[string]*anthropic.Client
	mutex   sync.Mutex
}

// NewTransport creates an Anthropic transport. opts are applied to every
// client after the provider's own key and base URL.
func NewTransport(logger *logrus.Logger, opts ...option.RequestOption) *Transport {
	return &Transport{
		logger:  logger,
		opts:    opts,
		clients: make(map[string]*anthropic.Client),
	}
}

// Name returns the transport name
func (t *Transport) Name() string {
	return types.TransportAnthropic
}

// Dispatch sends req as a single user message
func (t *Transport) Dispatch(ctx context.Context, provider *types.ProviderConfig, model string, req *types.AIRequest) (*types.DispatchResult, error) {
	client := t.clientFor(provider)

	resp, err := client.Messages.New(ctx, buildParams(model, req))
	if err != nil {
		t.logger.WithError(err).WithField("provider", provider.Type).Warn("Anthropic API call failed")
		return nil, providers.NewTransportError(provider.Type, statusCode(err), fmt.Errorf("anthropic api call failed: %w", err))
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if content.Len() == 0 {
		return nil, providers.NewTransportError(provider.Type, 0, fmt.Errorf("%w: no text blocks", providers.ErrMalformedResponse))
	}

	return &types.DispatchResult{
		Content:    content.String(),
		TokensUsed: int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}, nil
}

func (t *Transport) clientFor(provider *types.ProviderConfig) *anthropic.Client {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if client, ok := t.clients[provider.Type]; ok {
		return client
	}

	opts := []option.RequestOption{
		option.WithAPIKey(provider.APIKey),
		// The router owns failover, so the SDK must not retry on its own
		option.WithMaxRetries(0),
	}
	if provider.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(provider.BaseURL))
	}
	opts = append(opts, t.opts...)

	client := anthropic.NewClient(opts...)
	t.clients[provider.Type] = &client
	return &client
}

// buildParams converts an AIRequest into Messages API parameters
func buildParams(model string, req *types.AIRequest) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*req.Temperature))
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(float64(*req.TopP))
	}
	if len(req.Stop) > 0 {
		stop := make([]string, len(req.Stop))
		copy(stop, req.Stop)
		params.StopSequences = stop
	}
	return params
}

func statusCode(err error) int {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

var _ providers.Transport = (*Transport)(nil)
