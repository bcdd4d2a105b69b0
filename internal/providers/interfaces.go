package providers

import (
	"context"

	"github.com/tributary-ai/ai-task-router/internal/types"
)

// Transport performs one generation call against one provider. It returns
// content and token usage, or an error describing why the attempt failed.
type Transport interface {
	Name() string
	Dispatch(ctx context.Context, provider *types.ProviderConfig, model string, req *types.AIRequest) (*types.DispatchResult, error)
}

// HealthChecker is implemented by transports that can probe a provider
// without spending a generation call
type HealthChecker interface {
	Transport
	HealthCheck(ctx context.Context, provider *types.ProviderConfig) error
}
