package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/timeout"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/ai-task-router/internal/types"
)

// DefaultAttemptTimeout bounds a single dispatch when nothing else is configured
const DefaultAttemptTimeout = 60 * time.Second

// Registry resolves the transport for each provider and enforces the
// per-attempt timeout. It satisfies Transport itself, so the router only
// ever talks to a Registry.
type Registry struct {
	byKind     map[string]Transport
	byProvider map[string]Transport
	mutex      sync.RWMutex

	defaultTimeout time.Duration
	logger         *logrus.Logger
}

// NewRegistry creates an empty transport registry
func NewRegistry(defaultTimeout time.Duration, logger *logrus.Logger) *Registry {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultAttemptTimeout
	}
	return &Registry{
		byKind:         make(map[string]Transport),
		byProvider:     make(map[string]Transport),
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

// RegisterKind makes transport serve every provider whose transport kind matches
func (r *Registry) RegisterKind(kind string, transport Transport) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.byKind[kind] = transport
	r.logger.WithFields(logrus.Fields{
		"kind":      kind,
		"transport": transport.Name(),
	}).Info("Transport registered")
}

// RegisterProvider pins transport to a single provider type, overriding its kind
func (r *Registry) RegisterProvider(providerType string, transport Transport) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.byProvider[providerType] = transport
}

// Resolve returns the transport that serves provider
func (r *Registry) Resolve(provider *types.ProviderConfig) (Transport, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if transport, ok := r.byProvider[provider.Type]; ok {
		return transport, true
	}
	kind := provider.Transport
	if kind == "" {
		kind = types.TransportOpenAI
	}
	transport, ok := r.byKind[kind]
	return transport, ok
}

// Name implements Transport
func (r *Registry) Name() string {
	return "registry"
}

// Dispatch runs one attempt against provider under its own timeout. Any
// failure other than cancellation of ctx comes back as a *TransportError.
func (r *Registry) Dispatch(ctx context.Context, provider *types.ProviderConfig, model string, req *types.AIRequest) (*types.DispatchResult, error) {
	transport, ok := r.Resolve(provider)
	if !ok {
		return nil, NewTransportError(provider.Type, 0, fmt.Errorf("%w for kind %q", ErrNoTransport, provider.Transport))
	}

	limit := provider.Timeout
	if limit <= 0 {
		limit = r.defaultTimeout
	}
	policy := timeout.NewBuilder[*types.DispatchResult](limit).Build()

	start := time.Now()
	result, err := failsafe.With[*types.DispatchResult](policy).
		WithContext(ctx).
		GetWithExecution(func(exec failsafe.Execution[*types.DispatchResult]) (*types.DispatchResult, error) {
			return transport.Dispatch(exec.Context(), provider, model, req)
		})

	if err != nil {
		// Cancellation by the caller is not the provider's fault
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if IsTransportError(err) {
			return nil, err
		}
		if errors.Is(err, timeout.ErrExceeded) {
			err = fmt.Errorf("attempt timed out after %s: %w", limit, err)
		}
		return nil, NewTransportError(provider.Type, 0, err)
	}

	if result == nil || strings.TrimSpace(result.Content) == "" {
		return nil, NewTransportError(provider.Type, 0, fmt.Errorf("%w: empty content", ErrMalformedResponse))
	}
	if result.TokensUsed < 0 {
		return nil, NewTransportError(provider.Type, 0, fmt.Errorf("%w: negative token usage", ErrMalformedResponse))
	}
	if result.TokensUsed == 0 {
		result.TokensUsed = EstimateTokens(req.Prompt, result.Content)
		r.logger.WithFields(logrus.Fields{
			"provider": provider.Type,
			"tokens":   result.TokensUsed,
		}).Debug("Provider reported no usage, estimated from text")
	}

	r.logger.WithFields(logrus.Fields{
		"provider":    provider.Type,
		"transport":   transport.Name(),
		"model":       model,
		"tokens":      result.TokensUsed,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Dispatch completed")

	return result, nil
}

// HealthCheck probes provider through its transport when it supports it
func (r *Registry) HealthCheck(ctx context.Context, provider *types.ProviderConfig) error {
	transport, ok := r.Resolve(provider)
	if !ok {
		return fmt.Errorf("%w for provider %s", ErrNoTransport, provider.Type)
	}
	checker, ok := transport.(HealthChecker)
	if !ok {
		return nil
	}
	return checker.HealthCheck(ctx, provider)
}

// EstimateTokens approximates token usage at four characters per token
func EstimateTokens(prompt, content string) int {
	chars := len(prompt) + len(content)
	if chars == 0 {
		return 0
	}
	return (chars + 3) / 4
}

var _ Transport = (*Registry)(nil)
