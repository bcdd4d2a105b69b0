package routing

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/ai-task-router/internal/providers"
	"github.com/tributary-ai/ai-task-router/internal/types"
)

// QuotaTracker answers admission questions and records consumption
type QuotaTracker interface {
	CanUseProvider(provider *types.ProviderConfig) bool
	Acquire(provider *types.ProviderConfig, reserve int) bool
	Release(providerType string, reserve int)
	TrackUsage(providerType string, amount int)
	Status(provider *types.ProviderConfig) types.QuotaStatus
}

// AvailabilityTracker answers failover questions and records outcomes
type AvailabilityTracker interface {
	IsProviderAvailable(providerType string) bool
	RecordFailure(providerType string)
	RecordSuccess(providerType string)
	Status(providerType string) types.FailureStatus
}

// Engine selects providers for requests and drives the failover cascade
type Engine struct {
	catalog   []types.ProviderConfig
	quota     QuotaTracker
	failover  AvailabilityTracker
	transport providers.Transport
	logger    *logrus.Logger
}

// NewEngine creates a routing engine over a fixed catalog. Catalog order is
// the tie-break for equal priorities.
func NewEngine(catalog []types.ProviderConfig, quota QuotaTracker, failover AvailabilityTracker, transport providers.Transport, logger *logrus.Logger) (*Engine, error) {
	seen := make(map[string]bool, len(catalog))
	for _, p := range catalog {
		if p.Type == "" {
			return nil, fmt.Errorf("provider with empty type in catalog")
		}
		if seen[p.Type] {
			return nil, fmt.Errorf("duplicate provider type %q in catalog", p.Type)
		}
		seen[p.Type] = true
	}

	owned := make([]types.ProviderConfig, len(catalog))
	for i := range catalog {
		owned[i] = catalog[i].Clone()
	}

	return &Engine{
		catalog:   owned,
		quota:     quota,
		failover:  failover,
		transport: transport,
		logger:    logger,
	}, nil
}

// SelectProvider returns a copy of the best eligible provider for req, or
// nil when nothing is eligible. It never dispatches and never mutates state.
func (e *Engine) SelectProvider(req *types.AIRequest) *types.ProviderConfig {
	candidates, _ := e.rank(req)
	if len(candidates) == 0 {
		return nil
	}
	selected := candidates[0].Clone()
	return &selected
}

// Candidates returns copies of the full ranked cascade for req
func (e *Engine) Candidates(req *types.AIRequest) []types.ProviderConfig {
	candidates, _ := e.rank(req)
	cascade := make([]types.ProviderConfig, 0, len(candidates))
	for _, p := range candidates {
		cascade = append(cascade, p.Clone())
	}
	return cascade
}

// Decide explains how req would be routed without dispatching it
func (e *Engine) Decide(req *types.AIRequest) (*RoutingDecision, error) {
	normalized, err := normalizeRequest(req)
	if err != nil {
		return nil, err
	}

	candidates, excluded := e.rank(normalized)

	decision := &RoutingDecision{
		RequestID: normalized.ID,
		TaskType:  normalized.TaskType,
		Cascade:   make([]Candidate, 0, len(candidates)),
		Excluded:  excluded,
		Timestamp: time.Now(),
	}
	for _, p := range candidates {
		decision.Cascade = append(decision.Cascade, Candidate{
			Provider:     p.Type,
			Model:        p.ResolveModel(normalized),
			Priority:     p.Priority,
			CostPerToken: p.CostPerToken,
		})
	}
	if len(decision.Cascade) > 0 {
		top := decision.Cascade[0]
		decision.SelectedProvider = top.Provider
		decision.SelectedModel = top.Model
		decision.EstimatedCostPerToken = top.CostPerToken
	}
	return decision, nil
}

// ProcessRequest routes req through its cascade until one provider succeeds.
// It fails with ErrNoSuitableProvider when the cascade is empty and with an
// *ExhaustedError when every candidate failed.
func (e *Engine) ProcessRequest(ctx context.Context, req *types.AIRequest) (*types.AIResponse, error) {
	normalized, err := normalizeRequest(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	logger := e.logger.WithFields(logrus.Fields{
		"request_id": normalized.ID,
		"task_type":  normalized.TaskType,
	})

	cascade, _ := e.rank(normalized)
	if len(cascade) == 0 {
		logger.WithField("model", normalized.Model).Warn("No suitable provider for request")
		return nil, fmt.Errorf("%w for task type %s and model %s", ErrNoSuitableProvider, normalized.TaskType, normalized.Model)
	}

	// Daily units held per attempt until the real usage is known
	reserve := normalized.MaxTokens + providers.EstimateTokens(normalized.Prompt, "")

	var attempts []Attempt
	for _, provider := range cascade {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("request cancelled: %w", err)
		}

		model := provider.ResolveModel(normalized)
		attemptLogger := logger.WithFields(logrus.Fields{
			"provider": provider.Type,
			"model":    model,
			"attempt":  len(attempts) + 1,
		})

		// Another request may have taken the last slot since ranking
		if !e.quota.Acquire(provider, reserve) {
			attemptLogger.Debug("Skipping provider, quota taken by concurrent requests")
			continue
		}

		result, err := e.transport.Dispatch(ctx, provider, model, normalized)
		if err != nil {
			e.quota.Release(provider.Type, reserve)

			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("request cancelled during dispatch to %s: %w", provider.Type, ctxErr)
			}

			e.failover.RecordFailure(provider.Type)
			attempts = append(attempts, Attempt{Provider: provider.Type, Model: model, Err: err})
			attemptLogger.WithError(err).Warn("Provider attempt failed, advancing cascade")
			continue
		}

		// Usage lands before the reservation is freed so neither window dips
		e.quota.TrackUsage(provider.Type, result.TokensUsed)
		e.quota.Release(provider.Type, reserve)
		e.failover.RecordSuccess(provider.Type)

		response := &types.AIResponse{
			RequestID:  normalized.ID,
			Content:    result.Content,
			Provider:   provider.Type,
			Model:      model,
			TokensUsed: result.TokensUsed,
			Cost:       float64(result.TokensUsed) * provider.CostPerToken,
			Attempts:   len(attempts) + 1,
			Latency:    time.Since(start),
		}

		attemptLogger.WithFields(logrus.Fields{
			"tokens":      response.TokensUsed,
			"cost":        response.Cost,
			"duration_ms": response.Latency.Milliseconds(),
		}).Info("Request routed")

		return response, nil
	}

	if len(attempts) == 0 {
		logger.Warn("Every candidate lost its quota before dispatch")
		return nil, fmt.Errorf("%w: every candidate reached its quota", ErrNoSuitableProvider)
	}

	exhausted := &ExhaustedError{Attempts: attempts}
	logger.WithFields(logrus.Fields{
		"attempts":  len(attempts),
		"providers": exhausted.Providers(),
	}).Error("All providers exhausted")
	return nil, exhausted
}

// ProviderStatuses reports catalog and runtime state for every provider in
// catalog order
func (e *Engine) ProviderStatuses() []types.ProviderStatus {
	statuses := make([]types.ProviderStatus, 0, len(e.catalog))
	for i := range e.catalog {
		statuses = append(statuses, e.status(&e.catalog[i]))
	}
	return statuses
}

// ProviderStatus reports the state of a single provider
func (e *Engine) ProviderStatus(providerType string) (types.ProviderStatus, bool) {
	provider := e.lookup(providerType)
	if provider == nil {
		return types.ProviderStatus{}, false
	}
	return e.status(provider), true
}

// LookupProvider returns the catalog entry of providerType
func (e *Engine) LookupProvider(providerType string) (types.ProviderConfig, bool) {
	provider := e.lookup(providerType)
	if provider == nil {
		return types.ProviderConfig{}, false
	}
	return provider.Clone(), true
}

// Catalog returns a deep copy of the provider catalog
func (e *Engine) Catalog() []types.ProviderConfig {
	catalog := make([]types.ProviderConfig, len(e.catalog))
	for i := range e.catalog {
		catalog[i] = e.catalog[i].Clone()
	}
	return catalog
}

func (e *Engine) status(provider *types.ProviderConfig) types.ProviderStatus {
	return types.ProviderStatus{
		Type:      provider.Type,
		Enabled:   provider.Enabled,
		Priority:  provider.Priority,
		Models:    slices.Clone(provider.Models),
		TaskTypes: slices.Clone(provider.TaskTypes),
		FreeTier:  provider.IsFreeTier(),
		Quota:     e.quota.Status(provider),
		Failover:  e.failover.Status(provider.Type),
	}
}

func (e *Engine) lookup(providerType string) *types.ProviderConfig {
	for i := range e.catalog {
		if e.catalog[i].Type == providerType {
			return &e.catalog[i]
		}
	}
	return nil
}

// rank filters the catalog for req and orders survivors by priority. Static
// checks run before runtime ones, and each excluded provider keeps the first
// reason it failed.
func (e *Engine) rank(req *types.AIRequest) ([]*types.ProviderConfig, map[string]string) {
	var candidates []*types.ProviderConfig
	excluded := make(map[string]string)

	for i := range e.catalog {
		provider := &e.catalog[i]

		switch {
		case !provider.Enabled:
			excluded[provider.Type] = ReasonDisabled
		case !provider.SupportsTask(req.TaskType):
			excluded[provider.Type] = ReasonTaskType
		case !req.WantsAutoModel() && !provider.SupportsModel(req.Model):
			excluded[provider.Type] = ReasonModel
		case !e.failover.IsProviderAvailable(provider.Type):
			excluded[provider.Type] = ReasonFailoverOpen
		case !e.quota.CanUseProvider(provider):
			excluded[provider.Type] = ReasonQuotaExhausted
		default:
			candidates = append(candidates, provider)
			continue
		}

		e.logger.WithFields(logrus.Fields{
			"provider": provider.Type,
			"reason":   excluded[provider.Type],
		}).Debug("Provider excluded")
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})
	return candidates, excluded
}

// normalizeRequest returns a validated copy of req with its id and model
// filled in. The caller's request is left untouched.
func normalizeRequest(req *types.AIRequest) (*types.AIRequest, error) {
	if req == nil {
		return nil, &types.ValidationError{Message: "request is required"}
	}

	normalized := *req
	if normalized.ID == "" {
		normalized.ID = uuid.NewString()
	}
	if normalized.Model == "" {
		normalized.Model = types.ModelAuto
	}
	if err := normalized.Validate(); err != nil {
		return nil, err
	}
	return &normalized, nil
}
