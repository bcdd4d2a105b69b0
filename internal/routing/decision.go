package routing

import (
	"time"

	"github.com/tributary-ai/ai-task-router/internal/types"
)

// Exclusion reasons reported in a RoutingDecision
const (
	ReasonDisabled       = "disabled"
	ReasonTaskType       = "task type not supported"
	ReasonModel          = "model not served"
	ReasonFailoverOpen   = "failover cooldown"
	ReasonQuotaExhausted = "quota exhausted"
)

// RoutingDecision is a dry-run view of how a request would be routed
type RoutingDecision struct {
	RequestID string         `json:"request_id"`
	TaskType  types.TaskType `json:"task_type"`

	// SelectedProvider is empty when nothing is eligible
	SelectedProvider string `json:"selected_provider,omitempty"`
	SelectedModel    string `json:"selected_model,omitempty"`

	// Cascade is the full ranked candidate list, selected provider first
	Cascade []Candidate `json:"cascade"`

	// Excluded maps every filtered-out provider to the first reason it failed
	Excluded map[string]string `json:"excluded,omitempty"`

	EstimatedCostPerToken float64   `json:"estimated_cost_per_token"`
	Timestamp             time.Time `json:"timestamp"`
}

// Candidate is one ranked entry of a cascade
type Candidate struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Priority     int     `json:"priority"`
	CostPerToken float64 `json:"cost_per_token"`
}

// HasSelection reports whether any provider was eligible
func (d *RoutingDecision) HasSelection() bool {
	return d.SelectedProvider != ""
}
