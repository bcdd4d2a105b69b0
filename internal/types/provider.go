package types

import (
	"slices"
	"time"
)

// Transport kinds understood by the provider registry
const (
	TransportOpenAI    = "openai"
	TransportAnthropic = "anthropic"
	TransportHTTP      = "http"
)

// ProviderConfig is one static catalog entry. The router never mutates it.
type ProviderConfig struct {
	Type         string     `yaml:"type" json:"type" validate:"required"`
	APIKey       string     `yaml:"api_key" json:"-"`
	APIKeyEnv    string     `yaml:"api_key_env" json:"-"`
	Models       []string   `yaml:"models" json:"models" validate:"required,min=1,dive,required"`
	DailyLimit   int        `yaml:"daily_limit" json:"daily_limit" validate:"gte=0"`
	RateLimit    int        `yaml:"rate_limit" json:"rate_limit" validate:"gte=0"`
	CostPerToken float64    `yaml:"cost_per_token" json:"cost_per_token" validate:"gte=0"`
	Priority     int        `yaml:"priority" json:"priority"`
	Enabled      bool       `yaml:"enabled" json:"enabled"`
	TaskTypes    []TaskType `yaml:"task_types" json:"task_types" validate:"required,min=1"`

	// Transport wiring
	Transport string        `yaml:"transport" json:"transport" validate:"omitempty,oneof=openai anthropic http"`
	BaseURL   string        `yaml:"base_url" json:"base_url,omitempty"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout,omitempty"`

	// Response extraction for the generic http transport (gjson paths)
	ContentPath string `yaml:"content_path" json:"content_path,omitempty"`
	TokensPath  string `yaml:"tokens_path" json:"tokens_path,omitempty"`
}

// Clone returns a deep copy that shares no slices with p
func (p *ProviderConfig) Clone() ProviderConfig {
	clone := *p
	clone.Models = slices.Clone(p.Models)
	clone.TaskTypes = slices.Clone(p.TaskTypes)
	return clone
}

// IsFreeTier reports whether the provider is used without credentials
func (p *ProviderConfig) IsFreeTier() bool {
	return p.APIKey == ""
}

// SupportsTask reports whether t is in the provider's task set
func (p *ProviderConfig) SupportsTask(t TaskType) bool {
	for _, supported := range p.TaskTypes {
		if supported == t {
			return true
		}
	}
	return false
}

// SupportsModel reports whether the provider can serve model
func (p *ProviderConfig) SupportsModel(model string) bool {
	for _, m := range p.Models {
		if m == model {
			return true
		}
	}
	return false
}

// ResolveModel picks the concrete model for a request: the provider's
// first-preference model for "auto", otherwise the requested one.
func (p *ProviderConfig) ResolveModel(req *AIRequest) string {
	if req.WantsAutoModel() {
		if len(p.Models) == 0 {
			return ""
		}
		return p.Models[0]
	}
	return req.Model
}

// UnlimitedDaily reports whether the daily budget is disabled (0)
func (p *ProviderConfig) UnlimitedDaily() bool {
	return p.DailyLimit <= 0
}

// UnlimitedRate reports whether the short-window rate limit is disabled (0)
func (p *ProviderConfig) UnlimitedRate() bool {
	return p.RateLimit <= 0
}
