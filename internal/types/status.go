package types

import (
	"time"
)

// CircuitState is the availability state of a provider as seen by failover
type CircuitState string

const (
	CircuitHealthy CircuitState = "healthy"
	CircuitOpen    CircuitState = "open"
)

// QuotaStatus is a point-in-time view of one provider's quota counters
type QuotaStatus struct {
	Provider       string    `json:"provider"`
	Day            string    `json:"day"`
	DailyUsed      int       `json:"daily_used"`
	DailyReserved  int       `json:"daily_reserved"`
	DailyLimit     int       `json:"daily_limit"`
	DailyRemaining int       `json:"daily_remaining"` // -1 when unlimited
	WindowRequests int       `json:"window_requests"`
	InFlight       int       `json:"in_flight"`
	RateLimit      int       `json:"rate_limit"`
	WindowResetAt  time.Time `json:"window_reset_at"`
	Available      bool      `json:"available"`
}

// FailureStatus is a point-in-time view of one provider's failure counters
type FailureStatus struct {
	Provider            string       `json:"provider"`
	State               CircuitState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastFailure         time.Time    `json:"last_failure,omitempty"`
	RetryAt             time.Time    `json:"retry_at,omitempty"`
}

// ProviderStatus combines catalog data with runtime quota and failure state
type ProviderStatus struct {
	Type      string        `json:"type"`
	Enabled   bool          `json:"enabled"`
	Priority  int           `json:"priority"`
	Models    []string      `json:"models"`
	TaskTypes []TaskType    `json:"task_types"`
	FreeTier  bool          `json:"free_tier"`
	Quota     QuotaStatus   `json:"quota"`
	Failover  FailureStatus `json:"failover"`
}
