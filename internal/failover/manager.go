// Package failover tracks consecutive provider failures and temporarily takes
// providers out of rotation once they cross a threshold.
package failover

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/ai-task-router/internal/types"
)

const (
	// DefaultDisableThreshold is the consecutive failure count used when none is configured
	DefaultDisableThreshold = 5

	// DefaultCooldown is how long a disabled provider sits out when none is configured
	DefaultCooldown = 5 * time.Minute
)

// Config holds failover policy
type Config struct {
	// DisableThreshold is the consecutive failure count that opens a provider
	DisableThreshold int `yaml:"disable_threshold"`

	// Cooldown is how long an open provider stays out of rotation
	Cooldown time.Duration `yaml:"cooldown"`
}

// Manager owns all failure state, keyed by provider type
type Manager struct {
	config *Config
	logger *logrus.Logger
	now    func() time.Time

	records map[string]*failureRecord
	mutex   sync.RWMutex
}

type failureRecord struct {
	mutex       sync.Mutex
	failures    int
	lastFailure time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces the wall clock, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a failover manager
func NewManager(config *Config, logger *logrus.Logger, opts ...Option) *Manager {
	if config == nil {
		config = &Config{}
	}
	if config.DisableThreshold <= 0 {
		config.DisableThreshold = DefaultDisableThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultCooldown
	}

	m := &Manager{
		config:  config,
		logger:  logger,
		now:     time.Now,
		records: make(map[string]*failureRecord),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordFailure counts one more consecutive failure for providerType. A
// failure arriving after the cooldown has elapsed starts a fresh count.
func (m *Manager) RecordFailure(providerType string) {
	record := m.getOrCreate(providerType)
	now := m.now()

	record.mutex.Lock()
	if record.failures > 0 && m.expired(record, now) {
		record.failures = 0
	}
	record.failures++
	record.lastFailure = now
	failures := record.failures
	record.mutex.Unlock()

	fields := logrus.Fields{
		"provider": providerType,
		"failures": failures,
	}
	if failures == m.config.DisableThreshold {
		m.logger.WithFields(fields).WithField("cooldown", m.config.Cooldown).Warn("Provider disabled after consecutive failures")
		return
	}
	m.logger.WithFields(fields).Debug("Provider failure recorded")
}

// RecordSuccess clears the consecutive failure count
func (m *Manager) RecordSuccess(providerType string) {
	record := m.lookup(providerType)
	if record == nil {
		return
	}

	record.mutex.Lock()
	wasOpen := record.failures >= m.config.DisableThreshold
	record.failures = 0
	record.lastFailure = time.Time{}
	record.mutex.Unlock()

	if wasOpen {
		m.logger.WithField("provider", providerType).Info("Provider recovered")
	}
}

// IsProviderAvailable reports false only while the provider has reached the
// threshold and is still inside its cooldown.
func (m *Manager) IsProviderAvailable(providerType string) bool {
	record := m.lookup(providerType)
	if record == nil {
		return true
	}

	now := m.now()

	record.mutex.Lock()
	defer record.mutex.Unlock()

	return !m.open(record, now)
}

// Status returns a snapshot of providerType's failure state
func (m *Manager) Status(providerType string) types.FailureStatus {
	status := types.FailureStatus{
		Provider: providerType,
		State:    types.CircuitHealthy,
	}

	record := m.lookup(providerType)
	if record == nil {
		return status
	}

	now := m.now()

	record.mutex.Lock()
	defer record.mutex.Unlock()

	if m.expired(record, now) {
		return status
	}
	status.ConsecutiveFailures = record.failures
	status.LastFailure = record.lastFailure
	if m.open(record, now) {
		status.State = types.CircuitOpen
		status.RetryAt = record.lastFailure.Add(m.config.Cooldown)
	}
	return status
}

// open reports whether record currently blocks its provider. Caller holds
// record.mutex.
func (m *Manager) open(record *failureRecord, now time.Time) bool {
	return record.failures >= m.config.DisableThreshold && !m.expired(record, now)
}

// expired reports whether the cooldown has elapsed since the last failure.
// Caller holds record.mutex.
func (m *Manager) expired(record *failureRecord, now time.Time) bool {
	return !now.Before(record.lastFailure.Add(m.config.Cooldown))
}

func (m *Manager) lookup(providerType string) *failureRecord {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.records[providerType]
}

func (m *Manager) getOrCreate(providerType string) *failureRecord {
	if record := m.lookup(providerType); record != nil {
		return record
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	record, exists := m.records[providerType]
	if !exists {
		record = &failureRecord{}
		m.records[providerType] = record
	}
	return record
}
