// Package quota tracks per-provider daily usage and short-window request
// rates and answers admission questions against them.
package quota

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/ai-task-router/internal/types"
)

// DefaultRateWindow is the rate_limit window when none is configured
const DefaultRateWindow = time.Minute

// Config holds quota window configuration
type Config struct {
	// RateWindow is the fixed window rate_limit is counted over
	RateWindow time.Duration `yaml:"rate_window"`

	// Location decides when the daily window rolls over
	Location *time.Location `yaml:"-"`
}

// Manager owns all quota state, keyed by provider type
type Manager struct {
	config *Config
	logger *logrus.Logger
	now    func() time.Time

	counters map[string]*usageCounter
	mutex    sync.RWMutex
}

// usageCounter is the quota record of a single provider
type usageCounter struct {
	mutex sync.Mutex

	day       string
	dailyUsed int

	windowStart    time.Time
	windowRequests int

	// requests admitted by Acquire that have not finished yet, and the
	// daily units they hold until their real usage is known
	inFlight      int
	dailyReserved int
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces the wall clock, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a quota manager
func NewManager(config *Config, logger *logrus.Logger, opts ...Option) *Manager {
	if config == nil {
		config = &Config{}
	}
	if config.RateWindow <= 0 {
		config.RateWindow = DefaultRateWindow
	}
	if config.Location == nil {
		config.Location = time.UTC
	}

	m := &Manager{
		config:   config,
		logger:   logger,
		now:      time.Now,
		counters: make(map[string]*usageCounter),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CanUseProvider reports whether provider is under both its daily budget and
// its short-window rate limit. It never mutates state.
func (m *Manager) CanUseProvider(provider *types.ProviderConfig) bool {
	counter := m.lookup(provider.Type)
	if counter == nil {
		return admits(provider, 0, 0)
	}

	day, windowStart := m.windowKeys()

	counter.mutex.Lock()
	defer counter.mutex.Unlock()

	daily, window := counter.effective(day, windowStart)
	return admits(provider, daily+counter.dailyReserved, window+counter.inFlight)
}

// Acquire atomically re-checks admission and, when admitted, reserves an
// in-flight request slot against the rate window and reserve units against
// the daily budget. Reserved units count as used until Release, so
// concurrent requests cannot all pass a nearly spent budget. Every
// successful Acquire must be paired with Release of the same reserve.
func (m *Manager) Acquire(provider *types.ProviderConfig, reserve int) bool {
	if reserve < 1 {
		reserve = 1
	}

	counter := m.getOrCreate(provider.Type)
	day, windowStart := m.windowKeys()

	counter.mutex.Lock()
	defer counter.mutex.Unlock()

	counter.roll(day, windowStart)
	if !admits(provider, counter.dailyUsed+counter.dailyReserved, counter.windowRequests+counter.inFlight) {
		m.logger.WithFields(logrus.Fields{
			"provider":        provider.Type,
			"daily_used":      counter.dailyUsed,
			"daily_reserved":  counter.dailyReserved,
			"daily_limit":     provider.DailyLimit,
			"window_requests": counter.windowRequests,
			"in_flight":       counter.inFlight,
			"rate_limit":      provider.RateLimit,
		}).Debug("Quota admission denied")
		return false
	}

	counter.inFlight++
	counter.dailyReserved += reserve
	return true
}

// Release frees the slot and daily reserve taken by Acquire. Call it after
// TrackUsage on success so the real usage lands before the reserve drops.
func (m *Manager) Release(providerType string, reserve int) {
	if reserve < 1 {
		reserve = 1
	}

	counter := m.lookup(providerType)
	if counter == nil {
		return
	}

	counter.mutex.Lock()
	defer counter.mutex.Unlock()

	if counter.inFlight > 0 {
		counter.inFlight--
	}
	counter.dailyReserved = maxInt(counter.dailyReserved-reserve, 0)
}

// TrackUsage records one successful dispatch: amount is added to the daily
// budget and the request counts once against the rate window. amount 0 is
// legal and only moves the rate window.
func (m *Manager) TrackUsage(providerType string, amount int) {
	if amount < 0 {
		m.logger.WithFields(logrus.Fields{
			"provider": providerType,
			"amount":   amount,
		}).Warn("Negative usage amount ignored")
		amount = 0
	}

	counter := m.getOrCreate(providerType)
	day, windowStart := m.windowKeys()

	counter.mutex.Lock()
	counter.roll(day, windowStart)
	counter.dailyUsed += amount
	counter.windowRequests++
	daily := counter.dailyUsed
	counter.mutex.Unlock()

	m.logger.WithFields(logrus.Fields{
		"provider":   providerType,
		"amount":     amount,
		"daily_used": daily,
	}).Debug("Usage tracked")
}

// Status returns a snapshot of provider's quota counters
func (m *Manager) Status(provider *types.ProviderConfig) types.QuotaStatus {
	day, windowStart := m.windowKeys()

	status := types.QuotaStatus{
		Provider:      provider.Type,
		Day:           day,
		DailyLimit:    provider.DailyLimit,
		RateLimit:     provider.RateLimit,
		WindowResetAt: windowStart.Add(m.config.RateWindow),
	}

	if counter := m.lookup(provider.Type); counter != nil {
		counter.mutex.Lock()
		status.DailyUsed, status.WindowRequests = counter.effective(day, windowStart)
		status.InFlight = counter.inFlight
		status.DailyReserved = counter.dailyReserved
		counter.mutex.Unlock()
	}

	status.DailyRemaining = -1
	if !provider.UnlimitedDaily() {
		status.DailyRemaining = maxInt(provider.DailyLimit-status.DailyUsed-status.DailyReserved, 0)
	}
	status.Available = admits(provider, status.DailyUsed+status.DailyReserved, status.WindowRequests+status.InFlight)
	return status
}

// Reset drops all counters of a provider
func (m *Manager) Reset(providerType string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.counters, providerType)
	m.logger.WithField("provider", providerType).Info("Quota counters reset")
}

// windowKeys returns the current day key and rate window start
func (m *Manager) windowKeys() (string, time.Time) {
	now := m.now()
	return now.In(m.config.Location).Format("2006-01-02"), now.Truncate(m.config.RateWindow)
}

func (m *Manager) lookup(providerType string) *usageCounter {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.counters[providerType]
}

func (m *Manager) getOrCreate(providerType string) *usageCounter {
	if counter := m.lookup(providerType); counter != nil {
		return counter
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	counter, exists := m.counters[providerType]
	if !exists {
		counter = &usageCounter{}
		m.counters[providerType] = counter
	}
	return counter
}

// roll lazily starts a new day or rate window. Caller holds c.mutex.
func (c *usageCounter) roll(day string, windowStart time.Time) {
	if c.day != day {
		c.day = day
		c.dailyUsed = 0
	}
	if !c.windowStart.Equal(windowStart) {
		c.windowStart = windowStart
		c.windowRequests = 0
	}
}

// effective returns the counters as they would be after roll, without
// writing them. Caller holds c.mutex.
func (c *usageCounter) effective(day string, windowStart time.Time) (daily, window int) {
	if c.day == day {
		daily = c.dailyUsed
	}
	if c.windowStart.Equal(windowStart) {
		window = c.windowRequests
	}
	return daily, window
}

func admits(provider *types.ProviderConfig, daily, window int) bool {
	if !provider.UnlimitedDaily() && daily >= provider.DailyLimit {
		return false
	}
	if !provider.UnlimitedRate() && window >= provider.RateLimit {
		return false
	}
	return true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
