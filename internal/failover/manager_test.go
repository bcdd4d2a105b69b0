package failover

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/tributary-ai/ai-task-router/internal/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(clock *fakeClock, cooldown time.Duration) *Manager {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewManager(&Config{DisableThreshold: 5, Cooldown: cooldown}, logger, WithClock(clock.Now))
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(nil, logrus.New())

	assert.Equal(t, DefaultDisableThreshold, m.config.DisableThreshold)
	assert.Equal(t, DefaultCooldown, m.config.Cooldown)
	assert.Equal(t, 5, DefaultDisableThreshold)
	assert.Equal(t, 5*time.Minute, DefaultCooldown)
}

func TestManager_UnknownProviderIsAvailable(t *testing.T) {
	m := newTestManager(&fakeClock{now: time.Now()}, time.Minute)

	assert.True(t, m.IsProviderAvailable("never-seen"))
}

func TestManager_FailuresBelowThresholdKeepProviderAvailable(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := newTestManager(clock, time.Minute)

	for i := 1; i <= 4; i++ {
		m.RecordFailure("groq")
		assert.True(t, m.IsProviderAvailable("groq"), "after %d failures", i)
	}
	assert.Equal(t, types.CircuitHealthy, m.Status("groq").State)
	assert.Equal(t, 4, m.Status("groq").ConsecutiveFailures)
}

func TestManager_FifthFailureDisablesProvider(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := newTestManager(clock, time.Minute)

	for i := 0; i < 5; i++ {
		m.RecordFailure("groq")
	}

	assert.False(t, m.IsProviderAvailable("groq"))
	assert.False(t, m.IsProviderAvailable("groq"), "repeated checks must agree")

	status := m.Status("groq")
	assert.Equal(t, types.CircuitOpen, status.State)
	assert.Equal(t, 5, status.ConsecutiveFailures)
	assert.Equal(t, clock.Now().Add(time.Minute), status.RetryAt)
}

func TestManager_CooldownRecoversAutomatically(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := newTestManager(clock, time.Minute)

	for i := 0; i < 5; i++ {
		m.RecordFailure("groq")
	}
	require.False(t, m.IsProviderAvailable("groq"))

	clock.Advance(59 * time.Second)
	assert.False(t, m.IsProviderAvailable("groq"))

	clock.Advance(time.Second)
	assert.True(t, m.IsProviderAvailable("groq"))
	assert.Equal(t, types.CircuitHealthy, m.Status("groq").State)
}

func TestManager_FailureAfterCooldownStartsFreshCount(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := newTestManager(clock, time.Minute)

	for i := 0; i < 5; i++ {
		m.RecordFailure("groq")
	}
	clock.Advance(2 * time.Minute)

	m.RecordFailure("groq")
	assert.True(t, m.IsProviderAvailable("groq"))
	assert.Equal(t, 1, m.Status("groq").ConsecutiveFailures)
}

func TestManager_RecordSuccessResetsCount(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := newTestManager(clock, time.Minute)

	for i := 0; i < 5; i++ {
		m.RecordFailure("groq")
	}
	require.False(t, m.IsProviderAvailable("groq"))

	m.RecordSuccess("groq")
	assert.True(t, m.IsProviderAvailable("groq"))

	for i := 0; i < 4; i++ {
		m.RecordFailure("groq")
	}
	assert.True(t, m.IsProviderAvailable("groq"))
}

func TestManager_RecordSuccess_UnknownProvider(t *testing.T) {
	m := newTestManager(&fakeClock{now: time.Now()}, time.Minute)

	assert.NotPanics(t, func() { m.RecordSuccess("missing") })
	assert.True(t, m.IsProviderAvailable("missing"))
}

func TestManager_ProvidersAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := newTestManager(clock, time.Minute)

	for i := 0; i < 5; i++ {
		m.RecordFailure("groq")
	}

	assert.False(t, m.IsProviderAvailable("groq"))
	assert.True(t, m.IsProviderAvailable("gemini"))
}

func TestManager_ConcurrentFailuresNotLost(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	m := NewManager(&Config{DisableThreshold: 1000, Cooldown: time.Hour}, logger, WithClock(clock.Now))

	var g errgroup.Group
	for i := 0; i < 250; i++ {
		g.Go(func() error {
			m.RecordFailure("groq")
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 250, m.Status("groq").ConsecutiveFailures)
}
