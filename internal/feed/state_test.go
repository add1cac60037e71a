package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_StrictlyIncreasesUntilCap(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 30 * time.Second}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 5; attempt++ {
		d := b.Next(attempt)
		assert.Greater(t, d, prev, "attempt %d", attempt)
		prev = d
	}
	// 1s, 2s, 4s, 8s, 16s, then capped
	assert.Equal(t, 16*time.Second, b.Next(5))
	assert.Equal(t, 30*time.Second, b.Next(6))
	assert.Equal(t, 30*time.Second, b.Next(20))
}

func TestBackoff_InitialAboveCap(t *testing.T) {
	b := Backoff{Initial: time.Minute, Max: 30 * time.Second}
	assert.Equal(t, 30*time.Second, b.Next(1))
}

func TestCircuitBreaker_OpensAtMaxFailures(t *testing.T) {
	cb := circuitBreaker{maxFailures: 3, cooldown: time.Minute}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, cb.recordFailure(now))
	assert.False(t, cb.recordFailure(now))
	assert.True(t, cb.recordFailure(now))
	assert.True(t, cb.open(now))
	assert.False(t, cb.allow(now.Add(30*time.Second)))
}

func TestCircuitBreaker_CooldownResetsCounter(t *testing.T) {
	cb := circuitBreaker{maxFailures: 2, cooldown: time.Minute}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cb.recordFailure(now)
	cb.recordFailure(now)
	assert.False(t, cb.allow(now.Add(59*time.Second)))

	// cooldown elapsed: one attempt allowed, counter back at zero
	assert.True(t, cb.allow(now.Add(61*time.Second)))
	assert.Equal(t, 0, cb.failures)
	assert.False(t, cb.recordFailure(now.Add(62*time.Second)), "counting restarts from zero")
}

func TestCircuitBreaker_SuccessClearsEverything(t *testing.T) {
	cb := circuitBreaker{maxFailures: 2, cooldown: time.Minute}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cb.recordFailure(now)
	cb.recordFailure(now)
	cb.recordSuccess()

	assert.Equal(t, 0, cb.failures)
	assert.Equal(t, 0, cb.trips)
	assert.True(t, cb.allow(now))
}

func TestConnState_String(t *testing.T) {
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "circuit_open", StateCircuitOpen.String())
	assert.Equal(t, "reconnect_wait", StateReconnectWait.String())
}
