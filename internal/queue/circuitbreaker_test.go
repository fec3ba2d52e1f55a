package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntegrationCircuitBreaker_OpensAfterThresholdFailures(t *testing.T) {
	icb := NewIntegrationCircuitBreaker(CircuitBreakerConfig{Threshold: 3, CooldownPeriod: time.Minute})

	assert.False(t, icb.IsOpen("ses"))
	icb.RecordFailure("ses", errors.New("timeout"))
	icb.RecordFailure("ses", errors.New("timeout"))
	assert.False(t, icb.IsOpen("ses"))
	icb.RecordFailure("ses", errors.New("timeout"))
	assert.True(t, icb.IsOpen("ses"))
}

func TestIntegrationCircuitBreaker_TracksEachIntegrationIndependently(t *testing.T) {
	icb := NewIntegrationCircuitBreaker(CircuitBreakerConfig{Threshold: 1, CooldownPeriod: time.Minute})

	icb.RecordFailure("ses", errors.New("boom"))
	assert.True(t, icb.IsOpen("ses"))
	assert.False(t, icb.IsOpen("sendgrid"))
}

func TestIntegrationCircuitBreaker_RecoversAfterCooldownElapses(t *testing.T) {
	icb := NewIntegrationCircuitBreaker(CircuitBreakerConfig{Threshold: 1, CooldownPeriod: 10 * time.Millisecond})

	icb.RecordFailure("ses", errors.New("boom"))
	assert.True(t, icb.IsOpen("ses"))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, icb.IsOpen("ses"))
}

func TestIntegrationCircuitBreaker_RecordSuccessResetsFailureCount(t *testing.T) {
	icb := NewIntegrationCircuitBreaker(CircuitBreakerConfig{Threshold: 3, CooldownPeriod: time.Minute})

	icb.RecordFailure("ses", errors.New("x"))
	icb.RecordFailure("ses", errors.New("x"))
	icb.RecordSuccess("ses")
	icb.RecordFailure("ses", errors.New("x"))
	icb.RecordFailure("ses", errors.New("x"))
	assert.False(t, icb.IsOpen("ses"), "success should have reset the failure streak")
}

func TestIntegrationCircuitBreaker_UnknownIntegrationIsClosed(t *testing.T) {
	icb := NewIntegrationCircuitBreaker(DefaultCircuitBreakerConfig())
	assert.False(t, icb.IsOpen("never-seen"))
}

func TestIntegrationCircuitBreaker_GetStatsReportsFailuresAndOpenState(t *testing.T) {
	icb := NewIntegrationCircuitBreaker(CircuitBreakerConfig{Threshold: 2, CooldownPeriod: time.Minute})
	icb.RecordFailure("webhook", errors.New("conn refused"))
	icb.RecordFailure("webhook", errors.New("conn refused"))

	stats := icb.GetStats()
	s, ok := stats["webhook"]
	assert.True(t, ok)
	assert.True(t, s.IsOpen)
	assert.Equal(t, 2, s.Failures)
	assert.Equal(t, 2, s.Threshold)
	assert.False(t, s.LastFailure.IsZero())
	assert.True(t, s.CooldownLeft > 0)
}

func TestDefaultCircuitBreakerConfig_AppliesSaneDefaultsWhenZero(t *testing.T) {
	icb := NewIntegrationCircuitBreaker(CircuitBreakerConfig{})
	icb.RecordFailure("x", errors.New("e"))
	stats := icb.GetStats()
	assert.Equal(t, 5, stats["x"].Threshold)
}
