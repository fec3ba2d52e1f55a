package alerts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConditionEvaluate(t *testing.T) {
	assert.True(t, GreaterThan.Evaluate(10, 5))
	assert.False(t, GreaterThan.Evaluate(5, 10))
	assert.True(t, LessThan.Evaluate(3, 5))
	assert.True(t, Equal.Evaluate(0, 0))
	assert.True(t, NotEqual.Evaluate(1, 0))
	assert.True(t, GreaterThanOrEqual.Evaluate(5, 5))
	assert.True(t, LessThanOrEqual.Evaluate(5, 5))
	assert.False(t, Condition("bogus").Evaluate(1, 1))
}

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()
	assert.Len(t, rules, 9)
	// The two rate-limit rules are raised by Manager.RaiseExternal from
	// ratelimit.Monitor alerts rather than evaluated against a metric
	// window, so they carry no Metric/Condition/Threshold.
	externallyRaised := map[string]bool{
		"ratelimit-suspicious-identifier": true,
		"ratelimit-high-block-rate":       true,
	}
	seen := make(map[string]bool)
	for _, r := range rules {
		assert.True(t, r.Enabled)
		if !externallyRaised[r.ID] {
			assert.NotEmpty(t, r.Metric)
		}
		seen[r.ID] = true
	}
	assert.True(t, seen["high-api-latency"])
	assert.True(t, seen["memory-critical"])
	assert.True(t, seen["service-down"])
	assert.True(t, seen["ratelimit-suspicious-identifier"])
	assert.True(t, seen["ratelimit-high-block-rate"])
}
