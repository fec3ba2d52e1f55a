package queue

import (
	"sync"
	"time"
)

// CircuitBreakerConfig configures a per-integration circuit breaker.
type CircuitBreakerConfig struct {
	Threshold      int
	CooldownPeriod time.Duration
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{Threshold: 5, CooldownPeriod: time.Minute}
}

// circuitBreaker tracks one integration's open/closed state. Ported from
// _examples/defmans7-notifuse/internal/service/queue/circuit_breaker.go,
// generalized away from emailerror.ClassifiedError so it can protect any
// external dependency a worker calls (email transport, webhook delivery,
// etc.), not only email providers. Every recorded failure counts toward
// the threshold, whatever its error kind.
type circuitBreaker struct {
	mu             sync.RWMutex
	failures       int
	threshold      int
	cooldownPeriod time.Duration
	lastFailure    time.Time
	lastError      error
	isOpen         bool
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, cooldownPeriod: cooldown}
}

// IsOpen reports whether the circuit is currently open, auto-resetting it
// once the cooldown period has elapsed since the last recorded failure.
func (cb *circuitBreaker) IsOpen() bool {
	cb.mu.RLock()
	open := cb.isOpen
	last := cb.lastFailure
	cb.mu.RUnlock()
	if !open {
		return false
	}
	if time.Since(last) <= cb.cooldownPeriod {
		return true
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.isOpen && time.Since(cb.lastFailure) > cb.cooldownPeriod {
		cb.isOpen = false
		cb.failures = 0
		cb.lastError = nil
	}
	return cb.isOpen
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.lastError = nil
	cb.isOpen = false
}

func (cb *circuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = time.Now()
	cb.lastError = err
	if cb.failures >= cb.threshold {
		cb.isOpen = true
	}
}

// CircuitBreakerStats is a snapshot of one integration's breaker state.
type CircuitBreakerStats struct {
	IsOpen       bool
	Failures     int
	Threshold    int
	LastFailure  time.Time
	CooldownLeft time.Duration
}

// IntegrationCircuitBreaker keys a circuitBreaker per external dependency
// id (an email provider integration, a webhook endpoint, etc.) so a single
// flaky dependency never starves unrelated work in the same queue.
type IntegrationCircuitBreaker struct {
	mu       sync.Mutex
	breakers map[string]*circuitBreaker
	config   CircuitBreakerConfig
}

func NewIntegrationCircuitBreaker(config CircuitBreakerConfig) *IntegrationCircuitBreaker {
	if config.Threshold == 0 {
		config.Threshold = 5
	}
	if config.CooldownPeriod == 0 {
		config.CooldownPeriod = time.Minute
	}
	return &IntegrationCircuitBreaker{breakers: make(map[string]*circuitBreaker), config: config}
}

func (icb *IntegrationCircuitBreaker) getOrCreate(id string) *circuitBreaker {
	icb.mu.Lock()
	defer icb.mu.Unlock()
	cb, ok := icb.breakers[id]
	if !ok {
		cb = newCircuitBreaker(icb.config.Threshold, icb.config.CooldownPeriod)
		icb.breakers[id] = cb
	}
	return cb
}

func (icb *IntegrationCircuitBreaker) IsOpen(id string) bool {
	icb.mu.Lock()
	cb, ok := icb.breakers[id]
	icb.mu.Unlock()
	if !ok {
		return false
	}
	return cb.IsOpen()
}

func (icb *IntegrationCircuitBreaker) RecordSuccess(id string) {
	icb.getOrCreate(id).RecordSuccess()
}

func (icb *IntegrationCircuitBreaker) RecordFailure(id string, err error) {
	icb.getOrCreate(id).RecordFailure(err)
}

func (icb *IntegrationCircuitBreaker) GetStats() map[string]CircuitBreakerStats {
	icb.mu.Lock()
	defer icb.mu.Unlock()
	out := make(map[string]CircuitBreakerStats, len(icb.breakers))
	for id, cb := range icb.breakers {
		cb.mu.RLock()
		stat := CircuitBreakerStats{IsOpen: cb.isOpen, Failures: cb.failures, Threshold: cb.threshold}
		if !cb.lastFailure.IsZero() {
			stat.LastFailure = cb.lastFailure
			if cb.isOpen {
				if left := cb.cooldownPeriod - time.Since(cb.lastFailure); left > 0 {
					stat.CooldownLeft = left
				}
			}
		}
		cb.mu.RUnlock()
		out[id] = stat
	}
	return out
}
