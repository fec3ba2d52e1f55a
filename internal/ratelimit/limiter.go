package ratelimit

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/campaignforge/engine/internal/store"
	"github.com/campaignforge/engine/pkg/logger"
)

// Result is the outcome of a Check call, carrying the headers callers are
// expected to surface on a 429 response.
type Result struct {
	Allowed       bool
	Limit         int64
	Remaining     int64
	ResetAt       time.Time
	RetryAfterSec int64
}

// Limiter is a fixed-window counter over the shared store. Keys are
// composed as "ratelimit:{profile}:{identifier}" so that checks against
// different profiles for the same identifier never interact, and an empty
// identifier is treated as its own distinct bucket per the data model.
type Limiter struct {
	store   store.Store
	log     logger.Logger
	monitor *Monitor
}

func NewLimiter(s store.Store, log logger.Logger) *Limiter {
	return &Limiter{store: s, log: log}
}

// WithMonitor attaches the adjacent-facility Monitor so every Check outcome
// also feeds its suspicious-identifier / high-block-rate detection, per
// spec.md §4.2. Nil-safe at the Check call site, added as a setter rather
// than widening the constructor so existing callers/tests are unaffected.
func (l *Limiter) WithMonitor(m *Monitor) *Limiter {
	l.monitor = m
	return l
}

func (l *Limiter) key(profile Profile, identifier string) string {
	return "ratelimit:" + string(profile) + ":" + identifier
}

// Check implements the fixed-window algorithm: the expire on the counter
// key is only armed when the increment just created the window (value ==
// 1), so repeated hits inside the window never push resetAt forward.
func (l *Limiter) Check(ctx context.Context, identifier string, profile Profile) (Result, error) {
	name, policy := ResolveProfile(profile)
	countKey := l.key(name, identifier)
	resetKey := countKey + ":resetat"

	count, err := l.store.Incr(ctx, countKey)
	if err != nil {
		// Shared-store failures inside the rate limiter are swallowed; the
		// caller proceeds under a safe allow with the profile's full quota.
		if l.log != nil {
			l.log.WithField("error", err.Error()).Warn("rate limiter store incr failed, allowing by default")
		}
		result := Result{Allowed: true, Limit: policy.Max, Remaining: policy.Max, ResetAt: time.Now().Add(policy.Window)}
		l.record(identifier, name, result)
		return result, nil
	}

	var resetAt time.Time
	if count == 1 {
		resetAt = time.Now().Add(policy.Window)
		pipe := l.store.Pipeline()
		pipe.Expire(ctx, countKey, policy.Window)
		if _, err := pipe.Exec(ctx); err != nil && l.log != nil {
			l.log.WithField("error", err.Error()).Warn("rate limiter failed to arm window expiry")
		}
		if err := l.store.SetEx(ctx, resetKey, strconv.FormatInt(resetAt.Unix(), 10), policy.Window); err != nil && l.log != nil {
			l.log.WithField("error", err.Error()).Warn("rate limiter failed to persist resetAt")
		}
	} else {
		resetAt = l.readResetAt(ctx, resetKey, policy.Window)
	}

	if count > policy.Max {
		retryAfter := int64(math.Ceil(time.Until(resetAt).Seconds()))
		if retryAfter < 0 {
			retryAfter = 0
		}
		result := Result{Allowed: false, Limit: policy.Max, Remaining: 0, ResetAt: resetAt, RetryAfterSec: retryAfter}
		l.record(identifier, name, result)
		return result, nil
	}

	remaining := policy.Max - count
	if remaining < 0 {
		remaining = 0
	}
	result := Result{Allowed: true, Limit: policy.Max, Remaining: remaining, ResetAt: resetAt}
	l.record(identifier, name, result)
	return result, nil
}

// record feeds the Check outcome to the attached Monitor, if any, without
// touching the hot path's store round-trips.
func (l *Limiter) record(identifier string, profile Profile, result Result) {
	if l.monitor == nil {
		return
	}
	l.monitor.Record(Event{Identifier: identifier, Profile: profile, Allowed: result.Allowed, At: time.Now()})
}

func (l *Limiter) readResetAt(ctx context.Context, resetKey string, window time.Duration) time.Time {
	v, ok, err := l.store.Get(ctx, resetKey)
	if err != nil || !ok {
		return time.Now().Add(window)
	}
	unix, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Now().Add(window)
	}
	return time.Unix(unix, 0)
}

// Reset deletes the counter and resetAt entries for identifier under
// profile, effectively clearing its current window.
func (l *Limiter) Reset(ctx context.Context, identifier string, profile Profile) error {
	name, _ := ResolveProfile(profile)
	countKey := l.key(name, identifier)
	if err := l.store.Del(ctx, countKey); err != nil {
		return err
	}
	return l.store.Del(ctx, countKey+":resetat")
}

// Remaining is a read-only query; it does not consume a hit.
func (l *Limiter) Remaining(ctx context.Context, identifier string, profile Profile) (int64, error) {
	name, policy := ResolveProfile(profile)
	v, ok, err := l.store.Get(ctx, l.key(name, identifier))
	if err != nil {
		return policy.Max, err
	}
	if !ok {
		return policy.Max, nil
	}
	count, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return policy.Max, nil
	}
	remaining := policy.Max - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// ResetAt is a read-only query for the window's expiry.
func (l *Limiter) ResetAt(ctx context.Context, identifier string, profile Profile) (time.Time, error) {
	name, policy := ResolveProfile(profile)
	return l.readResetAt(ctx, l.key(name, identifier)+":resetat", policy.Window), nil
}
