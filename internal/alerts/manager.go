package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campaignforge/engine/internal/errs"
	"github.com/campaignforge/engine/internal/metrics"
	"github.com/campaignforge/engine/pkg/logger"
)

// IncidentRepository is the narrow durable dependency for incident
// persistence; internal/durable provides the concrete implementations.
type IncidentRepository interface {
	Upsert(ctx context.Context, inc *Incident) error
	Get(ctx context.Context, id string) (*Incident, error)
	FindOpenByRule(ctx context.Context, ruleID string) (*Incident, error)
	RecordNotification(ctx context.Context, n *Notification) error
}

// Notifier dispatches one channel's notification for a firing incident.
// notify.go's dispatcher is the concrete implementation.
type Notifier interface {
	Dispatch(ctx context.Context, rule Rule, inc Incident, ch Channel) error
}

// Manager owns the rule registry, evaluates it on a cron-driven tick wired
// by internal/scheduler, and drives the incident lifecycle. Single-flighting
// per rule mirrors the `isRunning` guard from spec.md §5: a sync.Map keyed
// by rule ID rather than a single mutex, since independent rules must
// evaluate concurrently.
type Manager struct {
	mu      sync.RWMutex
	rules   map[string]*Rule
	running sync.Map // ruleID -> struct{}

	collector *metrics.Collector
	repo      IncidentRepository
	notifier  Notifier
	log       logger.Logger
}

func NewManager(collector *metrics.Collector, repo IncidentRepository, notifier Notifier, log logger.Logger) *Manager {
	m := &Manager{
		rules:     make(map[string]*Rule),
		collector: collector,
		repo:      repo,
		notifier:  notifier,
		log:       log,
	}
	for _, r := range DefaultRules() {
		rule := r
		m.rules[rule.ID] = &rule
	}
	return m
}

func (m *Manager) Register(r Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ID] = &r
}

func (m *Manager) Rule(id string) (Rule, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return Rule{}, false
	}
	return *r, true
}

func (m *Manager) Rules() []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, *r)
	}
	return out
}

// Tick evaluates every enabled rule concurrently; each rule's own
// evaluation is single-flighted against overlap with a prior tick that is
// still running (a slow metrics window read, for instance).
func (m *Manager) Tick(ctx context.Context) {
	m.mu.RLock()
	rules := make([]*Rule, 0, len(m.rules))
	for _, r := range m.rules {
		rules = append(rules, r)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if _, already := m.running.LoadOrStore(r.ID, struct{}{}); already {
			continue
		}
		wg.Add(1)
		go func(r *Rule) {
			defer wg.Done()
			defer m.running.Delete(r.ID)
			m.evaluate(ctx, r)
		}(r)
	}
	wg.Wait()
}

func (m *Manager) evaluate(ctx context.Context, r *Rule) {
	m.mu.Lock()
	if !r.lastTriggered.IsZero() && time.Since(r.lastTriggered) < time.Duration(r.CooldownMinutes)*time.Minute {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	buckets, err := m.collector.Window(ctx, r.Metric, r.DurationMinutes, 1)
	if err != nil || len(buckets) == 0 {
		if err != nil && m.log != nil {
			m.log.WithFields(map[string]interface{}{"rule": r.ID, "error": err.Error()}).Warn("alert rule evaluation failed")
		}
		return
	}
	avg := buckets[0].Avg

	m.mu.Lock()
	r.lastChecked = time.Now()
	m.mu.Unlock()

	if !r.Condition.Evaluate(avg, r.Threshold) {
		return
	}

	if m.repo != nil {
		existing, err := m.repo.FindOpenByRule(ctx, r.ID)
		if err == nil && existing != nil {
			return
		}
	}

	inc := Incident{
		ID:          uuid.NewString(),
		RuleID:      r.ID,
		Severity:    r.Severity,
		Status:      IncidentOpen,
		TriggeredAt: time.Now(),
		Value:       avg,
		Threshold:   r.Threshold,
	}
	if m.repo != nil {
		if err := m.repo.Upsert(ctx, &inc); err != nil && m.log != nil {
			m.log.WithField("error", err.Error()).Error("failed to persist alert incident")
		}
	}

	m.mu.Lock()
	r.lastTriggered = time.Now()
	m.mu.Unlock()

	m.dispatch(ctx, *r, inc)
}

// RaiseExternal creates and dispatches an incident for a condition detected
// outside the metric-threshold rule engine — currently the rate-limit
// monitor's suspicious-identifier / high-block-rate alerts (spec.md §4.2's
// adjacent facility, wired to this incident lifecycle per SPEC_FULL.md §5
// rather than floating standalone). ruleID must name a registered Rule so
// the incident carries its severity and notification channels; the single-
// open-incident-per-rule guard applies here too.
func (m *Manager) RaiseExternal(ctx context.Context, ruleID, detail string) error {
	rule, ok := m.Rule(ruleID)
	if !ok {
		return errs.NewNotFound("alert rule", ruleID)
	}
	if !rule.Enabled {
		return nil
	}

	if m.repo != nil {
		existing, err := m.repo.FindOpenByRule(ctx, ruleID)
		if err == nil && existing != nil {
			return nil
		}
	}

	inc := Incident{
		ID:          uuid.NewString(),
		RuleID:      ruleID,
		Severity:    rule.Severity,
		Status:      IncidentOpen,
		TriggeredAt: time.Now(),
		Detail:      detail,
	}
	if m.repo != nil {
		if err := m.repo.Upsert(ctx, &inc); err != nil && m.log != nil {
			m.log.WithField("error", err.Error()).Error("failed to persist alert incident")
		}
	}

	m.mu.Lock()
	if r, ok := m.rules[ruleID]; ok {
		r.lastTriggered = time.Now()
	}
	m.mu.Unlock()

	m.dispatch(ctx, rule, inc)
	return nil
}

// dispatch fans the incident out to every enabled channel on the rule.
// Failures on one channel never block the others (spec.md §4.5).
func (m *Manager) dispatch(ctx context.Context, r Rule, inc Incident) {
	if m.notifier == nil {
		return
	}
	for _, ch := range r.Channels {
		if !ch.Enabled {
			continue
		}
		n := &Notification{IncidentID: inc.ID, Channel: ch.Kind, SentAt: time.Now()}
		if err := m.notifier.Dispatch(ctx, r, inc, ch); err != nil {
			n.Success = false
			n.Error = err.Error()
			if m.log != nil {
				m.log.WithFields(map[string]interface{}{
					"incident": inc.ID, "channel": ch.Kind, "error": err.Error(),
				}).Warn("alert notification dispatch failed")
			}
		} else {
			n.Success = true
		}
		if m.repo != nil {
			_ = m.repo.RecordNotification(ctx, n)
		}
	}
}

// Acknowledge is only valid from IncidentOpen.
func (m *Manager) Acknowledge(ctx context.Context, id, by string) error {
	if m.repo == nil {
		return errs.New(errs.Internal, "ALERTS_NO_REPO", "incident repository not configured")
	}
	inc, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if inc == nil {
		return errs.NewNotFound("incident", id)
	}
	if inc.Status != IncidentOpen {
		return errs.New(errs.Validation, "INVALID_INCIDENT_TRANSITION",
			fmt.Sprintf("cannot acknowledge incident in status %q", inc.Status))
	}
	now := time.Now()
	inc.Status = IncidentAcknowledged
	inc.AcknowledgedAt = &now
	return m.repo.Upsert(ctx, inc)
}

// Resolve is valid from IncidentOpen or IncidentAcknowledged.
func (m *Manager) Resolve(ctx context.Context, id, by string) error {
	if m.repo == nil {
		return errs.New(errs.Internal, "ALERTS_NO_REPO", "incident repository not configured")
	}
	inc, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if inc == nil {
		return errs.NewNotFound("incident", id)
	}
	if inc.Status != IncidentOpen && inc.Status != IncidentAcknowledged {
		return errs.New(errs.Validation, "INVALID_INCIDENT_TRANSITION",
			fmt.Sprintf("cannot resolve incident in status %q", inc.Status))
	}
	now := time.Now()
	inc.Status = IncidentResolved
	inc.ResolvedAt = &now
	return m.repo.Upsert(ctx, inc)
}
