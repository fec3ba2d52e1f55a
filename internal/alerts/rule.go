// Package alerts implements the rule-driven alert manager from spec.md
// §4.5: threshold evaluation against the metrics collector, a forward-only
// incident lattice, and multi-channel notification dispatch.
package alerts

import "time"

// Condition is the comparison a Rule applies to a window-average metric
// value against Threshold.
type Condition string

const (
	GreaterThan        Condition = "gt"
	LessThan           Condition = "lt"
	Equal              Condition = "eq"
	NotEqual           Condition = "ne"
	GreaterThanOrEqual Condition = "gte"
	LessThanOrEqual    Condition = "lte"
)

func (c Condition) Evaluate(value, threshold float64) bool {
	switch c {
	case GreaterThan:
		return value > threshold
	case LessThan:
		return value < threshold
	case Equal:
		return value == threshold
	case NotEqual:
		return value != threshold
	case GreaterThanOrEqual:
		return value >= threshold
	case LessThanOrEqual:
		return value <= threshold
	default:
		return false
	}
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ChannelKind is the notification transport for a rule's firing.
type ChannelKind string

const (
	ChannelEmail   ChannelKind = "email"
	ChannelWebhook ChannelKind = "webhook"
	ChannelChat    ChannelKind = "chat"
	ChannelSMS     ChannelKind = "sms"
)

// Channel is one notification target attached to a Rule.
type Channel struct {
	Kind    ChannelKind       `json:"kind"`
	Config  map[string]string `json:"config"`
	Enabled bool              `json:"enabled"`
}

// Rule is the AlertRule entity from the data model.
type Rule struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Metric          string    `json:"metric"`
	Condition       Condition `json:"condition"`
	Threshold       float64   `json:"threshold"`
	DurationMinutes int       `json:"durationMinutes"`
	Severity        Severity  `json:"severity"`
	Enabled         bool      `json:"enabled"`
	Channels        []Channel `json:"channels"`
	CooldownMinutes int       `json:"cooldownMinutes"`

	lastChecked   time.Time
	lastTriggered time.Time
}

// DefaultRules returns the set registered on boot, per spec.md §4.5.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID: "high-api-latency", Name: "High API Latency", Metric: "api.latency",
			Condition: GreaterThan, Threshold: 2000, DurationMinutes: 2,
			Severity: SeverityHigh, Enabled: true, CooldownMinutes: 10,
		},
		{
			ID: "high-error-rate", Name: "High Error Rate", Metric: "api.errors",
			Condition: GreaterThan, Threshold: 5, DurationMinutes: 5,
			Severity: SeverityHigh, Enabled: true, CooldownMinutes: 10,
		},
		{
			ID: "memory-warn", Name: "Memory Usage Warning", Metric: "system.memory.usage_percent",
			Condition: GreaterThan, Threshold: 85, DurationMinutes: 5,
			Severity: SeverityMedium, Enabled: true, CooldownMinutes: 15,
		},
		{
			ID: "memory-critical", Name: "Memory Usage Critical", Metric: "system.memory.usage_percent",
			Condition: GreaterThan, Threshold: 95, DurationMinutes: 2,
			Severity: SeverityCritical, Enabled: true, CooldownMinutes: 5,
		},
		{
			ID: "webhook-burst", Name: "Webhook Burst", Metric: "ratelimit.hits",
			Condition: GreaterThan, Threshold: 100, DurationMinutes: 1,
			Severity: SeverityMedium, Enabled: true, CooldownMinutes: 5,
		},
		{
			ID: "email-bounce-rate", Name: "Email Bounce Rate", Metric: "email.bounced",
			Condition: GreaterThan, Threshold: 10, DurationMinutes: 10,
			Severity: SeverityMedium, Enabled: true, CooldownMinutes: 30,
		},
		{
			ID: "service-down", Name: "Service Down", Metric: "health.status",
			Condition: Equal, Threshold: 0, DurationMinutes: 1,
			Severity: SeverityCritical, Enabled: true, CooldownMinutes: 1,
		},
		// The following two have no Metric/Condition/Threshold: they are
		// raised directly by Manager.RaiseExternal from the rate-limit
		// monitor's event-driven detection rather than evaluated against a
		// Collector window on Tick.
		{
			ID: "ratelimit-suspicious-identifier", Name: "Suspicious Rate Limit Identifier",
			Severity: SeverityMedium, Enabled: true, CooldownMinutes: 15,
		},
		{
			ID: "ratelimit-high-block-rate", Name: "High Rate Limit Block Rate",
			Severity: SeverityHigh, Enabled: true, CooldownMinutes: 10,
		},
	}
}

type IncidentStatus string

const (
	IncidentOpen         IncidentStatus = "open"
	IncidentAcknowledged IncidentStatus = "acknowledged"
	IncidentResolved     IncidentStatus = "resolved"
)

// Incident is the AlertIncident entity; Status only ever advances along
// open -> acknowledged -> resolved.
type Incident struct {
	ID             string         `json:"id"`
	RuleID         string         `json:"ruleId"`
	Severity       Severity       `json:"severity"`
	Status         IncidentStatus `json:"status"`
	TriggeredAt    time.Time      `json:"triggeredAt"`
	AcknowledgedAt *time.Time     `json:"acknowledgedAt,omitempty"`
	ResolvedAt     *time.Time     `json:"resolvedAt,omitempty"`
	Value          float64        `json:"value"`
	Threshold      float64        `json:"threshold"`
	Detail         string         `json:"detail,omitempty"`
}

// Notification records one channel dispatch attempt against an incident.
type Notification struct {
	IncidentID string      `json:"incidentId"`
	Channel    ChannelKind `json:"channel"`
	Success    bool        `json:"success"`
	Error      string      `json:"error,omitempty"`
	SentAt     time.Time   `json:"sentAt"`
}
