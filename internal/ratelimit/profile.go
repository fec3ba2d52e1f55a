// Package ratelimit implements the fixed-window request gate sitting in
// front of every enqueue-side call: auth endpoints, the HTTP API, campaign
// sends, data import/export, and webhook delivery. The closed profile set
// below mirrors the namespace/policy split in
// _examples/defmans7-notifuse/pkg/ratelimiter/ratelimiter.go, generalized
// from in-process-only to the shared-store adapter.
package ratelimit

import "time"

// Profile is a closed enum of named rate-limit configurations. Unknown
// profile names never panic — ResolveProfile falls back to Standard.
type Profile string

const (
	AuthStrict         Profile = "AUTH_STRICT"
	AuthNormal         Profile = "AUTH_NORMAL"
	APIStandard        Profile = "API_STANDARD"
	APIHeavy           Profile = "API_HEAVY"
	APIBurst           Profile = "API_BURST"
	EmailSending       Profile = "EMAIL_SENDING"
	EmailBurst         Profile = "EMAIL_BURST"
	CampaignCreation   Profile = "CAMPAIGN_CREATION"
	CampaignSending    Profile = "CAMPAIGN_SENDING"
	DataImport         Profile = "DATA_IMPORT"
	DataExport         Profile = "DATA_EXPORT"
	AnalyticsHeavy     Profile = "ANALYTICS_HEAVY"
	PublicAPIIP        Profile = "PUBLIC_API_IP"
	WebhookProcessing  Profile = "WEBHOOK_PROCESSING"
)

// Policy is the static {window, max, message} configuration behind a
// Profile, named RatePolicy in the teacher and renamed here to avoid
// colliding with Profile's own zero-value semantics.
type Policy struct {
	Window  time.Duration
	Max     int64
	Message string
}

var policies = map[Profile]Policy{
	AuthStrict:        {Window: 15 * time.Minute, Max: 5, Message: "Too many authentication attempts, please try again later"},
	AuthNormal:        {Window: 15 * time.Minute, Max: 10, Message: "Too many requests, please try again later"},
	APIStandard:       {Window: time.Hour, Max: 1000, Message: "API rate limit exceeded"},
	APIHeavy:          {Window: time.Hour, Max: 200, Message: "API rate limit exceeded for this operation"},
	APIBurst:          {Window: time.Minute, Max: 100, Message: "Too many requests in a short period"},
	EmailSending:      {Window: time.Hour, Max: 1000, Message: "Email sending rate limit exceeded"},
	EmailBurst:        {Window: time.Minute, Max: 50, Message: "Email burst rate limit exceeded"},
	CampaignCreation:  {Window: time.Hour, Max: 100, Message: "Campaign creation rate limit exceeded"},
	CampaignSending:   {Window: time.Hour, Max: 10, Message: "Campaign sending rate limit exceeded"},
	DataImport:        {Window: time.Hour, Max: 5, Message: "Data import rate limit exceeded"},
	DataExport:        {Window: time.Hour, Max: 10, Message: "Data export rate limit exceeded"},
	AnalyticsHeavy:    {Window: time.Hour, Max: 100, Message: "Analytics rate limit exceeded"},
	PublicAPIIP:       {Window: time.Hour, Max: 10000, Message: "Rate limit exceeded for this IP address"},
	WebhookProcessing: {Window: time.Minute, Max: 1000, Message: "Webhook processing rate limit exceeded"},
}

// ResolveProfile returns the Policy for name, falling back to API_STANDARD
// for anything unrecognized per the "unknown profile names must not
// throw" rule.
func ResolveProfile(name Profile) (Profile, Policy) {
	if p, ok := policies[name]; ok {
		return name, p
	}
	return APIStandard, policies[APIStandard]
}
