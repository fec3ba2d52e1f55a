package metrics

import "context"

// Shortcuts bundles the well-known metric names from spec.md §4.5 behind
// named methods so callers never hand-type a metric string.
type Shortcuts struct {
	c *Collector
}

func NewShortcuts(c *Collector) *Shortcuts { return &Shortcuts{c: c} }

func (s *Shortcuts) APILatency(ctx context.Context, ms float64, route string) {
	s.c.Record(ctx, "api.latency", ms, map[string]string{"route": route})
}

func (s *Shortcuts) APIRequest(ctx context.Context, route, method string) {
	s.c.Record(ctx, "api.requests", 1, map[string]string{"route": route, "method": method})
}

func (s *Shortcuts) APIError(ctx context.Context, route string, status int) {
	s.c.Record(ctx, "api.errors", 1, map[string]string{"route": route})
}

func (s *Shortcuts) EmailSent(ctx context.Context)         { s.c.Record(ctx, "email.sent", 1, nil) }
func (s *Shortcuts) EmailDelivered(ctx context.Context)    { s.c.Record(ctx, "email.delivered", 1, nil) }
func (s *Shortcuts) EmailBounced(ctx context.Context)      { s.c.Record(ctx, "email.bounced", 1, nil) }
func (s *Shortcuts) EmailOpened(ctx context.Context)       { s.c.Record(ctx, "email.opened", 1, nil) }
func (s *Shortcuts) EmailClicked(ctx context.Context)      { s.c.Record(ctx, "email.clicked", 1, nil) }
func (s *Shortcuts) EmailUnsubscribed(ctx context.Context) { s.c.Record(ctx, "email.unsubscribed", 1, nil) }

func (s *Shortcuts) CampaignCreated(ctx context.Context)  { s.c.Record(ctx, "campaign.created", 1, nil) }
func (s *Shortcuts) CampaignSent(ctx context.Context)     { s.c.Record(ctx, "campaign.sent", 1, nil) }
func (s *Shortcuts) CampaignCompleted(ctx context.Context) { s.c.Record(ctx, "campaign.completed", 1, nil) }
func (s *Shortcuts) CampaignPaused(ctx context.Context)   { s.c.Record(ctx, "campaign.paused", 1, nil) }

func (s *Shortcuts) UserLogin(ctx context.Context)  { s.c.Record(ctx, "user.login", 1, nil) }
func (s *Shortcuts) UserLogout(ctx context.Context) { s.c.Record(ctx, "user.logout", 1, nil) }
func (s *Shortcuts) UserSignup(ctx context.Context) { s.c.Record(ctx, "user.signup", 1, nil) }
func (s *Shortcuts) UserActive(ctx context.Context)  { s.c.Record(ctx, "user.active", 1, nil) }

func (s *Shortcuts) RateLimitHit(ctx context.Context, profile string) {
	s.c.Record(ctx, "ratelimit.hits", 1, map[string]string{"profile": profile})
}
func (s *Shortcuts) RateLimitRemaining(ctx context.Context, profile string, remaining float64) {
	s.c.Record(ctx, "ratelimit.remaining", remaining, map[string]string{"profile": profile})
}
func (s *Shortcuts) RateLimitBlocked(ctx context.Context, profile string) {
	s.c.Record(ctx, "ratelimit.blocked", 1, map[string]string{"profile": profile})
}

func (s *Shortcuts) SystemHeapUsed(ctx context.Context, bytes float64) {
	s.c.Record(ctx, "system.memory.heap_used", bytes, nil)
}
func (s *Shortcuts) SystemHeapTotal(ctx context.Context, bytes float64) {
	s.c.Record(ctx, "system.memory.heap_total", bytes, nil)
}
func (s *Shortcuts) SystemRSS(ctx context.Context, bytes float64) {
	s.c.Record(ctx, "system.memory.rss", bytes, nil)
}
func (s *Shortcuts) SystemMemoryUsagePercent(ctx context.Context, pct float64) {
	s.c.Record(ctx, "system.memory.usage_percent", pct, nil)
}
func (s *Shortcuts) SystemUptime(ctx context.Context, seconds float64) {
	s.c.Record(ctx, "system.uptime", seconds, nil)
}
