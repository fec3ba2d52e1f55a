package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter mirrors the same domain shortcuts onto a dedicated
// prometheus.Registry for scrape-based export, independent of the
// store-backed Collector (which callers use for the window/aggregate
// queries in §4.5). This is the one place client_golang is exercised.
type Exporter struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiErrors   *prometheus.CounterVec
	apiLatency  *prometheus.GaugeVec

	emailSent         prometheus.Counter
	emailDelivered    prometheus.Counter
	emailBounced      prometheus.Counter
	emailOpened       prometheus.Counter
	emailClicked      prometheus.Counter
	emailUnsubscribed prometheus.Counter

	campaignCreated   prometheus.Counter
	campaignSent      prometheus.Counter
	campaignCompleted prometheus.Counter
	campaignPaused    prometheus.Counter

	rateLimitHits    *prometheus.CounterVec
	rateLimitBlocked *prometheus.CounterVec

	systemMemoryUsagePercent prometheus.Gauge
	systemUptimeSeconds      prometheus.Gauge
}

func NewExporter() *Exporter {
	reg := prometheus.NewRegistry()
	namespace := "engine"

	e := &Exporter{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "api_requests_total", Help: "Total API requests.",
		}, []string{"route", "method"}),
		apiErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "api_errors_total", Help: "Total API errors.",
		}, []string{"route"}),
		apiLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "api_latency_ms", Help: "Last observed API latency in milliseconds.",
		}, []string{"route"}),
		emailSent:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "email_sent_total"}),
		emailDelivered:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "email_delivered_total"}),
		emailBounced:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "email_bounced_total"}),
		emailOpened:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "email_opened_total"}),
		emailClicked:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "email_clicked_total"}),
		emailUnsubscribed: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "email_unsubscribed_total"}),
		campaignCreated:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "campaign_created_total"}),
		campaignSent:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "campaign_sent_total"}),
		campaignCompleted: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "campaign_completed_total"}),
		campaignPaused:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "campaign_paused_total"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ratelimit_hits_total", Help: "Total rate-limit checks.",
		}, []string{"profile"}),
		rateLimitBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ratelimit_blocked_total", Help: "Total rate-limit denials.",
		}, []string{"profile"}),
		systemMemoryUsagePercent: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "system_memory_usage_percent"}),
		systemUptimeSeconds:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "system_uptime_seconds"}),
	}

	reg.MustRegister(
		e.apiRequests, e.apiErrors, e.apiLatency,
		e.emailSent, e.emailDelivered, e.emailBounced, e.emailOpened, e.emailClicked, e.emailUnsubscribed,
		e.campaignCreated, e.campaignSent, e.campaignCompleted, e.campaignPaused,
		e.rateLimitHits, e.rateLimitBlocked,
		e.systemMemoryUsagePercent, e.systemUptimeSeconds,
	)
	return e
}

// Handler returns the scrape endpoint for this exporter's registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func (e *Exporter) ObserveAPI(route, method string, latencyMs float64, isError bool) {
	e.apiRequests.WithLabelValues(route, method).Inc()
	e.apiLatency.WithLabelValues(route).Set(latencyMs)
	if isError {
		e.apiErrors.WithLabelValues(route).Inc()
	}
}

func (e *Exporter) IncEmailSent()         { e.emailSent.Inc() }
func (e *Exporter) IncEmailDelivered()    { e.emailDelivered.Inc() }
func (e *Exporter) IncEmailBounced()      { e.emailBounced.Inc() }
func (e *Exporter) IncEmailOpened()       { e.emailOpened.Inc() }
func (e *Exporter) IncEmailClicked()      { e.emailClicked.Inc() }
func (e *Exporter) IncEmailUnsubscribed() { e.emailUnsubscribed.Inc() }

func (e *Exporter) IncCampaignCreated()   { e.campaignCreated.Inc() }
func (e *Exporter) IncCampaignSent()      { e.campaignSent.Inc() }
func (e *Exporter) IncCampaignCompleted() { e.campaignCompleted.Inc() }
func (e *Exporter) IncCampaignPaused()    { e.campaignPaused.Inc() }

func (e *Exporter) IncRateLimitHit(profile string)     { e.rateLimitHits.WithLabelValues(profile).Inc() }
func (e *Exporter) IncRateLimitBlocked(profile string)  { e.rateLimitBlocked.WithLabelValues(profile).Inc() }

func (e *Exporter) SetSystemMemoryUsagePercent(pct float64) { e.systemMemoryUsagePercent.Set(pct) }
func (e *Exporter) SetSystemUptimeSeconds(s float64)        { e.systemUptimeSeconds.Set(s) }
