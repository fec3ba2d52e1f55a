package ratelimit

import (
	"sort"
	"sync"
	"time"

	"github.com/campaignforge/engine/pkg/logger"
)

// Event is one recorded Check outcome, fed to the Monitor by callers that
// want visibility into abuse patterns without changing the hot Check path.
type Event struct {
	Identifier string
	Profile    Profile
	Allowed    bool
	Latency    time.Duration
	At         time.Time
}

// Alert is a local (in-process) signal raised by the monitor; it is not
// the same as an AlertIncident — the alerting subsystem has its own rule
// engine and only consumes these as one of its inputs via Monitor.DrainAlerts.
type Alert struct {
	Kind    string // "suspicious_identifier" | "high_block_rate"
	Detail  string
	At      time.Time
}

type Counters struct {
	Identifier string
	Requests   int
	Blocks     int
}

// Monitor is the "adjacent facility" from the data model: a sliding top-K
// tracker over recent Check events, generalized from the single-namespace
// attempts map in
// _examples/defmans7-notifuse/pkg/ratelimiter/ratelimiter.go into a
// multi-identifier window with suspicious-activity detection.
type Monitor struct {
	mu     sync.Mutex
	window time.Duration
	events []Event

	suspiciousThreshold int // per-identifier 1-minute request count
	blockRateThreshold  float64 // fraction of checks blocked, global

	alerts []Alert
	log    logger.Logger
}

func NewMonitor(log logger.Logger) *Monitor {
	return &Monitor{
		window:              time.Minute,
		suspiciousThreshold: 120,
		blockRateThreshold:  0.5,
		log:                 log,
	}
}

func (m *Monitor) SetThresholds(suspiciousPerMinute int, blockRate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspiciousThreshold = suspiciousPerMinute
	m.blockRateThreshold = blockRate
}

// Record appends an event and evaluates the suspicious-identifier and
// global block-rate conditions over the trailing window.
func (m *Monitor) Record(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	m.events = append(m.events, ev)
	m.evictLocked(ev.At)
	m.evaluateLocked(ev.At)
}

func (m *Monitor) evictLocked(now time.Time) {
	cutoff := now.Add(-m.window)
	i := 0
	for ; i < len(m.events); i++ {
		if m.events[i].At.After(cutoff) {
			break
		}
	}
	if i > 0 {
		m.events = append([]Event(nil), m.events[i:]...)
	}
}

func (m *Monitor) evaluateLocked(now time.Time) {
	perIdentifier := make(map[string]*Counters)
	var totalRequests, totalBlocks int
	for _, e := range m.events {
		c, ok := perIdentifier[e.Identifier]
		if !ok {
			c = &Counters{Identifier: e.Identifier}
			perIdentifier[e.Identifier] = c
		}
		c.Requests++
		totalRequests++
		if !e.Allowed {
			c.Blocks++
			totalBlocks++
		}
	}

	for _, c := range perIdentifier {
		if c.Requests > m.suspiciousThreshold {
			m.raiseLocked(Alert{
				Kind:   "suspicious_identifier",
				Detail: c.Identifier,
				At:     now,
			})
		}
	}

	if totalRequests >= 20 {
		rate := float64(totalBlocks) / float64(totalRequests)
		if rate > m.blockRateThreshold {
			m.raiseLocked(Alert{
				Kind:   "high_block_rate",
				Detail: "global block rate exceeded threshold",
				At:     now,
			})
		}
	}
}

func (m *Monitor) raiseLocked(a Alert) {
	m.alerts = append(m.alerts, a)
	if m.log != nil {
		m.log.WithFields(map[string]interface{}{
			"kind":   a.Kind,
			"detail": a.Detail,
		}).Warn("rate limit monitor raised local alert")
	}
}

// TopByRequests returns the top n identifiers in the current window
// ordered by request count, descending.
func (m *Monitor) TopByRequests(n int) []Counters {
	return m.top(n, func(c *Counters) int { return c.Requests })
}

// TopByBlocks returns the top n identifiers ordered by block count,
// descending.
func (m *Monitor) TopByBlocks(n int) []Counters {
	return m.top(n, func(c *Counters) int { return c.Blocks })
}

func (m *Monitor) top(n int, by func(*Counters) int) []Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	perIdentifier := make(map[string]*Counters)
	for _, e := range m.events {
		c, ok := perIdentifier[e.Identifier]
		if !ok {
			c = &Counters{Identifier: e.Identifier}
			perIdentifier[e.Identifier] = c
		}
		c.Requests++
		if !e.Allowed {
			c.Blocks++
		}
	}
	out := make([]Counters, 0, len(perIdentifier))
	for _, c := range perIdentifier {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return by(&out[i]) > by(&out[j]) })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// DrainAlerts returns and clears the alerts raised since the last call.
func (m *Monitor) DrainAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.alerts
	m.alerts = nil
	return out
}
