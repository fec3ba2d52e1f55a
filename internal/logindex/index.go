// Package logindex implements the structured log index from spec.md
// §4.7: every log entry is fanned into per-(service,component),
// per-level, per-traceId and per-userId lists on the shared store
// (capped + expiring, mirroring internal/metrics' ring-plus-store
// shape), alongside an hourly level/service counter hash. Query
// intersects candidate ID sets built from those lists and supports a
// free-text search filter over the entry's serialized JSON via
// tidwall/gjson.
package logindex

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/tidwall/gjson"

	"github.com/campaignforge/engine/internal/store"
)

// Level is a log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Entry is one indexed log record.
type Entry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Level     Level                  `json:"level"`
	Service   string                 `json:"service"`
	Component string                 `json:"component"`
	Message   string                 `json:"message"`
	TraceID   string                 `json:"traceId,omitempty"`
	UserID    string                 `json:"userId,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Filter narrows a Query. Zero-value fields are unconstrained.
type Filter struct {
	Level     Level
	Service   string
	Component string
	TraceID   string
	UserID    string
	Search    string // substring match against the message and string-valued fields
	Since     time.Time
	Limit     int
}

const (
	defaultMaxEntries = 5000
	defaultRetention  = 7 * 24 * time.Hour
	defaultQueryLimit = 100
)

// Index is the process-wide log index. One Index is shared by every
// component via constructor injection, matching internal/metrics.Collector.
type Index struct {
	store     store.Store
	maxLen    int
	retention time.Duration
}

func New(s store.Store) *Index {
	return &Index{store: s, maxLen: defaultMaxEntries, retention: defaultRetention}
}

func serviceComponentKey(service, component string) string {
	return "logindex:sc:" + service + ":" + component
}
func levelKey(level Level) string { return "logindex:level:" + string(level) }
func traceKey(traceID string) string { return "logindex:trace:" + traceID }
func userKey(userID string) string   { return "logindex:user:" + userID }
func entryKey(id string) string      { return "logindex:entry:" + id }
func counterKey(level Level, service string, hour time.Time) string {
	return "logindex:count:" + hour.UTC().Format("2006010215")
}

// Write sanitizes and indexes one entry. Sanitization happens here so
// every write path (direct index writes, the logger hook, durable
// mirroring) goes through the same redaction rules.
func (idx *Index) Write(ctx context.Context, e Entry) error {
	clean := Sanitize(e)

	data, err := json.Marshal(clean)
	if err != nil {
		return err
	}
	payload := string(data)

	if err := idx.store.Set(ctx, entryKey(clean.ID), payload); err != nil {
		return err
	}
	_ = idx.store.Expire(ctx, entryKey(clean.ID), idx.retention)

	for _, key := range idx.fanoutKeys(clean) {
		_ = idx.store.LPush(ctx, key, clean.ID)
		_ = idx.store.LTrim(ctx, key, 0, int64(idx.maxLen)-1)
		_ = idx.store.Expire(ctx, key, idx.retention)
	}

	field := string(clean.Level) + ":" + clean.Service
	_, _ = idx.store.HIncrBy(ctx, counterKey(clean.Level, clean.Service, clean.Timestamp), field, 1)

	return nil
}

func (idx *Index) fanoutKeys(e Entry) []string {
	keys := []string{serviceComponentKey(e.Service, e.Component), levelKey(e.Level)}
	if e.TraceID != "" {
		keys = append(keys, traceKey(e.TraceID))
	}
	if e.UserID != "" {
		keys = append(keys, userKey(e.UserID))
	}
	return keys
}

// Query intersects the candidate ID sets implied by the filter's
// constrained fields, then applies Since/Search/Limit.
func (idx *Index) Query(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var candidateSets [][]string
	if f.Service != "" || f.Component != "" {
		ids, err := idx.store.LRange(ctx, serviceComponentKey(f.Service, f.Component), 0, -1)
		if err != nil {
			return nil, err
		}
		candidateSets = append(candidateSets, ids)
	}
	if f.Level != "" {
		ids, err := idx.store.LRange(ctx, levelKey(f.Level), 0, -1)
		if err != nil {
			return nil, err
		}
		candidateSets = append(candidateSets, ids)
	}
	if f.TraceID != "" {
		ids, err := idx.store.LRange(ctx, traceKey(f.TraceID), 0, -1)
		if err != nil {
			return nil, err
		}
		candidateSets = append(candidateSets, ids)
	}
	if f.UserID != "" {
		ids, err := idx.store.LRange(ctx, userKey(f.UserID), 0, -1)
		if err != nil {
			return nil, err
		}
		candidateSets = append(candidateSets, ids)
	}

	ids := intersect(candidateSets)

	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		raw, ok, err := idx.store.Get(ctx, entryKey(id))
		if err != nil || !ok {
			continue
		}
		if !f.Since.IsZero() && !gjson.Get(raw, "timestamp").Time().After(f.Since) {
			continue
		}
		if f.Search != "" && !matches(raw, f.Search) {
			continue
		}
		var e Entry
		if json.Unmarshal([]byte(raw), &e) != nil {
			continue
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// matches reports whether the free-text term appears in the message or
// any string-valued field, read via gjson without a full unmarshal.
func matches(raw, term string) bool {
	if gjson.Get(raw, "message").Str != "" && contains(gjson.Get(raw, "message").Str, term) {
		return true
	}
	hit := false
	gjson.Get(raw, "fields").ForEach(func(_, value gjson.Result) bool {
		if value.Type == gjson.String && contains(value.Str, term) {
			hit = true
			return false
		}
		return true
	})
	return hit
}

func contains(haystack, needle string) bool {
	return len(needle) > 0 && indexFold(haystack, needle) >= 0
}

// indexFold is a tiny case-insensitive substring search; the entries
// indexed here are short enough that strings.ToLower on both sides
// isn't worth the extra allocation pattern.
func indexFold(s, substr string) int {
	n, m := len(s), len(substr)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if equalFold(s[i:i+m], substr) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func intersect(sets [][]string) []string {
	if len(sets) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, set := range sets {
		seen := make(map[string]bool, len(set))
		for _, id := range set {
			if !seen[id] {
				seen[id] = true
				counts[id]++
			}
		}
	}
	out := make([]string, 0, len(counts))
	for id, c := range counts {
		if c == len(sets) {
			out = append(out, id)
		}
	}
	return out
}

// CountsByHour returns the full level:service counter hash for the given
// hour bucket.
func (idx *Index) CountsByHour(ctx context.Context, hour time.Time) (map[string]string, error) {
	return idx.store.HGetAll(ctx, counterKey("", "", hour))
}
