// Package metrics implements the time-series collector from spec.md §4.5:
// an in-memory ring per metric name mirrored into the shared store, plus
// domain shortcut methods for the well-known metric names every other
// component emits against. There is no direct teacher analogue for a
// metrics collector — the shape (bounded in-memory buffer + store mirror
// with the same cap/expiry pattern as every other list-backed component in
// this module) follows internal/store's own list conventions.
package metrics

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/campaignforge/engine/internal/store"
)

// Point is a single recorded sample.
type Point struct {
	Name      string            `json:"name"`
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Aggregate summarizes a set of points.
type Aggregate struct {
	Min, Max, Avg, Sum float64
	Count              int
}

const (
	defaultMaxPoints = 1000
	defaultRetention = 24 * time.Hour
)

// Collector is the process-wide metrics sink. One Collector is shared by
// every component via constructor injection; there is no package-level
// singleton.
type Collector struct {
	mu            sync.Mutex
	ring          map[string][]Point
	maxPoints     int
	retention     time.Duration
	store         store.Store
}

func NewCollector(s store.Store) *Collector {
	return &Collector{
		ring:      make(map[string][]Point),
		maxPoints: defaultMaxPoints,
		retention: defaultRetention,
		store:     s,
	}
}

func (c *Collector) storeKey(name string) string { return "metrics:" + name }

// Record appends a point to the in-memory ring (capped at maxPoints) and
// mirrors it into the shared store's per-name list with the same cap and
// a retention expiry.
func (c *Collector) Record(ctx context.Context, name string, value float64, tags map[string]string) {
	p := Point{Name: name, Timestamp: time.Now(), Value: value, Tags: tags}

	c.mu.Lock()
	buf := append(c.ring[name], p)
	if len(buf) > c.maxPoints {
		buf = buf[len(buf)-c.maxPoints:]
	}
	c.ring[name] = buf
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	key := c.storeKey(name)
	_ = c.store.LPush(ctx, key, string(data))
	_ = c.store.LTrim(ctx, key, 0, int64(c.maxPoints)-1)
	_ = c.store.Expire(ctx, key, c.retention)
}

// Get reads points for name over the trailing hoursWindow, preferring the
// shared store and falling back to the in-memory ring on failure.
func (c *Collector) Get(ctx context.Context, name string, hoursWindow float64) ([]Point, error) {
	cutoff := time.Now().Add(-time.Duration(hoursWindow * float64(time.Hour)))

	if c.store != nil {
		raw, err := c.store.LRange(ctx, c.storeKey(name), 0, -1)
		if err == nil {
			points := make([]Point, 0, len(raw))
			for _, r := range raw {
				var p Point
				if json.Unmarshal([]byte(r), &p) == nil && p.Timestamp.After(cutoff) {
					points = append(points, p)
				}
			}
			sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
			return points, nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Point, 0)
	for _, p := range c.ring[name] {
		if p.Timestamp.After(cutoff) {
			out = append(out, p)
		}
	}
	return out, nil
}

// ComputeAggregate computes min/max/avg/sum/count over a set of points.
func ComputeAggregate(points []Point) Aggregate {
	if len(points) == 0 {
		return Aggregate{}
	}
	a := Aggregate{Min: points[0].Value, Max: points[0].Value}
	for _, p := range points {
		a.Sum += p.Value
		if p.Value < a.Min {
			a.Min = p.Value
		}
		if p.Value > a.Max {
			a.Max = p.Value
		}
	}
	a.Count = len(points)
	a.Avg = a.Sum / float64(a.Count)
	return a
}

// Bucket is one time-bucketed aggregate in a Window series.
type Bucket struct {
	Start time.Time
	Aggregate
}

// Window buckets name's points into windowCount buckets of windowMinutes
// each, most recent last.
func (c *Collector) Window(ctx context.Context, name string, windowMinutes int, windowCount int) ([]Bucket, error) {
	if windowMinutes <= 0 {
		windowMinutes = 1
	}
	if windowCount <= 0 {
		windowCount = 1
	}
	span := time.Duration(windowMinutes) * time.Minute
	points, err := c.Get(ctx, name, float64(windowMinutes*windowCount)/60)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	buckets := make([]Bucket, windowCount)
	bucketed := make([][]Point, windowCount)
	start := now.Add(-span * time.Duration(windowCount))
	for _, p := range points {
		idx := int(p.Timestamp.Sub(start) / span)
		if idx < 0 || idx >= windowCount {
			continue
		}
		bucketed[idx] = append(bucketed[idx], p)
	}
	for i := 0; i < windowCount; i++ {
		buckets[i] = Bucket{Start: start.Add(span * time.Duration(i)), Aggregate: ComputeAggregate(bucketed[i])}
	}
	return buckets, nil
}
