package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignforge/engine/internal/store"
)

func TestRecord_RoundTripsThroughStore(t *testing.T) {
	s := store.NewMemoryStore(0)
	c := NewCollector(s)
	ctx := context.Background()

	c.Record(ctx, "api.latency", 120, map[string]string{"route": "/x"})
	c.Record(ctx, "api.latency", 80, nil)

	points, err := c.Get(ctx, "api.latency", 1)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 120.0, points[0].Value)
	assert.Equal(t, 80.0, points[1].Value)
}

func TestRecord_CapsRingAtMaxPoints(t *testing.T) {
	s := store.NewMemoryStore(0)
	c := NewCollector(s)
	c.maxPoints = 3
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		c.Record(ctx, "test.metric", float64(i), nil)
	}

	c.mu.Lock()
	buf := c.ring["test.metric"]
	c.mu.Unlock()
	require.Len(t, buf, 3)
	assert.Equal(t, 7.0, buf[0].Value)
	assert.Equal(t, 9.0, buf[2].Value)
}

func TestGet_FallsBackToMemoryWhenStoreUnavailable(t *testing.T) {
	c := NewCollector(nil)
	ctx := context.Background()

	c.Record(ctx, "no.store", 5, nil)
	points, err := c.Get(ctx, "no.store", 1)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 5.0, points[0].Value)
}

func TestGet_FiltersPointsOutsideWindow(t *testing.T) {
	c := NewCollector(nil)
	ctx := context.Background()

	c.mu.Lock()
	c.ring["old.metric"] = []Point{{Name: "old.metric", Timestamp: time.Now().Add(-48 * time.Hour), Value: 1}}
	c.mu.Unlock()

	points, err := c.Get(ctx, "old.metric", 24)
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestComputeAggregate_ComputesMinMaxAvgSumCount(t *testing.T) {
	points := []Point{{Value: 1}, {Value: 2}, {Value: 3}, {Value: 4}}
	agg := ComputeAggregate(points)
	assert.Equal(t, 1.0, agg.Min)
	assert.Equal(t, 4.0, agg.Max)
	assert.Equal(t, 10.0, agg.Sum)
	assert.Equal(t, 2.5, agg.Avg)
	assert.Equal(t, 4, agg.Count)
}

func TestComputeAggregate_EmptyInputReturnsZeroValue(t *testing.T) {
	assert.Equal(t, Aggregate{}, ComputeAggregate(nil))
}

func TestWindow_BucketsPointsByTime(t *testing.T) {
	c := NewCollector(nil)
	ctx := context.Background()

	now := time.Now()
	c.mu.Lock()
	c.ring["windowed"] = []Point{
		{Timestamp: now.Add(-90 * time.Second), Value: 10},
		{Timestamp: now.Add(-30 * time.Second), Value: 20},
		{Timestamp: now.Add(-29 * time.Second), Value: 30},
	}
	c.mu.Unlock()

	buckets, err := c.Window(ctx, "windowed", 1, 2)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	// With 1-minute buckets over a 2-minute span, the oldest point lands in
	// bucket 0 and the two recent points land together in bucket 1.
	assert.Equal(t, 1, buckets[0].Count)
	assert.Equal(t, 2, buckets[1].Count)
}

func TestShortcuts_RecordWellKnownMetricNames(t *testing.T) {
	s := store.NewMemoryStore(0)
	c := NewCollector(s)
	sc := NewShortcuts(c)
	ctx := context.Background()

	sc.EmailSent(ctx)
	sc.EmailBounced(ctx)
	sc.RateLimitHit(ctx, "API_BURST")
	sc.SystemMemoryUsagePercent(ctx, 91.5)

	for _, name := range []string{"email.sent", "email.bounced", "ratelimit.hits", "system.memory.usage_percent"} {
		points, err := c.Get(ctx, name, 1)
		require.NoError(t, err)
		assert.Lenf(t, points, 1, "expected one point recorded for %s", name)
	}
}
