package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore wraps a memoryStore and returns an error from every call while
// failing is true, so tests can flip primary-store health deterministically.
type flakyStore struct {
	inner   *memoryStore
	failing atomic.Bool
}

func newFlakyStore() *flakyStore {
	return &flakyStore{inner: NewMemoryStore(time.Hour)}
}

var errFlakyStore = errors.New("simulated store failure")

func (f *flakyStore) Get(ctx context.Context, key string) (string, bool, error) {
	if f.failing.Load() {
		return "", false, errFlakyStore
	}
	return f.inner.Get(ctx, key)
}
func (f *flakyStore) Set(ctx context.Context, key, value string) error {
	if f.failing.Load() {
		return errFlakyStore
	}
	return f.inner.Set(ctx, key, value)
}
func (f *flakyStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.failing.Load() {
		return errFlakyStore
	}
	return f.inner.SetEx(ctx, key, value, ttl)
}
func (f *flakyStore) Incr(ctx context.Context, key string) (int64, error) {
	if f.failing.Load() {
		return 0, errFlakyStore
	}
	return f.inner.Incr(ctx, key)
}
func (f *flakyStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if f.failing.Load() {
		return errFlakyStore
	}
	return f.inner.Expire(ctx, key, ttl)
}
func (f *flakyStore) Del(ctx context.Context, key string) error {
	if f.failing.Load() {
		return errFlakyStore
	}
	return f.inner.Del(ctx, key)
}
func (f *flakyStore) LPush(ctx context.Context, key string, values ...string) error {
	if f.failing.Load() {
		return errFlakyStore
	}
	return f.inner.LPush(ctx, key, values...)
}
func (f *flakyStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	if f.failing.Load() {
		return errFlakyStore
	}
	return f.inner.LTrim(ctx, key, start, stop)
}
func (f *flakyStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if f.failing.Load() {
		return nil, errFlakyStore
	}
	return f.inner.LRange(ctx, key, start, stop)
}
func (f *flakyStore) LLen(ctx context.Context, key string) (int64, error) {
	if f.failing.Load() {
		return 0, errFlakyStore
	}
	return f.inner.LLen(ctx, key)
}
func (f *flakyStore) ZAdd(ctx context.Context, key string, members ...Z) error {
	if f.failing.Load() {
		return errFlakyStore
	}
	return f.inner.ZAdd(ctx, key, members...)
}
func (f *flakyStore) ZRem(ctx context.Context, key string, members ...string) error {
	if f.failing.Load() {
		return errFlakyStore
	}
	return f.inner.ZRem(ctx, key, members...)
}
func (f *flakyStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	if f.failing.Load() {
		return errFlakyStore
	}
	return f.inner.ZRemRangeByScore(ctx, key, min, max)
}
func (f *flakyStore) ZCard(ctx context.Context, key string) (int64, error) {
	if f.failing.Load() {
		return 0, errFlakyStore
	}
	return f.inner.ZCard(ctx, key)
}
func (f *flakyStore) ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error) {
	if f.failing.Load() {
		return nil, errFlakyStore
	}
	return f.inner.ZRangeByScore(ctx, key, min, max, limit)
}
func (f *flakyStore) ZPopMin(ctx context.Context, key string) (string, float64, bool, error) {
	if f.failing.Load() {
		return "", 0, false, errFlakyStore
	}
	return f.inner.ZPopMin(ctx, key)
}
func (f *flakyStore) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	if f.failing.Load() {
		return 0, errFlakyStore
	}
	return f.inner.HIncrBy(ctx, key, field, incr)
}
func (f *flakyStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if f.failing.Load() {
		return nil, errFlakyStore
	}
	return f.inner.HGetAll(ctx, key)
}
func (f *flakyStore) HSet(ctx context.Context, key, field, value string) error {
	if f.failing.Load() {
		return errFlakyStore
	}
	return f.inner.HSet(ctx, key, field, value)
}
func (f *flakyStore) Publish(ctx context.Context, channel, payload string) error {
	if f.failing.Load() {
		return errFlakyStore
	}
	return f.inner.Publish(ctx, channel, payload)
}
func (f *flakyStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if f.failing.Load() {
		return nil, errFlakyStore
	}
	return f.inner.Subscribe(ctx, channel)
}
func (f *flakyStore) Pipeline() Pipeliner {
	if f.failing.Load() {
		return &failingPipeliner{}
	}
	return f.inner.Pipeline()
}

// failingPipeliner queues nothing and always errors on Exec, simulating a
// networked pipeline round-trip that never reaches the server.
type failingPipeliner struct{}

func (p *failingPipeliner) Incr(context.Context, string) Pipeliner                 { return p }
func (p *failingPipeliner) Expire(context.Context, string, time.Duration) Pipeliner { return p }
func (p *failingPipeliner) Exec(context.Context) ([]int64, error)                  { return nil, errFlakyStore }
func (f *flakyStore) Ping(ctx context.Context) error {
	if f.failing.Load() {
		return errFlakyStore
	}
	return f.inner.Ping(ctx)
}
func (f *flakyStore) IsReady() bool { return !f.failing.Load() }

func TestFallbackStore_RoutesToFallbackOnPrimaryError(t *testing.T) {
	primary := newFlakyStore()
	fallback := NewMemoryStore(time.Hour)
	defer fallback.Stop()
	defer primary.inner.Stop()

	fb := NewFallbackStore(primary, fallback, nil)
	primary.failing.Store(true)

	require.NoError(t, fb.Set(context.Background(), "k", "v"))

	// The write landed on the fallback, not the (still-failing) primary.
	_, ok, _ := primary.inner.Get(context.Background(), "k")
	assert.False(t, ok)
	v, ok, err := fallback.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestFallbackStore_StaysDegradedDuringCooldown(t *testing.T) {
	primary := newFlakyStore()
	fallback := NewMemoryStore(time.Hour)
	defer fallback.Stop()
	defer primary.inner.Stop()

	fb := NewFallbackStore(primary, fallback, nil)
	fb.probeEvery = time.Hour // never re-probe within the test

	primary.failing.Store(true)
	require.NoError(t, fb.Set(context.Background(), "k", "v1"))
	assert.False(t, fb.IsReady())

	// Even after the primary recovers, calls stay on the fallback until the
	// cooldown elapses — avoids paying the networked timeout on every call.
	primary.failing.Store(false)
	require.NoError(t, fb.Set(context.Background(), "k", "v2"))
	_, okPrimary, _ := primary.inner.Get(context.Background(), "k")
	assert.False(t, okPrimary)
}

func TestFallbackStore_RecoversAfterCooldownElapses(t *testing.T) {
	primary := newFlakyStore()
	fallback := NewMemoryStore(time.Hour)
	defer fallback.Stop()
	defer primary.inner.Stop()

	fb := NewFallbackStore(primary, fallback, nil)
	fb.probeEvery = time.Millisecond

	primary.failing.Store(true)
	require.NoError(t, fb.Set(context.Background(), "k", "v1"))

	primary.failing.Store(false)
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, fb.Set(context.Background(), "k", "v2"))
	v, ok, err := primary.inner.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
	assert.True(t, fb.IsReady())
}

func TestFallbackStore_PassesThroughWhenPrimaryHealthy(t *testing.T) {
	primary := newFlakyStore()
	fallback := NewMemoryStore(time.Hour)
	defer fallback.Stop()
	defer primary.inner.Stop()

	fb := NewFallbackStore(primary, fallback, nil)
	require.NoError(t, fb.Set(context.Background(), "k", "v"))

	v, ok, err := primary.inner.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestFallbackStore_PipelineReplaysOnPrimaryFailure(t *testing.T) {
	primary := newFlakyStore()
	fallback := NewMemoryStore(time.Hour)
	defer fallback.Stop()
	defer primary.inner.Stop()

	primary.failing.Store(true)
	fb := NewFallbackStore(primary, fallback, nil)

	pipe := fb.Pipeline()
	pipe.Incr(context.Background(), "rl:x")
	pipe.Expire(context.Background(), "rl:x", time.Minute)
	results, err := pipe.Exec(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), results[0])

	// The pair landed on the fallback store, not the failing primary.
	v, ok, err := fallback.Get(context.Background(), "rl:x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}
