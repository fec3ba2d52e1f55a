package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/campaignforge/engine/pkg/logger"
)

// FallbackStore composes a networked Store with an in-process one: every
// call tries the networked store first; on error it logs a warning and
// retries against the in-process fallback, per spec.md §4.1 ("Failures
// from the networked variant never propagate as errors to callers").
//
// Once the networked store has failed, FallbackStore keeps routing to the
// fallback for a short cooldown before probing the networked store again,
// so a single flaky call doesn't pay the networked timeout on every
// subsequent operation.
type FallbackStore struct {
	primary  Store
	fallback Store
	log      logger.Logger

	degraded    atomic.Bool
	probeEvery  time.Duration
	lastProbe   atomic.Int64 // unix nanos
}

func NewFallbackStore(primary Store, fallback Store, log logger.Logger) *FallbackStore {
	return &FallbackStore{
		primary:    primary,
		fallback:   fallback,
		log:        log,
		probeEvery: 5 * time.Second,
	}
}

func (f *FallbackStore) useFallback() bool {
	if !f.degraded.Load() {
		return false
	}
	last := f.lastProbe.Load()
	return time.Since(time.Unix(0, last)) < f.probeEvery
}

func (f *FallbackStore) markDegraded(op string, err error) {
	f.degraded.Store(true)
	f.lastProbe.Store(time.Now().UnixNano())
	if f.log != nil {
		f.log.WithFields(map[string]interface{}{
			"op":    op,
			"error": err.Error(),
		}).Warn("shared store degraded to in-process fallback")
	}
}

func (f *FallbackStore) markHealthy() {
	f.degraded.Store(false)
}

// IsReady reports whether the networked primary is currently reachable.
func (f *FallbackStore) IsReady() bool {
	return !f.useFallback() && f.primary.IsReady()
}

func (f *FallbackStore) Ping(ctx context.Context) error {
	if f.useFallback() {
		return f.fallback.Ping(ctx)
	}
	if err := f.primary.Ping(ctx); err != nil {
		f.markDegraded("ping", err)
		return f.fallback.Ping(ctx)
	}
	f.markHealthy()
	return nil
}

// run executes fn against the primary unless currently degraded, falling
// back to fb on any primary error.
func run[T any](f *FallbackStore, op string, fn func(Store) (T, error), fb func(Store) (T, error)) (T, error) {
	if !f.useFallback() {
		v, err := fn(f.primary)
		if err == nil {
			f.markHealthy()
			return v, nil
		}
		f.markDegraded(op, err)
	}
	return fb(f.fallback)
}

func (f *FallbackStore) Get(ctx context.Context, key string) (string, bool, error) {
	if !f.useFallback() {
		v, ok, err := f.primary.Get(ctx, key)
		if err == nil {
			f.markHealthy()
			return v, ok, nil
		}
		f.markDegraded("get", err)
	}
	return f.fallback.Get(ctx, key)
}

func (f *FallbackStore) Set(ctx context.Context, key, value string) error {
	_, err := run(f, "set", func(s Store) (struct{}, error) { return struct{}{}, s.Set(ctx, key, value) },
		func(s Store) (struct{}, error) { return struct{}{}, s.Set(ctx, key, value) })
	return err
}

func (f *FallbackStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := run(f, "setex", func(s Store) (struct{}, error) { return struct{}{}, s.SetEx(ctx, key, value, ttl) },
		func(s Store) (struct{}, error) { return struct{}{}, s.SetEx(ctx, key, value, ttl) })
	return err
}

func (f *FallbackStore) Incr(ctx context.Context, key string) (int64, error) {
	return run(f, "incr", func(s Store) (int64, error) { return s.Incr(ctx, key) },
		func(s Store) (int64, error) { return s.Incr(ctx, key) })
}

func (f *FallbackStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := run(f, "expire", func(s Store) (struct{}, error) { return struct{}{}, s.Expire(ctx, key, ttl) },
		func(s Store) (struct{}, error) { return struct{}{}, s.Expire(ctx, key, ttl) })
	return err
}

func (f *FallbackStore) Del(ctx context.Context, key string) error {
	_, err := run(f, "del", func(s Store) (struct{}, error) { return struct{}{}, s.Del(ctx, key) },
		func(s Store) (struct{}, error) { return struct{}{}, s.Del(ctx, key) })
	return err
}

func (f *FallbackStore) LPush(ctx context.Context, key string, values ...string) error {
	_, err := run(f, "lpush", func(s Store) (struct{}, error) { return struct{}{}, s.LPush(ctx, key, values...) },
		func(s Store) (struct{}, error) { return struct{}{}, s.LPush(ctx, key, values...) })
	return err
}

func (f *FallbackStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	_, err := run(f, "ltrim", func(s Store) (struct{}, error) { return struct{}{}, s.LTrim(ctx, key, start, stop) },
		func(s Store) (struct{}, error) { return struct{}{}, s.LTrim(ctx, key, start, stop) })
	return err
}

func (f *FallbackStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return run(f, "lrange", func(s Store) ([]string, error) { return s.LRange(ctx, key, start, stop) },
		func(s Store) ([]string, error) { return s.LRange(ctx, key, start, stop) })
}

func (f *FallbackStore) LLen(ctx context.Context, key string) (int64, error) {
	return run(f, "llen", func(s Store) (int64, error) { return s.LLen(ctx, key) },
		func(s Store) (int64, error) { return s.LLen(ctx, key) })
}

func (f *FallbackStore) ZAdd(ctx context.Context, key string, members ...Z) error {
	_, err := run(f, "zadd", func(s Store) (struct{}, error) { return struct{}{}, s.ZAdd(ctx, key, members...) },
		func(s Store) (struct{}, error) { return struct{}{}, s.ZAdd(ctx, key, members...) })
	return err
}

func (f *FallbackStore) ZRem(ctx context.Context, key string, members ...string) error {
	_, err := run(f, "zrem", func(s Store) (struct{}, error) { return struct{}{}, s.ZRem(ctx, key, members...) },
		func(s Store) (struct{}, error) { return struct{}{}, s.ZRem(ctx, key, members...) })
	return err
}

func (f *FallbackStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	_, err := run(f, "zremrangebyscore", func(s Store) (struct{}, error) { return struct{}{}, s.ZRemRangeByScore(ctx, key, min, max) },
		func(s Store) (struct{}, error) { return struct{}{}, s.ZRemRangeByScore(ctx, key, min, max) })
	return err
}

func (f *FallbackStore) ZCard(ctx context.Context, key string) (int64, error) {
	return run(f, "zcard", func(s Store) (int64, error) { return s.ZCard(ctx, key) },
		func(s Store) (int64, error) { return s.ZCard(ctx, key) })
}

func (f *FallbackStore) ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error) {
	return run(f, "zrangebyscore", func(s Store) ([]string, error) { return s.ZRangeByScore(ctx, key, min, max, limit) },
		func(s Store) ([]string, error) { return s.ZRangeByScore(ctx, key, min, max, limit) })
}

func (f *FallbackStore) ZPopMin(ctx context.Context, key string) (string, float64, bool, error) {
	type result struct {
		member string
		score  float64
		ok     bool
	}
	r, err := run(f, "zpopmin", func(s Store) (result, error) {
		m, sc, ok, err := s.ZPopMin(ctx, key)
		return result{m, sc, ok}, err
	}, func(s Store) (result, error) {
		m, sc, ok, err := s.ZPopMin(ctx, key)
		return result{m, sc, ok}, err
	})
	return r.member, r.score, r.ok, err
}

func (f *FallbackStore) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	return run(f, "hincrby", func(s Store) (int64, error) { return s.HIncrBy(ctx, key, field, incr) },
		func(s Store) (int64, error) { return s.HIncrBy(ctx, key, field, incr) })
}

func (f *FallbackStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return run(f, "hgetall", func(s Store) (map[string]string, error) { return s.HGetAll(ctx, key) },
		func(s Store) (map[string]string, error) { return s.HGetAll(ctx, key) })
}

func (f *FallbackStore) HSet(ctx context.Context, key, field, value string) error {
	_, err := run(f, "hset", func(s Store) (struct{}, error) { return struct{}{}, s.HSet(ctx, key, field, value) },
		func(s Store) (struct{}, error) { return struct{}{}, s.HSet(ctx, key, field, value) })
	return err
}

func (f *FallbackStore) Publish(ctx context.Context, channel, payload string) error {
	_, err := run(f, "publish", func(s Store) (struct{}, error) { return struct{}{}, s.Publish(ctx, channel, payload) },
		func(s Store) (struct{}, error) { return struct{}{}, s.Publish(ctx, channel, payload) })
	return err
}

// Subscribe always targets the fallback's pub/sub when degraded, the
// primary's otherwise; unlike the other operations it is not retried
// mid-stream since a subscription is long-lived.
func (f *FallbackStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if f.useFallback() {
		return f.fallback.Subscribe(ctx, channel)
	}
	sub, err := f.primary.Subscribe(ctx, channel)
	if err != nil {
		f.markDegraded("subscribe", err)
		return f.fallback.Subscribe(ctx, channel)
	}
	f.markHealthy()
	return sub, nil
}

func (f *FallbackStore) Pipeline() Pipeliner {
	if f.useFallback() {
		return f.fallback.Pipeline()
	}
	return &fallbackPipeliner{f: f, primary: f.primary.Pipeline()}
}

// fallbackPipeliner tries the primary pipeline on Exec and re-runs the
// same queued ops against the fallback store on failure. Pipelines are
// only used for the rate limiter's incr+expire pair, so replaying ops is
// cheap and keeps the "expire only on window creation" invariant intact
// even when the networked store is unavailable.
type fallbackPipeliner struct {
	f       *FallbackStore
	primary Pipeliner
	replay  []func(Pipeliner) Pipeliner
}

func (p *fallbackPipeliner) Incr(ctx context.Context, key string) Pipeliner {
	p.primary.Incr(ctx, key)
	p.replay = append(p.replay, func(pl Pipeliner) Pipeliner { return pl.Incr(ctx, key) })
	return p
}

func (p *fallbackPipeliner) Expire(ctx context.Context, key string, ttl time.Duration) Pipeliner {
	p.primary.Expire(ctx, key, ttl)
	p.replay = append(p.replay, func(pl Pipeliner) Pipeliner { return pl.Expire(ctx, key, ttl) })
	return p
}

func (p *fallbackPipeliner) Exec(ctx context.Context) ([]int64, error) {
	res, err := p.primary.Exec(ctx)
	if err == nil {
		p.f.markHealthy()
		return res, nil
	}
	p.f.markDegraded("pipeline", err)
	fp := p.f.fallback.Pipeline()
	for _, step := range p.replay {
		fp = step(fp)
	}
	return fp.Exec(ctx)
}
