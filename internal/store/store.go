// Package store defines the shared-store adapter consumed by every other
// component (spec.md §4.1): a capability set covering simple KV, lists,
// sorted sets, hashes, pub/sub and pipelined batches, with a networked
// implementation that degrades to an in-process fallback.
package store

import (
	"context"
	"time"
)

// Z is a sorted-set member/score pair, mirroring go-redis's redis.Z so
// callers don't need to import the driver directly.
type Z struct {
	Score  float64
	Member string
}

// Message is a pub/sub payload delivered to a Subscription's channel.
type Message struct {
	Channel string
	Payload string
}

// Subscription is returned by Subscribe; callers range over Channel()
// until Close() is called or the context is cancelled.
type Subscription interface {
	Channel() <-chan Message
	Close() error
}

// Pipeliner batches commands for a single round trip. Commands queued on a
// Pipeliner do not execute until Exec is called; results are returned in
// call order.
type Pipeliner interface {
	Incr(ctx context.Context, key string) Pipeliner
	Expire(ctx context.Context, key string, ttl time.Duration) Pipeliner
	Exec(ctx context.Context) ([]int64, error)
}

// Store is the capability set every component in this module depends on.
// redisStore returns networked errors as-is; FallbackStore, which is the
// one callers should actually construct, retries a failed networked call
// against the in-process store instead of returning its error.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key string) error

	LPush(ctx context.Context, key string, values ...string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)

	ZAdd(ctx context.Context, key string, members ...Z) error
	ZRem(ctx context.Context, key string, members ...string) error
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error
	ZCard(ctx context.Context, key string) (int64, error)
	ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error)
	ZPopMin(ctx context.Context, key string) (member string, score float64, ok bool, err error)

	HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key, field, value string) error

	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	Pipeline() Pipeliner

	Ping(ctx context.Context) error
	IsReady() bool
}
