package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore is the networked implementation of Store, backed by
// github.com/redis/go-redis/v9 — adopted from the pack
// (_examples/blitzy-public-samples-test-94ilr1 and
// _examples/DrisanJames-project-jarvis both depend on it for the same
// shared-state role this adapter plays).
type redisStore struct {
	client *redis.Client
}

type RedisOptions struct {
	Host           string
	Port           int
	Password       string
	DB             int
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

func NewRedisStore(opts RedisOptions) *redisStore {
	addr := opts.Host
	if opts.Port != 0 {
		addr = addr + ":" + formatInt64(int64(opts.Port))
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.ConnectTimeout,
		ReadTimeout:  opts.CommandTimeout,
		WriteTimeout: opts.CommandTimeout,
	})
	return &redisStore{client: client}
}

func (r *redisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *redisStore) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *redisStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisStore) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

func (r *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, key, ttl).Err()
}

func (r *redisStore) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *redisStore) LPush(ctx context.Context, key string, values ...string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return r.client.LPush(ctx, key, args...).Err()
}

func (r *redisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	return r.client.LTrim(ctx, key, start, stop).Err()
}

func (r *redisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.LRange(ctx, key, start, stop).Result()
}

func (r *redisStore) LLen(ctx context.Context, key string) (int64, error) {
	return r.client.LLen(ctx, key).Result()
}

func (r *redisStore) ZAdd(ctx context.Context, key string, members ...Z) error {
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Score: m.Score, Member: m.Member}
	}
	return r.client.ZAdd(ctx, key, zs...).Err()
}

func (r *redisStore) ZRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return r.client.ZRem(ctx, key, args...).Err()
}

func (r *redisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	return r.client.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Err()
}

func (r *redisStore) ZCard(ctx context.Context, key string) (int64, error) {
	return r.client.ZCard(ctx, key).Result()
}

func (r *redisStore) ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error) {
	opt := &redis.ZRangeBy{Min: formatScore(min), Max: formatScore(max)}
	if limit > 0 {
		opt.Count = limit
	}
	return r.client.ZRangeByScore(ctx, key, opt).Result()
}

func (r *redisStore) ZPopMin(ctx context.Context, key string) (string, float64, bool, error) {
	res, err := r.client.ZPopMin(ctx, key, 1).Result()
	if err != nil {
		return "", 0, false, err
	}
	if len(res) == 0 {
		return "", 0, false, nil
	}
	member, _ := res[0].Member.(string)
	return member, res[0].Score, true, nil
}

func (r *redisStore) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	return r.client.HIncrBy(ctx, key, field, incr).Result()
}

func (r *redisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *redisStore) HSet(ctx context.Context, key, field, value string) error {
	return r.client.HSet(ctx, key, field, value).Err()
}

func (r *redisStore) Publish(ctx context.Context, channel, payload string) error {
	return r.client.Publish(ctx, channel, payload).Err()
}

func (r *redisStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := r.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		return nil, err
	}
	out := make(chan Message, 64)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			out <- Message{Channel: msg.Channel, Payload: msg.Payload}
		}
	}()
	return &redisSub{ps: ps, ch: out}, nil
}

type redisSub struct {
	ps *redis.PubSub
	ch chan Message
}

func (s *redisSub) Channel() <-chan Message { return s.ch }
func (s *redisSub) Close() error            { return s.ps.Close() }

func (r *redisStore) Pipeline() Pipeliner {
	return &redisPipeliner{pipe: r.client.Pipeline()}
}

func (r *redisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisStore) IsReady() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.client.Ping(ctx).Err() == nil
}

type redisPipeliner struct {
	pipe    redis.Pipeliner
	incrs   []*redis.IntCmd
}

func (p *redisPipeliner) Incr(ctx context.Context, key string) Pipeliner {
	p.incrs = append(p.incrs, p.pipe.Incr(ctx, key))
	return p
}

func (p *redisPipeliner) Expire(ctx context.Context, key string, ttl time.Duration) Pipeliner {
	p.pipe.Expire(ctx, key, ttl)
	return p
}

func (p *redisPipeliner) Exec(ctx context.Context) ([]int64, error) {
	_, err := p.pipe.Exec(ctx)
	out := make([]int64, 0, len(p.incrs))
	for _, c := range p.incrs {
		out = append(out, c.Val())
	}
	if err != nil {
		return out, err
	}
	return out, nil
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
