package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryStore is the in-process fallback: a single-writer map guarded by a
// mutex, plus a background janitor goroutine that evicts expired keys.
// Generalized from the teacher's pkg/cache/cache.go (which only provided a
// Get/Set/TTL cache) into the full Store capability set.
type memoryStore struct {
	mu    sync.Mutex
	kv    map[string]entry
	lists map[string][]string
	zsets map[string]map[string]float64
	hsets map[string]map[string]string
	exp   map[string]time.Time

	subs   map[string][]*memSub
	subsMu sync.Mutex

	stop chan struct{}
}

type entry struct {
	value string
}

func NewMemoryStore(janitorInterval time.Duration) *memoryStore {
	if janitorInterval <= 0 {
		janitorInterval = time.Minute
	}
	m := &memoryStore{
		kv:    make(map[string]entry),
		lists: make(map[string][]string),
		zsets: make(map[string]map[string]float64),
		hsets: make(map[string]map[string]string),
		exp:   make(map[string]time.Time),
		subs:  make(map[string][]*memSub),
		stop:  make(chan struct{}),
	}
	go m.janitor(janitorInterval)
	return m
}

func (m *memoryStore) janitor(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.evictExpired()
		case <-m.stop:
			return
		}
	}
}

func (m *memoryStore) evictExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for k, at := range m.exp {
		if now.After(at) {
			delete(m.exp, k)
			delete(m.kv, k)
			delete(m.lists, k)
			delete(m.zsets, k)
			delete(m.hsets, k)
		}
	}
}

func (m *memoryStore) Stop() { close(m.stop) }

func (m *memoryStore) isExpiredLocked(key string) bool {
	at, ok := m.exp[key]
	return ok && time.Now().After(at)
}

func (m *memoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isExpiredLocked(key) {
		return "", false, nil
	}
	e, ok := m.kv[key]
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *memoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = entry{value: value}
	delete(m.exp, key)
	return nil
}

func (m *memoryStore) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = entry{value: value}
	m.exp[key] = time.Now().Add(ttl)
	return nil
}

func (m *memoryStore) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isExpiredLocked(key) {
		delete(m.kv, key)
		delete(m.exp, key)
	}
	e := m.kv[key]
	var n int64
	if e.value != "" {
		n = parseInt64(e.value)
	}
	n++
	m.kv[key] = entry{value: formatInt64(n)}
	return n, nil
}

func (m *memoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exp[key] = time.Now().Add(ttl)
	return nil
}

func (m *memoryStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	delete(m.lists, key)
	delete(m.zsets, key)
	delete(m.hsets, key)
	delete(m.exp, key)
	return nil
}

func (m *memoryStore) LPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range values {
		m.lists[key] = append([]string{v}, m.lists[key]...)
	}
	return nil
}

func (m *memoryStore) LTrim(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	m.lists[key] = sliceRange(l, start, stop)
	return nil
}

func (m *memoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), sliceRange(m.lists[key], start, stop)...), nil
}

func (m *memoryStore) LLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[key])), nil
}

func sliceRange(l []string, start, stop int64) []string {
	n := int64(len(l))
	if n == 0 {
		return nil
	}
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil
	}
	return l[start : stop+1]
}

func (m *memoryStore) ZAdd(_ context.Context, key string, members ...Z) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[key]
	if !ok {
		z = make(map[string]float64)
		m.zsets[key] = z
	}
	for _, member := range members {
		z[member.Member] = member.Score
	}
	return nil
}

func (m *memoryStore) ZRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z := m.zsets[key]
	for _, mem := range members {
		delete(z, mem)
	}
	return nil
}

func (m *memoryStore) ZRemRangeByScore(_ context.Context, key string, min, max float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z := m.zsets[key]
	for mem, score := range z {
		if score >= min && score <= max {
			delete(z, mem)
		}
	}
	return nil
}

func (m *memoryStore) ZCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.zsets[key])), nil
}

func (m *memoryStore) ZRangeByScore(_ context.Context, key string, min, max float64, limit int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	z := m.zsets[key]
	type pair struct {
		member string
		score  float64
	}
	pairs := make([]pair, 0, len(z))
	for mem, score := range z {
		if score >= min && score <= max {
			pairs = append(pairs, pair{mem, score})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })
	if limit > 0 && int64(len(pairs)) > limit {
		pairs = pairs[:limit]
	}
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.member
	}
	return out, nil
}

func (m *memoryStore) ZPopMin(_ context.Context, key string) (string, float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	z := m.zsets[key]
	if len(z) == 0 {
		return "", 0, false, nil
	}
	var bestMember string
	var bestScore float64
	first := true
	for mem, score := range z {
		if first || score < bestScore {
			bestMember, bestScore, first = mem, score, false
		}
	}
	delete(z, bestMember)
	return bestMember, bestScore, true, nil
}

func (m *memoryStore) HIncrBy(_ context.Context, key, field string, incr int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hsets[key]
	if !ok {
		h = make(map[string]string)
		m.hsets[key] = h
	}
	n := parseInt64(h[field]) + incr
	h[field] = formatInt64(n)
	return n, nil
}

func (m *memoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.hsets[key]))
	for k, v := range m.hsets[key] {
		out[k] = v
	}
	return out, nil
}

func (m *memoryStore) HSet(_ context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hsets[key]
	if !ok {
		h = make(map[string]string)
		m.hsets[key] = h
	}
	h[field] = value
	return nil
}

type memSub struct {
	ch     chan Message
	closed chan struct{}
}

func (s *memSub) Channel() <-chan Message { return s.ch }
func (s *memSub) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

func (m *memoryStore) Publish(_ context.Context, channel, payload string) error {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, sub := range m.subs[channel] {
		select {
		case <-sub.closed:
		case sub.ch <- Message{Channel: channel, Payload: payload}:
		default:
			// Slow subscriber: drop rather than block the publisher.
		}
	}
	return nil
}

func (m *memoryStore) Subscribe(_ context.Context, channel string) (Subscription, error) {
	sub := &memSub{ch: make(chan Message, 64), closed: make(chan struct{})}
	m.subsMu.Lock()
	m.subs[channel] = append(m.subs[channel], sub)
	m.subsMu.Unlock()
	return sub, nil
}

func (m *memoryStore) Pipeline() Pipeliner {
	return &memoryPipeliner{store: m}
}

func (m *memoryStore) Ping(_ context.Context) error { return nil }
func (m *memoryStore) IsReady() bool                { return true }

// memoryPipeliner executes queued ops immediately against the backing
// memoryStore and reports results on Exec, since the in-process store has
// no real network round trip to batch.
type memoryPipeliner struct {
	store *memoryStore
	ops   []func(ctx context.Context) (int64, error)
}

func (p *memoryPipeliner) Incr(ctx context.Context, key string) Pipeliner {
	p.ops = append(p.ops, func(ctx context.Context) (int64, error) {
		return p.store.Incr(ctx, key)
	})
	return p
}

func (p *memoryPipeliner) Expire(ctx context.Context, key string, ttl time.Duration) Pipeliner {
	p.ops = append(p.ops, func(ctx context.Context) (int64, error) {
		return 0, p.store.Expire(ctx, key, ttl)
	})
	return p
}

func (p *memoryPipeliner) Exec(ctx context.Context) ([]int64, error) {
	out := make([]int64, 0, len(p.ops))
	for _, op := range p.ops {
		n, err := op(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, n)
	}
	return out, nil
}
