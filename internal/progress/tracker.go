// Package progress implements the cache-then-durable-then-publish progress
// tracker from spec.md §4.4, generalized from the single-purpose broadcast
// progress tracker in
// _examples/defmans7-notifuse/internal/service/broadcast/progress_tracker.go
// (which only tracked one broadcast's sent/failed counters in memory) into
// a multi-kind, multi-owner tracker backed by the shared store and a
// durable repository, with pub/sub fan-out for live subscribers.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/campaignforge/engine/internal/store"
	"github.com/campaignforge/engine/pkg/logger"
)

type Kind string

const (
	KindImport   Kind = "import"
	KindEmail    Kind = "email"
	KindCampaign Kind = "campaign"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Progress is the tracked entity from the data model.
type Progress struct {
	ID        string                 `json:"id"`
	Kind      Kind                   `json:"kind"`
	OwnerID   string                 `json:"ownerId"`
	Status    Status                 `json:"status"`
	Percent   int                    `json:"progress"`
	Total     int                    `json:"total"`
	Processed int                    `json:"processed"`
	Failed    int                    `json:"failed"`
	Message   string                 `json:"message"`
	StartedAt time.Time              `json:"startedAt"`
	EndedAt   *time.Time             `json:"endedAt,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Errors    []string               `json:"errors,omitempty"`
}

// Patch carries the mutable fields accepted by Update; a nil pointer/field
// means "leave unchanged".
type Patch struct {
	Percent   *int
	Processed *int
	Failed    *int
	Message   *string
	Status    *Status
	Metadata  map[string]interface{}
	Errors    []string
}

// Repository is the narrow durable-store dependency this package needs;
// internal/durable provides the concrete postgres/inmemory implementations.
type Repository interface {
	Upsert(ctx context.Context, p *Progress) error
	Get(ctx context.Context, id string) (*Progress, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Progress, error)
	Delete(ctx context.Context, id string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	StatsByOwner(ctx context.Context, ownerID string) (map[Status]int, error)
}

const cacheTTL = time.Hour

// Tracker implements the read-through/write-through progress API.
type Tracker struct {
	store store.Store
	repo  Repository
	log   logger.Logger
}

func NewTracker(s store.Store, repo Repository, log logger.Logger) *Tracker {
	return &Tracker{store: s, repo: repo, log: log}
}

func cacheKey(id string) string { return "progress:entry:" + id }
func channelFor(ownerID string) string { return "progress:" + ownerID }

func (t *Tracker) Create(ctx context.Context, id string, kind Kind, ownerID string, total int, metadata map[string]interface{}) (*Progress, error) {
	p := &Progress{
		ID:        id,
		Kind:      kind,
		OwnerID:   ownerID,
		Status:    StatusPending,
		Total:     total,
		StartedAt: time.Now(),
		Metadata:  metadata,
	}
	if err := t.writeThrough(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Update applies patch to the record identified by id, recomputing
// progress when the caller didn't supply one explicitly, and stamping
// EndedAt when status lands on a terminal value.
func (t *Tracker) Update(ctx context.Context, id string, patch Patch) (*Progress, error) {
	p, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("progress %q not found", id)
	}

	if patch.Processed != nil {
		p.Processed = *patch.Processed
	}
	if patch.Failed != nil {
		p.Failed = *patch.Failed
	}
	if patch.Message != nil {
		p.Message = *patch.Message
	}
	if patch.Metadata != nil {
		p.Metadata = patch.Metadata
	}
	if patch.Errors != nil {
		p.Errors = patch.Errors
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}

	if patch.Percent != nil {
		p.Percent = *patch.Percent
	} else if p.Total > 0 {
		p.Percent = int(math.Round(float64(p.Processed+p.Failed) / float64(p.Total) * 100))
	}

	if p.Status == StatusCompleted || p.Status == StatusFailed || p.Status == StatusCancelled {
		if p.EndedAt == nil {
			now := time.Now()
			p.EndedAt = &now
		}
	}

	if err := t.writeThrough(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// writeThrough implements the cache-then-durable-then-publish order: the
// cache entry stays authoritative up to its TTL even if the durable write
// fails, and publish failures are logged and swallowed.
func (t *Tracker) writeThrough(ctx context.Context, p *Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := t.store.SetEx(ctx, cacheKey(p.ID), string(data), cacheTTL); err != nil {
		return err
	}

	if t.repo != nil {
		if err := t.repo.Upsert(ctx, p); err != nil && t.log != nil {
			t.log.WithFields(map[string]interface{}{
				"progress_id": p.ID,
				"error":       err.Error(),
			}).Warn("progress durable write failed, cache entry remains authoritative")
		}
	}

	if err := t.store.Publish(ctx, channelFor(p.OwnerID), string(data)); err != nil && t.log != nil {
		t.log.WithField("error", err.Error()).Warn("progress publish failed")
	}
	return nil
}

// Get is read-through: cache first, durable store on miss.
func (t *Tracker) Get(ctx context.Context, id string) (*Progress, error) {
	v, ok, err := t.store.Get(ctx, cacheKey(id))
	if err != nil {
		return nil, err
	}
	if ok {
		var p Progress
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return nil, err
		}
		return &p, nil
	}
	if t.repo == nil {
		return nil, nil
	}
	p, err := t.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	if data, err := json.Marshal(p); err == nil {
		_ = t.store.SetEx(ctx, cacheKey(id), string(data), cacheTTL)
	}
	return p, nil
}

// ListByOwner returns up to 50 most recent progress records for ownerID.
func (t *Tracker) ListByOwner(ctx context.Context, ownerID string) ([]*Progress, error) {
	if t.repo == nil {
		return nil, nil
	}
	list, err := t.repo.ListByOwner(ctx, ownerID, 50)
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.After(list[j].StartedAt) })
	return list, nil
}

func (t *Tracker) Delete(ctx context.Context, id string) error {
	_ = t.store.Del(ctx, cacheKey(id))
	if t.repo == nil {
		return nil
	}
	return t.repo.Delete(ctx, id)
}

func (t *Tracker) CleanupOlderThan(ctx context.Context, age time.Duration) (int, error) {
	if t.repo == nil {
		return 0, nil
	}
	return t.repo.DeleteOlderThan(ctx, time.Now().Add(-age))
}

func (t *Tracker) Stats(ctx context.Context, ownerID string) (map[Status]int, error) {
	if t.repo == nil {
		return map[Status]int{}, nil
	}
	return t.repo.StatsByOwner(ctx, ownerID)
}

// Subscription is a live feed of progress updates for one owner.
type Subscription struct {
	sub store.Subscription
	ch  chan *Progress
	wg  sync.WaitGroup
}

func (s *Subscription) Events() <-chan *Progress { return s.ch }

func (s *Subscription) Close() error {
	err := s.sub.Close()
	s.wg.Wait()
	return err
}

// Subscribe opens a live feed on channel progress:{ownerId}.
func (t *Tracker) Subscribe(ctx context.Context, ownerID string) (*Subscription, error) {
	sub, err := t.store.Subscribe(ctx, channelFor(ownerID))
	if err != nil {
		return nil, err
	}
	s := &Subscription{sub: sub, ch: make(chan *Progress, 32)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.ch)
		for msg := range sub.Channel() {
			var p Progress
			if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
				continue
			}
			select {
			case s.ch <- &p:
			case <-ctx.Done():
				return
			}
		}
	}()
	return s, nil
}
