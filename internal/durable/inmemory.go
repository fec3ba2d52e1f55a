package durable

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/campaignforge/engine/internal/alerts"
	"github.com/campaignforge/engine/internal/apikey"
	"github.com/campaignforge/engine/internal/progress"
)

// The in-memory repositories below back every Repository interface in
// this package for tests and for standalone mode (no postgres
// configured). They hold their own lock and never share state with the
// process's cache store, mirroring the teacher's separation between
// the Redis-backed store and its postgres repositories.

// InMemoryProgressRepository implements progress.Repository.
type InMemoryProgressRepository struct {
	mu   sync.RWMutex
	data map[string]*progress.Progress
}

func NewInMemoryProgressRepository() *InMemoryProgressRepository {
	return &InMemoryProgressRepository{data: make(map[string]*progress.Progress)}
}

func (r *InMemoryProgressRepository) Upsert(_ context.Context, p *progress.Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.data[p.ID] = &cp
	return nil
}

func (r *InMemoryProgressRepository) Get(_ context.Context, id string) (*progress.Progress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.data[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *InMemoryProgressRepository) ListByOwner(_ context.Context, ownerID string, limit int) ([]*progress.Progress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*progress.Progress, 0)
	for _, p := range r.data {
		if p.OwnerID == ownerID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *InMemoryProgressRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, id)
	return nil
}

func (r *InMemoryProgressRepository) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, p := range r.data {
		if p.StartedAt.Before(cutoff) {
			delete(r.data, id)
			n++
		}
	}
	return n, nil
}

func (r *InMemoryProgressRepository) StatsByOwner(_ context.Context, ownerID string) (map[progress.Status]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[progress.Status]int)
	for _, p := range r.data {
		if p.OwnerID == ownerID {
			out[p.Status]++
		}
	}
	return out, nil
}

// InMemoryAPIKeyRepository implements apikey.Repository.
type InMemoryAPIKeyRepository struct {
	mu   sync.RWMutex
	data map[string]*apikey.APIKey
}

func NewInMemoryAPIKeyRepository() *InMemoryAPIKeyRepository {
	return &InMemoryAPIKeyRepository{data: make(map[string]*apikey.APIKey)}
}

func (r *InMemoryAPIKeyRepository) Create(_ context.Context, k *apikey.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *k
	r.data[k.ID] = &cp
	return nil
}

func (r *InMemoryAPIKeyRepository) Get(_ context.Context, id string) (*apikey.APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.data[id]
	if !ok {
		return nil, nil
	}
	cp := *k
	return &cp, nil
}

func (r *InMemoryAPIKeyRepository) GetByHash(_ context.Context, hash string) (*apikey.APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, k := range r.data {
		if k.KeyHash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *InMemoryAPIKeyRepository) Update(_ context.Context, k *apikey.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *k
	r.data[k.ID] = &cp
	return nil
}

func (r *InMemoryAPIKeyRepository) ListByOwner(_ context.Context, ownerID string, includeRevoked bool) ([]*apikey.APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*apikey.APIKey, 0)
	for _, k := range r.data {
		if k.OwnerID != ownerID {
			continue
		}
		if !includeRevoked && k.Status == apikey.StatusRevoked {
			continue
		}
		cp := *k
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *InMemoryAPIKeyRepository) ExpiringBefore(_ context.Context, before time.Time, autoRenewOnly bool) ([]*apikey.APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*apikey.APIKey, 0)
	for _, k := range r.data {
		if k.Status != apikey.StatusActive || !k.ExpiresAt.Before(before) {
			continue
		}
		if autoRenewOnly && !k.AutoRenew {
			continue
		}
		cp := *k
		out = append(out, &cp)
	}
	return out, nil
}

// InMemoryAPIKeyAuditRepository implements apikey.AuditRepository.
type InMemoryAPIKeyAuditRepository struct {
	mu      sync.RWMutex
	entries map[string][]*apikey.AuditEntry
}

func NewInMemoryAPIKeyAuditRepository() *InMemoryAPIKeyAuditRepository {
	return &InMemoryAPIKeyAuditRepository{entries: make(map[string][]*apikey.AuditEntry)}
}

func (r *InMemoryAPIKeyAuditRepository) Append(_ context.Context, e *apikey.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.entries[e.KeyID] = append(r.entries[e.KeyID], &cp)
	return nil
}

func (r *InMemoryAPIKeyAuditRepository) ListByKey(_ context.Context, keyID string, limit int) ([]*apikey.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.entries[keyID]
	out := make([]*apikey.AuditEntry, len(all))
	for i, e := range all {
		cp := *e
		out[len(all)-1-i] = &cp // newest first
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InMemoryAlertIncidentRepository implements alerts.IncidentRepository.
type InMemoryAlertIncidentRepository struct {
	mu   sync.RWMutex
	data map[string]*alerts.Incident
}

func NewInMemoryAlertIncidentRepository() *InMemoryAlertIncidentRepository {
	return &InMemoryAlertIncidentRepository{data: make(map[string]*alerts.Incident)}
}

func (r *InMemoryAlertIncidentRepository) Upsert(_ context.Context, inc *alerts.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *inc
	r.data[inc.ID] = &cp
	return nil
}

func (r *InMemoryAlertIncidentRepository) Get(_ context.Context, id string) (*alerts.Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inc, ok := r.data[id]
	if !ok {
		return nil, nil
	}
	cp := *inc
	return &cp, nil
}

func (r *InMemoryAlertIncidentRepository) FindOpenByRule(_ context.Context, ruleID string) (*alerts.Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *alerts.Incident
	for _, inc := range r.data {
		if inc.RuleID != ruleID || inc.Status != alerts.IncidentOpen {
			continue
		}
		if latest == nil || inc.TriggeredAt.After(latest.TriggeredAt) {
			latest = inc
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *InMemoryAlertIncidentRepository) RecordNotification(_ context.Context, _ *alerts.Notification) error {
	return nil
}

// InMemoryImportRepository implements ImportRepository.
type InMemoryImportRepository struct {
	mu   sync.RWMutex
	data map[string]*Import
}

func NewInMemoryImportRepository() *InMemoryImportRepository {
	return &InMemoryImportRepository{data: make(map[string]*Import)}
}

func (r *InMemoryImportRepository) Create(_ context.Context, imp *Import) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *imp
	r.data[imp.ID] = &cp
	return nil
}

func (r *InMemoryImportRepository) Get(_ context.Context, id string) (*Import, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	imp, ok := r.data[id]
	if !ok {
		return nil, nil
	}
	cp := *imp
	return &cp, nil
}

func (r *InMemoryImportRepository) UpdateStatus(_ context.Context, id string, status RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if imp, ok := r.data[id]; ok {
		imp.Status = status
	}
	return nil
}

// InMemoryBatchRepository implements BatchRepository, shared by import and
// send runs.
type InMemoryBatchRepository struct {
	mu   sync.RWMutex
	data map[string]map[int]*Batch // runID -> index -> batch
}

func NewInMemoryBatchRepository() *InMemoryBatchRepository {
	return &InMemoryBatchRepository{data: make(map[string]map[int]*Batch)}
}

func (r *InMemoryBatchRepository) Upsert(_ context.Context, b *Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data[b.RunID] == nil {
		r.data[b.RunID] = make(map[int]*Batch)
	}
	cp := *b
	r.data[b.RunID][b.Index] = &cp
	return nil
}

func (r *InMemoryBatchRepository) ListByRun(_ context.Context, runID string) ([]*Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Batch, 0)
	for _, b := range r.data[runID] {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// InMemoryContactRepository implements ContactRepository.
type InMemoryContactRepository struct {
	mu   sync.RWMutex
	data map[string]*Contact // ownerID+"|"+email -> contact
}

func NewInMemoryContactRepository() *InMemoryContactRepository {
	return &InMemoryContactRepository{data: make(map[string]*Contact)}
}

func contactKey(ownerID, email string) string { return ownerID + "|" + email }

func (r *InMemoryContactRepository) Upsert(_ context.Context, c *Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.data[contactKey(c.OwnerID, c.Email)] = &cp
	return nil
}

func (r *InMemoryContactRepository) GetByEmail(_ context.Context, ownerID, email string) (*Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.data[contactKey(ownerID, email)]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// InMemorySendRepository implements SendRepository.
type InMemorySendRepository struct {
	mu   sync.RWMutex
	data map[string]*Send
}

func NewInMemorySendRepository() *InMemorySendRepository {
	return &InMemorySendRepository{data: make(map[string]*Send)}
}

func (r *InMemorySendRepository) Create(_ context.Context, s *Send) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.data[s.ID] = &cp
	return nil
}

func (r *InMemorySendRepository) Get(_ context.Context, id string) (*Send, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.data[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *InMemorySendRepository) UpdateStatus(_ context.Context, id string, status RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.data[id]; ok {
		s.Status = status
	}
	return nil
}

// InMemoryDeliveryRepository implements DeliveryRepository.
type InMemoryDeliveryRepository struct {
	mu   sync.RWMutex
	data map[string][]*Delivery // sendID -> deliveries
}

func NewInMemoryDeliveryRepository() *InMemoryDeliveryRepository {
	return &InMemoryDeliveryRepository{data: make(map[string][]*Delivery)}
}

func (r *InMemoryDeliveryRepository) Create(_ context.Context, d *Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.data[d.SendID] = append(r.data[d.SendID], &cp)
	return nil
}

func (r *InMemoryDeliveryRepository) ListBySend(_ context.Context, sendID string, limit int) ([]*Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.data[sendID]
	out := make([]*Delivery, len(all))
	for i, d := range all {
		cp := *d
		out[len(all)-1-i] = &cp
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *InMemoryDeliveryRepository) CountBySendStatus(_ context.Context, sendID string) (map[DeliveryStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[DeliveryStatus]int)
	for _, d := range r.data[sendID] {
		out[d.Status]++
	}
	return out, nil
}
