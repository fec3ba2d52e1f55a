package apikey

import (
	"context"
	"fmt"
	"time"

	"github.com/campaignforge/engine/internal/store"
	"github.com/campaignforge/engine/pkg/logger"
)

// NotificationSink is the narrow dependency the sweep needs to emit
// renewed/expiring_soon/expired notices; the concrete wiring (email,
// webhook, ...) lives outside this package.
type NotificationSink interface {
	Notify(ctx context.Context, ownerID, kind string, key *APIKey) error
}

const dedupTTL = 24 * time.Hour

// Sweeper runs the periodic scheduler task from spec.md §4.6: auto-renews
// keys expiring within 7 days that opted in, and emits (deduplicated)
// expiring_soon/expired notices.
type Sweeper struct {
	service *Service
	repo    Repository
	store   store.Store
	sink    NotificationSink
	log     logger.Logger
}

func NewSweeper(service *Service, repo Repository, s store.Store, sink NotificationSink, log logger.Logger) *Sweeper {
	return &Sweeper{service: service, repo: repo, store: s, sink: sink, log: log}
}

func dedupKey(keyID, kind string) string { return fmt.Sprintf("apikey:notified:%s:%s", kind, keyID) }

func (sw *Sweeper) alreadyNotified(ctx context.Context, keyID, kind string) bool {
	_, ok, err := sw.store.Get(ctx, dedupKey(keyID, kind))
	return err == nil && ok
}

func (sw *Sweeper) markNotified(ctx context.Context, keyID, kind string) {
	_ = sw.store.SetEx(ctx, dedupKey(keyID, kind), "1", dedupTTL)
}

// Run finds keys expiring within 7 days, auto-renewing those with
// AutoRenew set and emitting expiring_soon/expired notices for the rest,
// suppressing duplicates within the last 24h.
func (sw *Sweeper) Run(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, 7)
	keys, err := sw.repo.ExpiringBefore(ctx, cutoff, false)
	if err != nil {
		return err
	}

	for _, k := range keys {
		if k.Status != StatusActive {
			continue
		}
		expired := time.Now().After(k.ExpiresAt)

		if k.AutoRenew && !expired {
			if err := sw.service.Renew(ctx, k.ID, k.OwnerID, "scheduler", 90); err != nil {
				if sw.log != nil {
					sw.log.WithFields(map[string]interface{}{"key_id": k.ID, "error": err.Error()}).
						Warn("api key auto-renew failed")
				}
				continue
			}
			sw.emit(ctx, k, "renewed")
			continue
		}

		kind := "expiring_soon"
		if expired {
			kind = "expired"
		}
		if sw.alreadyNotified(ctx, k.ID, kind) {
			continue
		}
		sw.emit(ctx, k, kind)
		sw.markNotified(ctx, k.ID, kind)
	}
	return nil
}

func (sw *Sweeper) emit(ctx context.Context, k *APIKey, kind string) {
	if sw.sink == nil {
		return
	}
	if err := sw.sink.Notify(ctx, k.OwnerID, kind, k); err != nil && sw.log != nil {
		sw.log.WithFields(map[string]interface{}{"key_id": k.ID, "kind": kind, "error": err.Error()}).
			Warn("api key notification failed")
	}
}
