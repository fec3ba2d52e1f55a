package apikey

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignforge/engine/internal/store"
)

type fakeSink struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSink) Notify(_ context.Context, ownerID, kind string, key *APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, kind+":"+key.ID)
	return nil
}

func TestSweeperAutoRenewsOptedInKeys(t *testing.T) {
	repo, audit := newFakeRepo(), &fakeAudit{}
	svc := NewService(repo, audit, nil)
	s := store.NewMemoryStore(time.Minute)
	sink := &fakeSink{}
	sw := NewSweeper(svc, repo, s, sink, nil)

	created, err := svc.Create(context.Background(), "owner-1", "k", nil, 5, true)
	require.NoError(t, err)

	require.NoError(t, sw.Run(context.Background()))

	repo.mu.Lock()
	expiresAt := repo.keys[created.ID].ExpiresAt
	repo.mu.Unlock()
	assert.True(t, expiresAt.After(time.Now().AddDate(0, 0, 30)))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Contains(t, sink.calls, "renewed:"+created.ID)
}

func TestSweeperEmitsExpiringSoonOnceWithin24h(t *testing.T) {
	repo, audit := newFakeRepo(), &fakeAudit{}
	svc := NewService(repo, audit, nil)
	s := store.NewMemoryStore(time.Minute)
	sink := &fakeSink{}
	sw := NewSweeper(svc, repo, s, sink, nil)

	created, err := svc.Create(context.Background(), "owner-1", "k", nil, 5, false)
	require.NoError(t, err)

	require.NoError(t, sw.Run(context.Background()))
	require.NoError(t, sw.Run(context.Background()))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	count := 0
	for _, c := range sink.calls {
		if c == "expiring_soon:"+created.ID {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
