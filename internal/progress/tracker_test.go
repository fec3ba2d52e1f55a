package progress_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignforge/engine/internal/durable"
	"github.com/campaignforge/engine/internal/progress"
	"github.com/campaignforge/engine/internal/store"
	"github.com/campaignforge/engine/pkg/logger"
)

func newTestTracker(t *testing.T) (*progress.Tracker, store.Store) {
	t.Helper()
	s := store.NewMemoryStore(0)
	repo := durable.NewInMemoryProgressRepository()
	return progress.NewTracker(s, repo, logger.NewTestLogger()), s
}

func intPtr(i int) *int                   { return &i }
func statusPtr(s progress.Status) *progress.Status { return &s }

func TestCreate_ReturnsPendingRecord(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	p, err := tr.Create(ctx, "imp-1", progress.KindImport, "owner-1", 2, nil)
	require.NoError(t, err)
	assert.Equal(t, progress.StatusPending, p.Status)
	assert.Equal(t, 2, p.Total)
	assert.Nil(t, p.EndedAt)
}

// seed test 3: two valid records reach completed, total=2, processed=2,
// failed=0, progress=100.
func TestUpdate_RecomputesPercentAndStampsEndedAt(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tr.Create(ctx, "imp-2", progress.KindImport, "owner-1", 2, nil)
	require.NoError(t, err)

	p, err := tr.Update(ctx, "imp-2", progress.Patch{Processed: intPtr(2), Status: statusPtr(progress.StatusCompleted)})
	require.NoError(t, err)
	assert.Equal(t, 100, p.Percent)
	assert.Equal(t, progress.StatusCompleted, p.Status)
	require.NotNil(t, p.EndedAt)
}

// Progress.monotonic: for any id not reset, progress_{t+1} >= progress_t.
func TestUpdate_ProgressIsMonotonic(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tr.Create(ctx, "imp-3", progress.KindImport, "owner-1", 10, nil)
	require.NoError(t, err)

	var last int
	for _, processed := range []int{2, 5, 8, 10} {
		p, err := tr.Update(ctx, "imp-3", progress.Patch{Processed: intPtr(processed)})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.Percent, last)
		last = p.Percent
	}
	assert.Equal(t, 100, last)
}

// Import.conservation: processed + failed <= total always.
func TestUpdate_ConservationInvariant(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tr.Create(ctx, "imp-4", progress.KindImport, "owner-1", 5, nil)
	require.NoError(t, err)

	p, err := tr.Update(ctx, "imp-4", progress.Patch{Processed: intPtr(3), Failed: intPtr(1)})
	require.NoError(t, err)
	assert.LessOrEqual(t, p.Processed+p.Failed, p.Total)
	assert.Equal(t, 80, p.Percent)
}

// Progress cache miss falls back to durable store and returns the stored
// record.
func TestGet_FallsBackToDurableStoreOnCacheMiss(t *testing.T) {
	tr, s := newTestTracker(t)
	ctx := context.Background()

	_, err := tr.Create(ctx, "imp-5", progress.KindImport, "owner-1", 10, nil)
	require.NoError(t, err)

	// Simulate cache eviction: the durable repo still has the record.
	require.NoError(t, s.Del(ctx, "progress:entry:imp-5"))

	p, err := tr.Get(ctx, "imp-5")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "imp-5", p.ID)

	// Get() re-populates the cache on a durable hit.
	cached, ok, err := s.Get(ctx, "progress:entry:imp-5")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, cached)
}

func TestGet_ReturnsNilOnTotalMiss(t *testing.T) {
	tr, _ := newTestTracker(t)
	p, err := tr.Get(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestListByOwner_OrdersMostRecentFirst(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tr.Create(ctx, "imp-a", progress.KindImport, "owner-2", 1, nil)
	require.NoError(t, err)
	_, err = tr.Create(ctx, "imp-b", progress.KindImport, "owner-2", 1, nil)
	require.NoError(t, err)

	list, err := tr.ListByOwner(ctx, "owner-2")
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, "imp-b", list[0].ID)
}

func TestUpdate_UnknownIDReturnsError(t *testing.T) {
	tr, _ := newTestTracker(t)
	_, err := tr.Update(context.Background(), "missing", progress.Patch{Processed: intPtr(1)})
	assert.Error(t, err)
}
