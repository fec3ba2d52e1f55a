package durable

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignforge/engine/internal/durable/testutil"
	"github.com/campaignforge/engine/internal/progress"
)

func TestProgressRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewProgressRepository(db)
	p := &progress.Progress{
		ID:        "prog-1",
		Kind:      progress.KindImport,
		OwnerID:   "owner-1",
		Status:    progress.StatusProcessing,
		Total:     100,
		Processed: 10,
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}

	mock.ExpectExec(`INSERT INTO progress_records`).
		WithArgs(p.ID, p.Kind, p.OwnerID, p.Status, p.Percent, p.Total, p.Processed,
			p.Failed, p.Message, p.StartedAt, p.EndedAt, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), p))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressRepositoryGetNotFound(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewProgressRepository(db)
	mock.ExpectQuery(`SELECT (.+) FROM progress_records WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	p, err := repo.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, p)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressRepositoryListByOwner(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewProgressRepository(db)
	started := time.Now().UTC().Truncate(time.Second)
	rows := sqlmock.NewRows(progressColumns).
		AddRow("prog-1", progress.KindImport, "owner-1", progress.StatusCompleted, 100.0, 100, 100,
			0, "", started, nil, []byte("{}"), []byte("[]"))

	mock.ExpectQuery(`SELECT (.+) FROM progress_records WHERE owner_id = \$1`).
		WithArgs("owner-1").
		WillReturnRows(rows)

	out, err := repo.ListByOwner(context.Background(), "owner-1", 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "prog-1", out[0].ID)
}

func TestProgressRepositoryStatsByOwner(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewProgressRepository(db)
	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow(progress.StatusCompleted, 3).
		AddRow(progress.StatusProcessing, 1)

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM progress_records WHERE owner_id = \$1 GROUP BY status`).
		WithArgs("owner-1").
		WillReturnRows(rows)

	stats, err := repo.StatsByOwner(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats[progress.StatusCompleted])
	assert.Equal(t, 1, stats[progress.StatusProcessing])
}
