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
)

func TestImportRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewImportPostgresRepository(db)
	imp := &Import{
		ID: "imp-1", OwnerID: "owner-1", TotalRecords: 500, TotalBatches: 5,
		Status: RunProcessing, CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	mock.ExpectExec(`INSERT INTO imports`).
		WithArgs(imp.ID, imp.OwnerID, imp.TotalRecords, imp.TotalBatches, imp.Status, imp.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Create(context.Background(), imp))

	rows := sqlmock.NewRows(importColumns).
		AddRow(imp.ID, imp.OwnerID, imp.TotalRecords, imp.TotalBatches, imp.Status, imp.CreatedAt)
	mock.ExpectQuery(`SELECT (.+) FROM imports WHERE id = \$1`).
		WithArgs(imp.ID).
		WillReturnRows(rows)

	got, err := repo.Get(context.Background(), imp.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, imp.TotalRecords, got.TotalRecords)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImportRepositoryGetNotFound(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewImportPostgresRepository(db)
	mock.ExpectQuery(`SELECT (.+) FROM imports WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	got, err := repo.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestImportRepositoryUpdateStatus(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewImportPostgresRepository(db)
	mock.ExpectExec(`UPDATE imports SET status = \$1 WHERE id = \$2`).
		WithArgs(RunCompleted, "imp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), "imp-1", RunCompleted))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewBatchPostgresRepository(db)
	b := &Batch{ID: "imp-1:0", RunID: "imp-1", Index: 0, Processed: 90, Failed: 10, CompletedAt: time.Now().UTC().Truncate(time.Second)}

	mock.ExpectExec(`INSERT INTO batches`).
		WithArgs(b.ID, b.RunID, b.Index, b.Processed, b.Failed, sqlmock.AnyArg(), b.CompletedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), b))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRepositoryListByRun(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewBatchPostgresRepository(db)
	completed := time.Now().UTC().Truncate(time.Second)
	rows := sqlmock.NewRows([]string{"id", "run_id", "index", "processed", "failed", "errors", "completed_at"}).
		AddRow("imp-1:0", "imp-1", 0, 100, 0, []byte("[]"), completed)

	mock.ExpectQuery(`SELECT (.+) FROM batches WHERE run_id = \$1 ORDER BY index ASC`).
		WithArgs("imp-1").
		WillReturnRows(rows)

	out, err := repo.ListByRun(context.Background(), "imp-1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 100, out[0].Processed)
}

func TestContactRepositoryUpsertAndGetByEmail(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewContactPostgresRepository(db)
	now := time.Now().UTC().Truncate(time.Second)
	c := &Contact{
		OwnerID: "owner-1", Email: "a@example.com", Name: "A", Tags: []string{"vip"},
		Metadata: map[string]interface{}{"plan": "pro"}, Source: "import", Status: "subscribed",
		CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectExec(`INSERT INTO contacts`).
		WithArgs(c.OwnerID, c.Email, c.Name, c.Phone, sqlmock.AnyArg(), sqlmock.AnyArg(), c.Source,
			c.Status, c.CreatedAt, c.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Upsert(context.Background(), c))

	rows := sqlmock.NewRows([]string{"owner_id", "email", "name", "phone", "tags", "metadata",
		"source", "status", "created_at", "updated_at"}).
		AddRow(c.OwnerID, c.Email, c.Name, c.Phone, "{vip}", []byte(`{"plan":"pro"}`),
			c.Source, c.Status, now, now)
	mock.ExpectQuery(`SELECT (.+) FROM contacts WHERE email = \$1 AND owner_id = \$2`).
		WithArgs(c.Email, c.OwnerID).
		WillReturnRows(rows)

	got, err := repo.GetByEmail(context.Background(), c.OwnerID, c.Email)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "pro", got.Metadata["plan"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSendRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewSendPostgresRepository(db)
	s := &Send{
		ID: "send-1", CampaignID: "camp-1", OwnerID: "owner-1", TotalRecipients: 200,
		TotalBatches: 2, Status: RunProcessing, CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	mock.ExpectExec(`INSERT INTO sends`).
		WithArgs(s.ID, s.CampaignID, s.OwnerID, s.TotalRecipients, s.TotalBatches, s.Status, s.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Create(context.Background(), s))

	rows := sqlmock.NewRows(sendColumns).
		AddRow(s.ID, s.CampaignID, s.OwnerID, s.TotalRecipients, s.TotalBatches, s.Status, s.CreatedAt)
	mock.ExpectQuery(`SELECT (.+) FROM sends WHERE id = \$1`).
		WithArgs(s.ID).
		WillReturnRows(rows)

	got, err := repo.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.CampaignID, got.CampaignID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSendRepositoryUpdateStatus(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewSendPostgresRepository(db)
	mock.ExpectExec(`UPDATE sends SET status = \$1 WHERE id = \$2`).
		WithArgs(RunCompleted, "send-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), "send-1", RunCompleted))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepositoryCreate(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewDeliveryPostgresRepository(db)
	d := &Delivery{
		ID: "del-1", SendID: "send-1", RecipientID: "rcpt-1", Email: "a@example.com",
		Status: DeliverySent, ProviderID: "provider-xyz", SentAt: time.Now().UTC().Truncate(time.Second),
	}

	mock.ExpectExec(`INSERT INTO deliveries`).
		WithArgs(d.ID, d.SendID, d.RecipientID, d.Email, d.Status, d.ProviderID, d.Error, d.SentAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), d))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepositoryListBySend(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewDeliveryPostgresRepository(db)
	sentAt := time.Now().UTC().Truncate(time.Second)
	rows := sqlmock.NewRows([]string{"id", "send_id", "recipient_id", "email", "status", "provider_id", "error", "sent_at"}).
		AddRow("del-1", "send-1", "rcpt-1", "a@example.com", DeliverySent, "provider-xyz", nil, sentAt).
		AddRow("del-2", "send-1", "rcpt-2", "b@example.com", DeliveryFailed, nil, "smtp timeout", sentAt)

	mock.ExpectQuery(`SELECT (.+) FROM deliveries WHERE send_id = \$1 ORDER BY sent_at DESC LIMIT 50`).
		WithArgs("send-1").
		WillReturnRows(rows)

	out, err := repo.ListBySend(context.Background(), "send-1", 50)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "provider-xyz", out[0].ProviderID)
	assert.Equal(t, "smtp timeout", out[1].Error)
}

func TestDeliveryRepositoryCountBySendStatus(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewDeliveryPostgresRepository(db)
	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow(DeliverySent, 180).
		AddRow(DeliveryFailed, 20)

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM deliveries WHERE send_id = \$1 GROUP BY status`).
		WithArgs("send-1").
		WillReturnRows(rows)

	stats, err := repo.CountBySendStatus(context.Background(), "send-1")
	require.NoError(t, err)
	assert.Equal(t, 180, stats[DeliverySent])
	assert.Equal(t, 20, stats[DeliveryFailed])
	require.NoError(t, mock.ExpectationsWereMet())
}
