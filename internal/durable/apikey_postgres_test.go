package durable

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignforge/engine/internal/apikey"
	"github.com/campaignforge/engine/internal/durable/testutil"
)

func TestAPIKeyRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewAPIKeyRepository(db)
	k := &apikey.APIKey{
		ID:          "key-1",
		OwnerID:     "owner-1",
		Name:        "ci",
		KeyHash:     "hash",
		Permissions: []string{"send", "read"},
		Status:      apikey.StatusActive,
		AutoRenew:   true,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
		ExpiresAt:   time.Now().Add(90 * 24 * time.Hour).UTC().Truncate(time.Second),
	}

	mock.ExpectExec(`INSERT INTO api_keys`).
		WithArgs(k.ID, k.OwnerID, k.Name, k.KeyHash, sqlmock.AnyArg(), k.Status, k.AutoRenew,
			sqlmock.AnyArg(), k.CreatedAt, k.ExpiresAt, k.LastUsedAt, k.RevokedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Create(context.Background(), k))

	rows := sqlmock.NewRows(apiKeyColumns).
		AddRow(k.ID, k.OwnerID, k.Name, k.KeyHash, `{send,read}`, k.Status, k.AutoRenew,
			[]byte("{}"), k.CreatedAt, k.ExpiresAt, nil, nil)
	mock.ExpectQuery(`SELECT (.+) FROM api_keys WHERE id = \$1`).
		WithArgs(k.ID).
		WillReturnRows(rows)

	got, err := repo.Get(context.Background(), k.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, k.Name, got.Name)
}

func TestAPIKeyRepositoryGetByHashNotFound(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewAPIKeyRepository(db)
	mock.ExpectQuery(`SELECT (.+) FROM api_keys WHERE key_hash = \$1`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	got, err := repo.GetByHash(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAPIKeyAuditRepositoryAppendAndList(t *testing.T) {
	db, mock, cleanup := testutil.SetupMockDB(t)
	defer cleanup()

	repo := NewAPIKeyAuditRepository(db)
	e := &apikey.AuditEntry{
		ID:        "audit-1",
		KeyID:     "key-1",
		Action:    "created",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	mock.ExpectExec(`INSERT INTO api_key_audit_log`).
		WithArgs(e.ID, e.KeyID, e.Action, e.UserID, e.IPAddress, sqlmock.AnyArg(), e.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Append(context.Background(), e))

	rows := sqlmock.NewRows([]string{"id", "key_id", "action", "user_id", "ip_address", "metadata", "created_at"}).
		AddRow(e.ID, e.KeyID, e.Action, nil, nil, []byte("{}"), e.CreatedAt)
	mock.ExpectQuery(`SELECT (.+) FROM api_key_audit_log WHERE key_id = \$1`).
		WithArgs(e.KeyID).
		WillReturnRows(rows)

	out, err := repo.ListByKey(context.Background(), e.KeyID, 50)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "created", out[0].Action)
}
