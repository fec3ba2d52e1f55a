package durable

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/campaignforge/engine/internal/apikey"
)

// APIKeyRepository implements apikey.Repository against postgres.
type APIKeyRepository struct {
	db *sql.DB
}

func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

var apiKeyColumns = []string{"id", "owner_id", "name", "key_hash", "permissions", "status",
	"auto_renew", "settings", "created_at", "expires_at", "last_used_at", "revoked_at"}

func (r *APIKeyRepository) Create(ctx context.Context, k *apikey.APIKey) error {
	settingsJSON, err := json.Marshal(k.Settings)
	if err != nil {
		return fmt.Errorf("marshal api key settings: %w", err)
	}
	query, args, err := psql.Insert("api_keys").
		Columns(apiKeyColumns...).
		Values(k.ID, k.OwnerID, k.Name, k.KeyHash, pq.Array(k.Permissions), k.Status,
			k.AutoRenew, settingsJSON, k.CreatedAt, k.ExpiresAt, k.LastUsedAt, k.RevokedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build api key insert: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func scanAPIKey(row interface{ Scan(...interface{}) error }) (*apikey.APIKey, error) {
	var k apikey.APIKey
	var settingsJSON []byte
	var lastUsedAt, revokedAt sql.NullTime

	err := row.Scan(&k.ID, &k.OwnerID, &k.Name, &k.KeyHash, pq.Array(&k.Permissions), &k.Status,
		&k.AutoRenew, &settingsJSON, &k.CreatedAt, &k.ExpiresAt, &lastUsedAt, &revokedAt)
	if err != nil {
		return nil, err
	}
	if lastUsedAt.Valid {
		k.LastUsedAt = &lastUsedAt.Time
	}
	if revokedAt.Valid {
		k.RevokedAt = &revokedAt.Time
	}
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &k.Settings); err != nil {
			return nil, fmt.Errorf("unmarshal api key settings: %w", err)
		}
	}
	return &k, nil
}

func (r *APIKeyRepository) Get(ctx context.Context, id string) (*apikey.APIKey, error) {
	query, args, err := psql.Select(apiKeyColumns...).From("api_keys").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build api key get: %w", err)
	}
	k, err := scanAPIKey(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return k, nil
}

func (r *APIKeyRepository) GetByHash(ctx context.Context, hash string) (*apikey.APIKey, error) {
	query, args, err := psql.Select(apiKeyColumns...).From("api_keys").Where(sq.Eq{"key_hash": hash}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build api key get by hash: %w", err)
	}
	k, err := scanAPIKey(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return k, nil
}

func (r *APIKeyRepository) Update(ctx context.Context, k *apikey.APIKey) error {
	settingsJSON, err := json.Marshal(k.Settings)
	if err != nil {
		return fmt.Errorf("marshal api key settings: %w", err)
	}
	query, args, err := psql.Update("api_keys").
		Set("name", k.Name).
		Set("status", k.Status).
		Set("auto_renew", k.AutoRenew).
		Set("settings", settingsJSON).
		Set("expires_at", k.ExpiresAt).
		Set("last_used_at", k.LastUsedAt).
		Set("revoked_at", k.RevokedAt).
		Where(sq.Eq{"id": k.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build api key update: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *APIKeyRepository) ListByOwner(ctx context.Context, ownerID string, includeRevoked bool) ([]*apikey.APIKey, error) {
	b := psql.Select(apiKeyColumns...).From("api_keys").Where(sq.Eq{"owner_id": ownerID})
	if !includeRevoked {
		b = b.Where(sq.NotEq{"status": apikey.StatusRevoked})
	}
	query, args, err := b.OrderBy("created_at DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build api key list: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	out := make([]*apikey.APIKey, 0)
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *APIKeyRepository) ExpiringBefore(ctx context.Context, before time.Time, autoRenewOnly bool) ([]*apikey.APIKey, error) {
	b := psql.Select(apiKeyColumns...).From("api_keys").
		Where(sq.Eq{"status": apikey.StatusActive}).
		Where(sq.Lt{"expires_at": before})
	if autoRenewOnly {
		b = b.Where(sq.Eq{"auto_renew": true})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build api key expiring query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query expiring api keys: %w", err)
	}
	defer rows.Close()

	out := make([]*apikey.APIKey, 0)
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// APIKeyAuditRepository implements apikey.AuditRepository against postgres.
type APIKeyAuditRepository struct {
	db *sql.DB
}

func NewAPIKeyAuditRepository(db *sql.DB) *APIKeyAuditRepository {
	return &APIKeyAuditRepository{db: db}
}

func (r *APIKeyAuditRepository) Append(ctx context.Context, e *apikey.AuditEntry) error {
	metadataJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	query, args, err := psql.Insert("api_key_audit_log").
		Columns("id", "key_id", "action", "user_id", "ip_address", "metadata", "created_at").
		Values(e.ID, e.KeyID, e.Action, e.UserID, e.IPAddress, metadataJSON, e.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *APIKeyAuditRepository) ListByKey(ctx context.Context, keyID string, limit int) ([]*apikey.AuditEntry, error) {
	query, args, err := psql.Select("id", "key_id", "action", "user_id", "ip_address", "metadata", "created_at").
		From("api_key_audit_log").
		Where(sq.Eq{"key_id": keyID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit list: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	out := make([]*apikey.AuditEntry, 0)
	for rows.Next() {
		var e apikey.AuditEntry
		var metadataJSON []byte
		var userID, ip sql.NullString
		if err := rows.Scan(&e.ID, &e.KeyID, &e.Action, &userID, &ip, &metadataJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.UserID, e.IPAddress = userID.String, ip.String
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
