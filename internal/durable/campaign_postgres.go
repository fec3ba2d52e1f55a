package durable

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
)

// ImportPostgresRepository implements ImportRepository against postgres.
type ImportPostgresRepository struct {
	db *sql.DB
}

func NewImportPostgresRepository(db *sql.DB) *ImportPostgresRepository {
	return &ImportPostgresRepository{db: db}
}

var importColumns = []string{"id", "owner_id", "total_records", "total_batches", "status", "created_at"}

func (r *ImportPostgresRepository) Create(ctx context.Context, imp *Import) error {
	query, args, err := psql.Insert("imports").
		Columns(importColumns...).
		Values(imp.ID, imp.OwnerID, imp.TotalRecords, imp.TotalBatches, imp.Status, imp.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build import insert: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *ImportPostgresRepository) Get(ctx context.Context, id string) (*Import, error) {
	query, args, err := psql.Select(importColumns...).From("imports").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build import get: %w", err)
	}
	var imp Import
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&imp.ID, &imp.OwnerID, &imp.TotalRecords, &imp.TotalBatches, &imp.Status, &imp.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get import: %w", err)
	}
	return &imp, nil
}

func (r *ImportPostgresRepository) UpdateStatus(ctx context.Context, id string, status RunStatus) error {
	query, args, err := psql.Update("imports").Set("status", status).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build import status update: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// BatchPostgresRepository implements BatchRepository against postgres,
// shared by both import and send runs.
type BatchPostgresRepository struct {
	db *sql.DB
}

func NewBatchPostgresRepository(db *sql.DB) *BatchPostgresRepository {
	return &BatchPostgresRepository{db: db}
}

func (r *BatchPostgresRepository) Upsert(ctx context.Context, b *Batch) error {
	errorsJSON, err := json.Marshal(b.Errors)
	if err != nil {
		return fmt.Errorf("marshal batch errors: %w", err)
	}
	query, args, err := psql.Insert("batches").
		Columns("id", "run_id", "index", "processed", "failed", "errors", "completed_at").
		Values(b.ID, b.RunID, b.Index, b.Processed, b.Failed, errorsJSON, b.CompletedAt).
		Suffix(`ON CONFLICT (run_id, index) DO UPDATE SET
			processed = EXCLUDED.processed, failed = EXCLUDED.failed,
			errors = EXCLUDED.errors, completed_at = EXCLUDED.completed_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build batch upsert: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *BatchPostgresRepository) ListByRun(ctx context.Context, runID string) ([]*Batch, error) {
	query, args, err := psql.Select("id", "run_id", "index", "processed", "failed", "errors", "completed_at").
		From("batches").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("index ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build batch list: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	out := make([]*Batch, 0)
	for rows.Next() {
		var b Batch
		var errorsJSON []byte
		if err := rows.Scan(&b.ID, &b.RunID, &b.Index, &b.Processed, &b.Failed, &errorsJSON, &b.CompletedAt); err != nil {
			return nil, err
		}
		if len(errorsJSON) > 0 {
			if err := json.Unmarshal(errorsJSON, &b.Errors); err != nil {
				return nil, fmt.Errorf("unmarshal batch errors: %w", err)
			}
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// ContactPostgresRepository implements ContactRepository against postgres.
type ContactPostgresRepository struct {
	db *sql.DB
}

func NewContactPostgresRepository(db *sql.DB) *ContactPostgresRepository {
	return &ContactPostgresRepository{db: db}
}

func (r *ContactPostgresRepository) Upsert(ctx context.Context, c *Contact) error {
	metadataJSON, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal contact metadata: %w", err)
	}
	query, args, err := psql.Insert("contacts").
		Columns("owner_id", "email", "name", "phone", "tags", "metadata", "source",
			"status", "created_at", "updated_at").
		Values(c.OwnerID, c.Email, c.Name, c.Phone, pq.Array(c.Tags), metadataJSON, c.Source,
			c.Status, c.CreatedAt, c.UpdatedAt).
		Suffix(`ON CONFLICT (owner_id, email) DO UPDATE SET
			name = EXCLUDED.name, phone = EXCLUDED.phone, tags = EXCLUDED.tags,
			metadata = EXCLUDED.metadata, source = EXCLUDED.source, status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build contact upsert: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *ContactPostgresRepository) GetByEmail(ctx context.Context, ownerID, email string) (*Contact, error) {
	query, args, err := psql.Select("owner_id", "email", "name", "phone", "tags", "metadata",
		"source", "status", "created_at", "updated_at").
		From("contacts").
		Where(sq.Eq{"owner_id": ownerID, "email": email}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build contact get: %w", err)
	}
	var c Contact
	var metadataJSON []byte
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&c.OwnerID, &c.Email, &c.Name, &c.Phone,
		pq.Array(&c.Tags), &metadataJSON, &c.Source, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get contact: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal contact metadata: %w", err)
		}
	}
	return &c, nil
}

// SendPostgresRepository implements SendRepository against postgres.
type SendPostgresRepository struct {
	db *sql.DB
}

func NewSendPostgresRepository(db *sql.DB) *SendPostgresRepository {
	return &SendPostgresRepository{db: db}
}

var sendColumns = []string{"id", "campaign_id", "owner_id", "total_recipients", "total_batches", "status", "created_at"}

func (r *SendPostgresRepository) Create(ctx context.Context, s *Send) error {
	query, args, err := psql.Insert("sends").
		Columns(sendColumns...).
		Values(s.ID, s.CampaignID, s.OwnerID, s.TotalRecipients, s.TotalBatches, s.Status, s.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build send insert: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *SendPostgresRepository) Get(ctx context.Context, id string) (*Send, error) {
	query, args, err := psql.Select(sendColumns...).From("sends").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build send get: %w", err)
	}
	var s Send
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&s.ID, &s.CampaignID, &s.OwnerID, &s.TotalRecipients, &s.TotalBatches, &s.Status, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get send: %w", err)
	}
	return &s, nil
}

func (r *SendPostgresRepository) UpdateStatus(ctx context.Context, id string, status RunStatus) error {
	query, args, err := psql.Update("sends").Set("status", status).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build send status update: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// DeliveryPostgresRepository implements DeliveryRepository against postgres.
type DeliveryPostgresRepository struct {
	db *sql.DB
}

func NewDeliveryPostgresRepository(db *sql.DB) *DeliveryPostgresRepository {
	return &DeliveryPostgresRepository{db: db}
}

func (r *DeliveryPostgresRepository) Create(ctx context.Context, d *Delivery) error {
	query, args, err := psql.Insert("deliveries").
		Columns("id", "send_id", "recipient_id", "email", "status", "provider_id", "error", "sent_at").
		Values(d.ID, d.SendID, d.RecipientID, d.Email, d.Status, d.ProviderID, d.Error, d.SentAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delivery insert: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *DeliveryPostgresRepository) ListBySend(ctx context.Context, sendID string, limit int) ([]*Delivery, error) {
	query, args, err := psql.Select("id", "send_id", "recipient_id", "email", "status", "provider_id", "error", "sent_at").
		From("deliveries").
		Where(sq.Eq{"send_id": sendID}).
		OrderBy("sent_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build delivery list: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	out := make([]*Delivery, 0)
	for rows.Next() {
		var d Delivery
		var providerID, errMsg sql.NullString
		if err := rows.Scan(&d.ID, &d.SendID, &d.RecipientID, &d.Email, &d.Status, &providerID, &errMsg, &d.SentAt); err != nil {
			return nil, err
		}
		d.ProviderID, d.Error = providerID.String, errMsg.String
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (r *DeliveryPostgresRepository) CountBySendStatus(ctx context.Context, sendID string) (map[DeliveryStatus]int, error) {
	query, args, err := psql.Select("status", "COUNT(*)").
		From("deliveries").
		Where(sq.Eq{"send_id": sendID}).
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build delivery stats: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("delivery stats: %w", err)
	}
	defer rows.Close()

	out := make(map[DeliveryStatus]int)
	for rows.Next() {
		var status DeliveryStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[status] = count
	}
	return out, rows.Err()
}
