package durable

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/campaignforge/engine/internal/progress"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// ProgressRepository implements progress.Repository against postgres.
type ProgressRepository struct {
	db *sql.DB
}

func NewProgressRepository(db *sql.DB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

func (r *ProgressRepository) Upsert(ctx context.Context, p *progress.Progress) error {
	metadataJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal progress metadata: %w", err)
	}
	errorsJSON, err := json.Marshal(p.Errors)
	if err != nil {
		return fmt.Errorf("marshal progress errors: %w", err)
	}

	query, args, err := psql.Insert("progress_records").
		Columns("id", "kind", "owner_id", "status", "percent", "total", "processed",
			"failed", "message", "started_at", "ended_at", "metadata", "errors").
		Values(p.ID, p.Kind, p.OwnerID, p.Status, p.Percent, p.Total, p.Processed,
			p.Failed, p.Message, p.StartedAt, p.EndedAt, metadataJSON, errorsJSON).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, percent = EXCLUDED.percent, total = EXCLUDED.total,
			processed = EXCLUDED.processed, failed = EXCLUDED.failed, message = EXCLUDED.message,
			ended_at = EXCLUDED.ended_at, metadata = EXCLUDED.metadata, errors = EXCLUDED.errors`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build progress upsert: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

func scanProgress(row interface{ Scan(...interface{}) error }) (*progress.Progress, error) {
	var p progress.Progress
	var metadataJSON, errorsJSON []byte
	var endedAt sql.NullTime

	err := row.Scan(&p.ID, &p.Kind, &p.OwnerID, &p.Status, &p.Percent, &p.Total, &p.Processed,
		&p.Failed, &p.Message, &p.StartedAt, &endedAt, &metadataJSON, &errorsJSON)
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		p.EndedAt = &endedAt.Time
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &p.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal progress metadata: %w", err)
		}
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &p.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal progress errors: %w", err)
		}
	}
	return &p, nil
}

var progressColumns = []string{"id", "kind", "owner_id", "status", "percent", "total",
	"processed", "failed", "message", "started_at", "ended_at", "metadata", "errors"}

func (r *ProgressRepository) Get(ctx context.Context, id string) (*progress.Progress, error) {
	query, args, err := psql.Select(progressColumns...).
		From("progress_records").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build progress get: %w", err)
	}
	p, err := scanProgress(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get progress: %w", err)
	}
	return p, nil
}

func (r *ProgressRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*progress.Progress, error) {
	query, args, err := psql.Select(progressColumns...).
		From("progress_records").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("started_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build progress list: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()

	out := make([]*progress.Progress, 0)
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *ProgressRepository) Delete(ctx context.Context, id string) error {
	query, args, err := psql.Delete("progress_records").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build progress delete: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *ProgressRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	query, args, err := psql.Delete("progress_records").Where(sq.Lt{"started_at": cutoff}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build progress cleanup: %w", err)
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cleanup progress: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (r *ProgressRepository) StatsByOwner(ctx context.Context, ownerID string) (map[progress.Status]int, error) {
	query, args, err := psql.Select("status", "COUNT(*)").
		From("progress_records").
		Where(sq.Eq{"owner_id": ownerID}).
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build progress stats: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stats progress: %w", err)
	}
	defer rows.Close()

	out := make(map[progress.Status]int)
	for rows.Next() {
		var status progress.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[status] = count
	}
	return out, rows.Err()
}
