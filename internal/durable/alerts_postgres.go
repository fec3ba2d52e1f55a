package durable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/campaignforge/engine/internal/alerts"
)

// AlertIncidentRepository implements alerts.IncidentRepository against postgres.
type AlertIncidentRepository struct {
	db *sql.DB
}

func NewAlertIncidentRepository(db *sql.DB) *AlertIncidentRepository {
	return &AlertIncidentRepository{db: db}
}

var incidentColumns = []string{"id", "rule_id", "severity", "status", "triggered_at",
	"acknowledged_at", "resolved_at", "value", "threshold", "detail"}

func (r *AlertIncidentRepository) Upsert(ctx context.Context, inc *alerts.Incident) error {
	query, args, err := psql.Insert("alert_incidents").
		Columns(incidentColumns...).
		Values(inc.ID, inc.RuleID, inc.Severity, inc.Status, inc.TriggeredAt,
			inc.AcknowledgedAt, inc.ResolvedAt, inc.Value, inc.Threshold, inc.Detail).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, acknowledged_at = EXCLUDED.acknowledged_at,
			resolved_at = EXCLUDED.resolved_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build incident upsert: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func scanIncident(row interface{ Scan(...interface{}) error }) (*alerts.Incident, error) {
	var inc alerts.Incident
	var acknowledgedAt, resolvedAt sql.NullTime
	var detail sql.NullString
	err := row.Scan(&inc.ID, &inc.RuleID, &inc.Severity, &inc.Status, &inc.TriggeredAt,
		&acknowledgedAt, &resolvedAt, &inc.Value, &inc.Threshold, &detail)
	if err != nil {
		return nil, err
	}
	if acknowledgedAt.Valid {
		inc.AcknowledgedAt = &acknowledgedAt.Time
	}
	if resolvedAt.Valid {
		inc.ResolvedAt = &resolvedAt.Time
	}
	if detail.Valid {
		inc.Detail = detail.String
	}
	return &inc, nil
}

func (r *AlertIncidentRepository) Get(ctx context.Context, id string) (*alerts.Incident, error) {
	query, args, err := psql.Select(incidentColumns...).From("alert_incidents").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build incident get: %w", err)
	}
	inc, err := scanIncident(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

func (r *AlertIncidentRepository) FindOpenByRule(ctx context.Context, ruleID string) (*alerts.Incident, error) {
	query, args, err := psql.Select(incidentColumns...).
		From("alert_incidents").
		Where(sq.Eq{"rule_id": ruleID, "status": alerts.IncidentOpen}).
		OrderBy("triggered_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build open incident query: %w", err)
	}
	inc, err := scanIncident(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find open incident: %w", err)
	}
	return inc, nil
}

func (r *AlertIncidentRepository) RecordNotification(ctx context.Context, n *alerts.Notification) error {
	query, args, err := psql.Insert("alert_notifications").
		Columns("incident_id", "channel", "success", "error", "sent_at").
		Values(n.IncidentID, n.Channel, n.Success, n.Error, n.SentAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build notification insert: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}
