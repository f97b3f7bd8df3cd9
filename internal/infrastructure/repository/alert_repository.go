package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/betting-risk-engine/internal/domain/alert"
	"github.com/davidleathers/betting-risk-engine/internal/domain/errors"
	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/database"
	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/querybuilder"
	"github.com/davidleathers/betting-risk-engine/internal/service/triage"
)

const alertTable = "compliance_alerts"

var alertColumns = []string{
	"id", "user_id", "alert_type", "severity", "status", "description", "metadata",
	"assigned_to", "investigation_notes", "resolution", "escalation_count",
	"triggered_at", "resolved_at", "updated_at", "version",
}

// AlertRepository stores compliance alerts with their audit trail in alert_events.
type AlertRepository struct {
	db *pgxpool.Pool
}

var _ triage.AlertRepository = (*AlertRepository)(nil)

func NewAlertRepository(db *pgxpool.Pool) *AlertRepository {
	return &AlertRepository{db: db}
}

func (r *AlertRepository) Create(ctx context.Context, a *alert.Alert) error {
	metadata, err := marshalMetadata(a.Metadata)
	if err != nil {
		return err
	}

	err = database.Transaction(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO compliance_alerts (
				id, user_id, alert_type, severity, status, description, metadata,
				assigned_to, investigation_notes, resolution, escalation_count,
				triggered_at, resolved_at, updated_at, version
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1)`,
			a.ID, a.UserID, string(a.Type), string(a.Severity), string(a.Status), a.Description, metadata,
			a.AssignedTo, a.InvestigationNotes, a.Resolution, a.EscalationCount,
			a.TriggeredAt, a.ResolvedAt, a.UpdatedAt,
		)
		if err != nil {
			return err
		}
		return appendEvents(ctx, tx, a)
	})
	if err != nil {
		if IsDuplicateKeyViolation(err) {
			return errors.NewConflictError("DUPLICATE_ALERT", fmt.Sprintf("alert %s already exists", a.ID)).WithCause(err)
		}
		return wrapError(err, "create alert", nil)
	}

	a.Version = 1
	return nil
}

func (r *AlertRepository) Get(ctx context.Context, id uuid.UUID) (*alert.Alert, error) {
	query, args, err := querybuilder.New().
		Select(alertColumns...).
		From(alertTable).
		WhereEqual("id", id).
		ToSQL()
	if err != nil {
		return nil, err
	}

	a, err := scanAlert(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, wrapError(err, "get alert", errors.ErrAlertNotFound)
	}
	if err := r.attachEvents(ctx, []*alert.Alert{a}); err != nil {
		return nil, err
	}
	return a, nil
}

// Update writes a when the stored version still equals a.Version.
func (r *AlertRepository) Update(ctx context.Context, a *alert.Alert) error {
	metadata, err := marshalMetadata(a.Metadata)
	if err != nil {
		return err
	}

	err = database.Transaction(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE compliance_alerts SET
				severity = $2, status = $3, description = $4, metadata = $5,
				assigned_to = $6, investigation_notes = $7, resolution = $8,
				escalation_count = $9, resolved_at = $10, updated_at = $11,
				version = version + 1
			WHERE id = $1 AND version = $12`,
			a.ID, string(a.Severity), string(a.Status), a.Description, metadata,
			a.AssignedTo, a.InvestigationNotes, a.Resolution,
			a.EscalationCount, a.ResolvedAt, a.UpdatedAt, a.Version,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM compliance_alerts WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return errors.ErrAlertNotFound
			}
			return errors.ErrConcurrentUpdate
		}
		return appendEvents(ctx, tx, a)
	})
	if err != nil {
		if errors.IsConflict(err) || errors.IsNotFound(err) {
			return err
		}
		return wrapError(err, "update alert", nil)
	}

	a.Version++
	return nil
}

func (r *AlertRepository) ListActive(ctx context.Context, f alert.Filter) ([]*alert.Alert, error) {
	f = f.Normalized()
	query, args, err := querybuilder.New().
		Select(alertColumns...).
		From(alertTable).
		Where("status", querybuilder.NotIn, []interface{}{string(alert.StatusResolved), string(alert.StatusFalsePositive)}).
		WhereIf(f.UserID != uuid.Nil, "user_id", querybuilder.Equal, f.UserID).
		WhereIf(f.Type != "", "alert_type", querybuilder.Equal, string(f.Type)).
		WhereIf(f.Severity != "", "severity", querybuilder.Equal, string(f.Severity)).
		WhereIf(f.Status != "", "status", querybuilder.Equal, string(f.Status)).
		WhereIf(f.AssignedTo != "", "assigned_to", querybuilder.Equal, f.AssignedTo).
		OrderByDesc("triggered_at").
		OrderByDesc("id").
		Limit(f.Limit).
		ToSQL()
	if err != nil {
		return nil, err
	}
	return r.list(ctx, "list active alerts", query, args...)
}

func (r *AlertRepository) ListTriggeredBetween(ctx context.Context, start, end time.Time) ([]*alert.Alert, error) {
	query, args, err := querybuilder.New().
		Select(alertColumns...).
		From(alertTable).
		Where("triggered_at", querybuilder.GreaterThanOrEqual, start).
		Where("triggered_at", querybuilder.LessThan, end).
		OrderByAsc("triggered_at").
		ToSQL()
	if err != nil {
		return nil, err
	}
	return r.list(ctx, "list alerts in range", query, args...)
}

// Stats counts every alert; resolvedSince bounds ResolvedSince inclusively.
func (r *AlertRepository) Stats(ctx context.Context, resolvedSince time.Time) (alert.Stats, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, severity, alert_type, COUNT(*),
			COUNT(*) FILTER (WHERE resolved_at >= $1)
		FROM compliance_alerts
		GROUP BY status, severity, alert_type`, resolvedSince)
	if err != nil {
		return alert.Stats{}, wrapError(err, "alert stats", nil)
	}
	defer rows.Close()

	s := alert.NewStats()
	for rows.Next() {
		var (
			status, severity, alertType string
			n, resolved                 int
		)
		if err := rows.Scan(&status, &severity, &alertType, &n, &resolved); err != nil {
			return alert.Stats{}, wrapError(err, "alert stats", nil)
		}
		s.ByStatus[alert.Status(status)] += n
		s.BySeverity[alert.Severity(severity)] += n
		s.ByType[alert.Type(alertType)] += n
		s.Total += n
		if !alert.Status(status).IsTerminal() {
			s.Active += n
		}
		s.ResolvedSince += resolved
	}
	if err := rows.Err(); err != nil {
		return alert.Stats{}, wrapError(err, "alert stats", nil)
	}
	return s, nil
}

func (r *AlertRepository) LatestTriggeredAt(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	var latest *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT MAX(triggered_at) FROM compliance_alerts WHERE user_id = $1`, userID,
	).Scan(&latest)
	if err != nil {
		return time.Time{}, wrapError(err, "latest alert time", nil)
	}
	if latest == nil {
		return time.Time{}, nil
	}
	return latest.UTC(), nil
}

func (r *AlertRepository) list(ctx context.Context, op, query string, args ...any) ([]*alert.Alert, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err, op, nil)
	}
	alerts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*alert.Alert, error) {
		return scanAlert(row)
	})
	if err != nil {
		return nil, wrapError(err, op, nil)
	}
	if len(alerts) == 0 {
		return []*alert.Alert{}, nil
	}
	if err := r.attachEvents(ctx, alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (r *AlertRepository) attachEvents(ctx context.Context, alerts []*alert.Alert) error {
	byID := make(map[uuid.UUID]*alert.Alert, len(alerts))
	ids := make([]uuid.UUID, 0, len(alerts))
	for _, a := range alerts {
		byID[a.ID] = a
		ids = append(ids, a.ID)
		a.Events = []alert.Event{}
	}

	rows, err := r.db.Query(ctx, `
		SELECT alert_id, kind, actor, occurred_at, detail
		FROM alert_events
		WHERE alert_id = ANY($1::uuid[])
		ORDER BY alert_id, seq`, uuidStrings(ids))
	if err != nil {
		return wrapError(err, "load alert events", nil)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			alertID uuid.UUID
			kind    string
			e       alert.Event
		)
		if err := rows.Scan(&alertID, &kind, &e.Actor, &e.At, &e.Detail); err != nil {
			return wrapError(err, "load alert events", nil)
		}
		e.Kind = alert.EventKind(kind)
		e.At = e.At.UTC()
		if a, ok := byID[alertID]; ok {
			a.Events = append(a.Events, e)
		}
	}
	return wrapError(rows.Err(), "load alert events", nil)
}

// appendEvents copies audit entries the store has not seen yet.
func appendEvents(ctx context.Context, tx pgx.Tx, a *alert.Alert) error {
	var stored int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM alert_events WHERE alert_id = $1`, a.ID,
	).Scan(&stored); err != nil {
		return err
	}
	if stored >= len(a.Events) {
		return nil
	}

	pending := a.Events[stored:]
	rows := make([][]any, 0, len(pending))
	for i, e := range pending {
		rows = append(rows, []any{a.ID, stored + i, string(e.Kind), e.Actor, e.At, e.Detail})
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"alert_events"},
		[]string{"alert_id", "seq", "kind", "actor", "occurred_at", "detail"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func scanAlert(row pgx.Row) (*alert.Alert, error) {
	var (
		a                           alert.Alert
		alertType, severity, status string
		metadata                    []byte
	)
	err := row.Scan(
		&a.ID, &a.UserID, &alertType, &severity, &status, &a.Description, &metadata,
		&a.AssignedTo, &a.InvestigationNotes, &a.Resolution, &a.EscalationCount,
		&a.TriggeredAt, &a.ResolvedAt, &a.UpdatedAt, &a.Version,
	)
	if err != nil {
		return nil, err
	}

	a.Type = alert.Type(alertType)
	a.Severity = alert.Severity(severity)
	a.Status = alert.Status(status)
	a.Metadata = map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alert metadata: %w", err)
		}
	}
	a.TriggeredAt = a.TriggeredAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	if a.ResolvedAt != nil {
		resolved := a.ResolvedAt.UTC()
		a.ResolvedAt = &resolved
	}
	return &a, nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert metadata: %w", err)
	}
	return data, nil
}
