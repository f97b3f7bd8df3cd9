package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/betting-risk-engine/internal/domain/errors"
	"github.com/davidleathers/betting-risk-engine/internal/domain/risk"
	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/database"
	"github.com/davidleathers/betting-risk-engine/internal/service/scoring"
)

const profileColumns = `
	user_id, overall_risk_score, risk_level, risk_factors, behavior_metrics,
	risk_flags, last_assessment, next_assessment, is_blacklisted, blacklist_reason,
	requires_manual_review, review_reason, version, created_at, updated_at`

// DefaultHistoryLimit is how many of the newest history entries a read loads.
const DefaultHistoryLimit = 100

// ProfileRepository stores risk profiles in risk_profiles with an append-only
// risk_history table. Writes use optimistic versioning. Reads load only the
// newest entries of the history; Profile.HistoryOffset counts the rest.
type ProfileRepository struct {
	db           *pgxpool.Pool
	historyLimit int
}

var _ scoring.ProfileRepository = (*ProfileRepository)(nil)

func NewProfileRepository(db *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{db: db, historyLimit: DefaultHistoryLimit}
}

// WithHistoryLimit sets how many history entries reads load. n must be positive.
func (r *ProfileRepository) WithHistoryLimit(n int) *ProfileRepository {
	if n > 0 {
		r.historyLimit = n
	}
	return r
}

func (r *ProfileRepository) Get(ctx context.Context, userID uuid.UUID) (*risk.Profile, error) {
	row := r.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM risk_profiles WHERE user_id = $1`, userID)
	p, err := scanProfile(row)
	if err != nil {
		return nil, wrapError(err, "get risk profile", errors.ErrProfileNotFound)
	}

	history, err := r.loadHistory(ctx, []uuid.UUID{userID})
	if err != nil {
		return nil, err
	}
	history[userID].attach(p)
	return p, nil
}

// Save inserts a new profile (Version 0) or updates the stored row when its version
// still matches. History entries beyond those already stored are appended.
func (r *ProfileRepository) Save(ctx context.Context, p *risk.Profile) error {
	if p == nil || p.UserID == uuid.Nil {
		return errors.NewValidationError("INVALID_PROFILE", "profile with a user id is required")
	}

	factors, err := json.Marshal(p.RiskFactors)
	if err != nil {
		return fmt.Errorf("failed to marshal risk factors: %w", err)
	}
	metrics, err := json.Marshal(p.BehaviorMetrics)
	if err != nil {
		return fmt.Errorf("failed to marshal behavior metrics: %w", err)
	}
	flags := p.RiskFlags
	if flags == nil {
		flags = []string{}
	}

	err = database.Transaction(ctx, r.db, func(tx pgx.Tx) error {
		var (
			tag pgconn.CommandTag
			err error
		)
		if p.Version == 0 {
			tag, err = tx.Exec(ctx, `
				INSERT INTO risk_profiles (`+profileColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, $13, $14)
				ON CONFLICT (user_id) DO NOTHING`,
				p.UserID, p.OverallRiskScore, string(p.RiskLevel), factors, metrics,
				flags, nullTime(p.LastAssessment), p.NextAssessment, p.IsBlacklisted, p.BlacklistReason,
				p.RequiresManualReview, p.ReviewReason, p.CreatedAt, p.UpdatedAt,
			)
		} else {
			tag, err = tx.Exec(ctx, `
				UPDATE risk_profiles SET
					overall_risk_score = $2, risk_level = $3, risk_factors = $4, behavior_metrics = $5,
					risk_flags = $6, last_assessment = $7, next_assessment = $8, is_blacklisted = $9,
					blacklist_reason = $10, requires_manual_review = $11, review_reason = $12,
					updated_at = $13, version = version + 1
				WHERE user_id = $1 AND version = $14`,
				p.UserID, p.OverallRiskScore, string(p.RiskLevel), factors, metrics,
				flags, nullTime(p.LastAssessment), p.NextAssessment, p.IsBlacklisted,
				p.BlacklistReason, p.RequiresManualReview, p.ReviewReason,
				p.UpdatedAt, p.Version,
			)
		}
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errors.ErrConcurrentUpdate
		}
		return appendHistory(ctx, tx, p)
	})
	if err != nil {
		if errors.IsConflict(err) {
			return err
		}
		return wrapError(err, "save risk profile", nil)
	}

	p.Version++
	return nil
}

// appendHistory copies the entries the store has not seen yet.
func appendHistory(ctx context.Context, tx pgx.Tx, p *risk.Profile) error {
	var stored int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM risk_history WHERE user_id = $1`, p.UserID,
	).Scan(&stored); err != nil {
		return err
	}
	known := stored - p.HistoryOffset
	if known < 0 || known >= len(p.RiskHistory) {
		return nil
	}

	pending := p.RiskHistory[known:]
	rows := make([][]any, 0, len(pending))
	for i, h := range pending {
		rows = append(rows, []any{p.UserID, stored + i, h.Date, h.Score, string(h.Level), h.Reason, h.TriggeredBy})
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"risk_history"},
		[]string{"user_id", "seq", "recorded_at", "score", "level", "reason", "triggered_by"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (r *ProfileRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id FROM risk_profiles
		WHERE next_assessment <= $1
		ORDER BY next_assessment, user_id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, wrapError(err, "list due profiles", nil)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, wrapError(err, "list due profiles", nil)
	}
	return ids, nil
}

func (r *ProfileRepository) ListHighRisk(ctx context.Context, minScore float64, limit int) ([]*risk.Profile, error) {
	return r.list(ctx, "list high risk profiles", `
		SELECT `+profileColumns+` FROM risk_profiles
		WHERE overall_risk_score >= $1
		ORDER BY overall_risk_score DESC, user_id
		LIMIT $2`, minScore, limit)
}

func (r *ProfileRepository) ListRequiringReview(ctx context.Context) ([]*risk.Profile, error) {
	return r.list(ctx, "list profiles requiring review", `
		SELECT `+profileColumns+` FROM risk_profiles
		WHERE requires_manual_review
		ORDER BY overall_risk_score DESC, user_id`)
}

// Summarize aggregates every stored profile; minScore is the inclusive AtOrAbove cut-off.
func (r *ProfileRepository) Summarize(ctx context.Context, minScore float64) (risk.Summary, error) {
	s := risk.NewSummary()
	err := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE overall_risk_score >= $1),
			COUNT(*) FILTER (WHERE is_blacklisted),
			COUNT(*) FILTER (WHERE requires_manual_review)
		FROM risk_profiles`, minScore,
	).Scan(&s.Total, &s.AtOrAbove, &s.Blacklisted, &s.RequiringReview)
	if err != nil {
		return risk.Summary{}, wrapError(err, "summarize risk profiles", nil)
	}

	rows, err := r.db.Query(ctx, `SELECT risk_level, COUNT(*) FROM risk_profiles GROUP BY risk_level`)
	if err != nil {
		return risk.Summary{}, wrapError(err, "summarize risk levels", nil)
	}
	defer rows.Close()
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return risk.Summary{}, wrapError(err, "summarize risk levels", nil)
		}
		s.Levels[risk.Level(level)] = n
	}
	if err := rows.Err(); err != nil {
		return risk.Summary{}, wrapError(err, "summarize risk levels", nil)
	}
	return s, nil
}

func (r *ProfileRepository) list(ctx context.Context, op, query string, args ...any) ([]*risk.Profile, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err, op, nil)
	}
	profiles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*risk.Profile, error) {
		return scanProfile(row)
	})
	if err != nil {
		return nil, wrapError(err, op, nil)
	}
	if len(profiles) == 0 {
		return []*risk.Profile{}, nil
	}

	ids := make([]uuid.UUID, len(profiles))
	for i, p := range profiles {
		ids[i] = p.UserID
	}
	history, err := r.loadHistory(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		history[p.UserID].attach(p)
	}
	return profiles, nil
}

// historyTail is the newest slice of one user's history and the seq of its first entry.
type historyTail struct {
	entries []risk.HistoryEntry
	offset  int
}

func (h *historyTail) attach(p *risk.Profile) {
	if h == nil {
		p.RiskHistory = []risk.HistoryEntry{}
		p.HistoryOffset = 0
		return
	}
	p.RiskHistory = h.entries
	p.HistoryOffset = h.offset
}

// loadHistory reads at most historyLimit of the newest entries per user, oldest first.
func (r *ProfileRepository) loadHistory(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*historyTail, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, seq, recorded_at, score, level, reason, triggered_by
		FROM (
			SELECT user_id, seq, recorded_at, score, level, reason, triggered_by,
				ROW_NUMBER() OVER (PARTITION BY user_id ORDER BY seq DESC) AS newest
			FROM risk_history
			WHERE user_id = ANY($1::uuid[])
		) h
		WHERE newest <= $2
		ORDER BY user_id, seq`, uuidStrings(ids), r.historyLimit)
	if err != nil {
		return nil, wrapError(err, "load risk history", nil)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]*historyTail, len(ids))
	for rows.Next() {
		var (
			userID uuid.UUID
			seq    int
			h      risk.HistoryEntry
			level  string
		)
		if err := rows.Scan(&userID, &seq, &h.Date, &h.Score, &level, &h.Reason, &h.TriggeredBy); err != nil {
			return nil, wrapError(err, "load risk history", nil)
		}
		h.Level = risk.Level(level)
		h.Date = h.Date.UTC()

		tail, ok := out[userID]
		if !ok {
			tail = &historyTail{offset: seq}
			out[userID] = tail
		}
		tail.entries = append(tail.entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(err, "load risk history", nil)
	}
	return out, nil
}

func scanProfile(row pgx.Row) (*risk.Profile, error) {
	var (
		p              risk.Profile
		level          string
		factors        []byte
		metrics        []byte
		lastAssessment *time.Time
	)
	err := row.Scan(
		&p.UserID, &p.OverallRiskScore, &level, &factors, &metrics,
		&p.RiskFlags, &lastAssessment, &p.NextAssessment, &p.IsBlacklisted, &p.BlacklistReason,
		&p.RequiresManualReview, &p.ReviewReason, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.RiskLevel = risk.Level(level)
	if err := json.Unmarshal(factors, &p.RiskFactors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal risk factors: %w", err)
	}
	if err := json.Unmarshal(metrics, &p.BehaviorMetrics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal behavior metrics: %w", err)
	}
	if lastAssessment != nil {
		p.LastAssessment = lastAssessment.UTC()
	}
	if p.RiskFlags == nil {
		p.RiskFlags = []string{}
	}
	p.NextAssessment = p.NextAssessment.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
