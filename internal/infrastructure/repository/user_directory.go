package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/davidleathers/betting-risk-engine/internal/domain/errors"
	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
	"github.com/davidleathers/betting-risk-engine/internal/service/scoring"
)

// VerificationCache holds verification statuses newer than the users mirror.
type VerificationCache interface {
	VerificationStatus(ctx context.Context, userID uuid.UUID) (events.VerificationStatus, bool, error)
}

// UserDirectory reads the users mirror and overlays the latest verification status
// pushed through the event feed.
type UserDirectory struct {
	db     *pgxpool.Pool
	cache  VerificationCache
	logger *zap.Logger
}

var _ scoring.UserDirectory = (*UserDirectory)(nil)

// NewUserDirectory builds a directory. cache may be nil.
func NewUserDirectory(db *pgxpool.Pool, cache VerificationCache, logger *zap.Logger) *UserDirectory {
	return &UserDirectory{db: db, cache: cache, logger: logger}
}

func (d *UserDirectory) GetUser(ctx context.Context, userID uuid.UUID) (*scoring.User, error) {
	var (
		u      scoring.User
		status string
	)
	err := d.db.QueryRow(ctx,
		`SELECT id, email, verification_status, created_at FROM users WHERE id = $1`, userID,
	).Scan(&u.ID, &u.Email, &status, &u.CreatedAt)
	if err != nil {
		return nil, wrapError(err, "get user", errors.ErrUserNotFound)
	}
	u.Verification = events.VerificationStatus(status)
	u.CreatedAt = u.CreatedAt.UTC()

	if d.cache != nil {
		cached, ok, err := d.cache.VerificationStatus(ctx, userID)
		switch {
		case err != nil:
			d.logger.Warn("verification cache lookup failed",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		case ok:
			u.Verification = cached
		}
	}
	return &u, nil
}
