package scoring

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/betting-risk-engine/internal/domain/errors"
	"github.com/davidleathers/betting-risk-engine/internal/domain/risk"
)

const (
	DefaultHighRiskLimit = 100
	MaxHighRiskLimit     = 1000
)

var _ Service = (*Engine)(nil)

// GetRiskProfile returns the user's profile, creating a neutral one on first touch.
func (e *Engine) GetRiskProfile(ctx context.Context, userID uuid.UUID) (*risk.Profile, error) {
	p, err := e.profiles.Get(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.IsNotFound(err) {
		return nil, errors.Wrap(err, "failed to load risk profile")
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	var out *risk.Profile
	err = e.withRetry(ctx, userID, func() error {
		p, err := e.loadForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if p.Version == 0 {
			if err := e.profiles.Save(ctx, p); err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

// GetHighRiskUsers lists profiles at or above the high threshold, riskiest first.
func (e *Engine) GetHighRiskUsers(ctx context.Context, limit int) ([]*risk.Profile, error) {
	switch {
	case limit <= 0:
		limit = DefaultHighRiskLimit
	case limit > MaxHighRiskLimit:
		limit = MaxHighRiskLimit
	}
	profiles, err := e.profiles.ListHighRisk(ctx, e.policy.Levels().High, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list high risk profiles")
	}
	return profiles, nil
}

func (e *Engine) GetUsersRequiringReview(ctx context.Context) ([]*risk.Profile, error) {
	profiles, err := e.profiles.ListRequiringReview(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list profiles requiring review")
	}
	return profiles, nil
}

// RecalculateRiskScore is the operator-initiated rescoring of a known user.
func (e *Engine) RecalculateRiskScore(ctx context.Context, userID uuid.UUID) (*risk.Profile, error) {
	if _, err := e.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return e.CalculateRiskScore(ctx, userID, TriggerManual)
}

func (e *Engine) SetBlacklistStatus(ctx context.Context, userID uuid.UUID, blacklisted bool, reason string) (*risk.Profile, error) {
	reason = strings.TrimSpace(reason)
	if blacklisted && reason == "" {
		return nil, errors.NewValidationError("REASON_REQUIRED", "a reason is required to blacklist a user")
	}
	return e.mutate(ctx, userID, "set blacklist status", func(p *risk.Profile, now time.Time) bool {
		if p.IsBlacklisted == blacklisted && p.BlacklistReason == reason {
			return false
		}
		p.SetBlacklisted(blacklisted, reason, now)
		return true
	})
}

func (e *Engine) RequireManualReview(ctx context.Context, userID uuid.UUID, reason string) (*risk.Profile, error) {
	return e.FlagForReview(ctx, userID, reason)
}

// FlagForReview marks the profile for manual review and adds flags in one write.
func (e *Engine) FlagForReview(ctx context.Context, userID uuid.UUID, reason string, flags ...string) (*risk.Profile, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.NewValidationError("REASON_REQUIRED", "a review reason is required")
	}
	return e.mutate(ctx, userID, "require manual review", func(p *risk.Profile, now time.Time) bool {
		p.AddFlags(now, flags...)
		p.RequireManualReview(reason, now)
		return true
	})
}

func (e *Engine) AddRiskFlags(ctx context.Context, userID uuid.UUID, flags ...string) (*risk.Profile, error) {
	if !hasNonEmpty(flags) {
		return nil, errors.NewValidationError("FLAGS_REQUIRED", "at least one risk flag is required")
	}
	return e.mutate(ctx, userID, "add risk flags", func(p *risk.Profile, now time.Time) bool {
		return p.AddFlags(now, flags...)
	})
}

func (e *Engine) RemoveRiskFlag(ctx context.Context, userID uuid.UUID, flag string) (*risk.Profile, error) {
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return nil, errors.NewValidationError("FLAG_REQUIRED", "risk flag is required")
	}
	return e.mutate(ctx, userID, "remove risk flag", func(p *risk.Profile, now time.Time) bool {
		return p.RemoveFlag(flag, now)
	})
}

// mutate applies an operator change under the user lock. fn reports whether the
// profile changed; unchanged profiles are not written back.
func (e *Engine) mutate(ctx context.Context, userID uuid.UUID, action string, fn func(p *risk.Profile, now time.Time) bool) (*risk.Profile, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	var out *risk.Profile
	err := e.withRetry(ctx, userID, func() error {
		p, err := e.loadForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if fn(p, e.now()) || p.Version == 0 {
			if err := e.profiles.Save(ctx, p); err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("operator action applied",
		zap.String("user_id", userID.String()),
		zap.String("action", action),
	)
	return out.Clone(), nil
}

// loadForUpdate returns the stored profile, or a fresh one when the user exists
// but has never been profiled.
func (e *Engine) loadForUpdate(ctx context.Context, userID uuid.UUID) (*risk.Profile, error) {
	p, err := e.profiles.Get(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.IsNotFound(err) {
		return nil, errors.Wrap(err, "failed to load risk profile")
	}
	if _, err := e.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return risk.NewProfile(userID, e.now()), nil
}

func hasNonEmpty(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}
