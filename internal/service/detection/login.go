package detection

import (
	"context"
	goerrors "errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/betting-risk-engine/internal/domain/activity"
	"github.com/davidleathers/betting-risk-engine/internal/domain/alert"
	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
)

func (d *Detector) evaluateLogin(ctx context.Context, userID uuid.UUID, e *events.LoginEvent) ([]alert.Draft, error) {
	var (
		drafts []alert.Draft
		errs   []error
	)

	if draft, err := d.checkDistinctIPs(ctx, userID, e); err != nil {
		errs = append(errs, err)
	} else if draft != nil {
		drafts = append(drafts, *draft)
	}

	if draft, err := d.checkNewLocation(ctx, userID, e); err != nil {
		errs = append(errs, err)
	} else if draft != nil {
		drafts = append(drafts, *draft)
	}

	return drafts, goerrors.Join(errs...)
}

// checkDistinctIPs counts source addresses over the login window, current login included.
func (d *Detector) checkDistinctIPs(ctx context.Context, userID uuid.UUID, e *events.LoginEvent) (*alert.Draft, error) {
	logins, err := d.history.Logins(ctx, userID, activity.Trailing(e.OccurredAt, d.thresholds.LoginWindow))
	if err != nil {
		return nil, fmt.Errorf("login window: %w", err)
	}

	ips := activity.DistinctIPs(append(logins, activity.LoginRecord{IPAddress: e.IPAddress, At: e.OccurredAt}))
	if ips <= d.thresholds.MaxDistinctIPs {
		return nil, nil
	}

	d.logger.Debug("distinct ip threshold exceeded",
		zap.String("user_id", userID.String()),
		zap.Int("distinct_ips", ips))

	return &alert.Draft{
		Type:        alert.TypeSuspiciousLogin,
		Rule:        RuleDistinctIPs,
		Severity:    alert.SeverityHigh,
		Description: fmt.Sprintf("%d distinct source addresses used in the last %s", ips, d.thresholds.LoginWindow),
		Evidence: map[string]any{
			"distinct_ips": ips,
			"limit":        d.thresholds.MaxDistinctIPs,
			"window":       d.thresholds.LoginWindow.String(),
			"ip_address":   e.IPAddress,
		},
		SuppressFor: d.thresholds.LoginSuppression,
	}, nil
}

// checkNewLocation flags a location never seen in the lookback, current login excluded.
// Without any prior located login there is nothing to compare against.
func (d *Detector) checkNewLocation(ctx context.Context, userID uuid.UUID, e *events.LoginEvent) (*alert.Draft, error) {
	current := normalizeLocation(e.Location)
	if current == "" {
		return nil, nil
	}

	prior, err := d.history.Logins(ctx, userID, activity.Before(e.OccurredAt, d.thresholds.GeoLookback))
	if err != nil {
		return nil, fmt.Errorf("login lookback: %w", err)
	}

	known := 0
	for _, l := range prior {
		loc := normalizeLocation(l.Location)
		if loc == "" {
			continue
		}
		if loc == current {
			return nil, nil
		}
		known++
	}
	if known == 0 {
		return nil, nil
	}

	return &alert.Draft{
		Type:        alert.TypeGeoLocationRisk,
		Rule:        RuleNewLocation,
		Severity:    alert.SeverityMedium,
		Description: fmt.Sprintf("login from a location not seen in the last %s", d.thresholds.GeoLookback),
		Evidence: map[string]any{
			"location":        e.Location,
			"ip_address":      e.IPAddress,
			"prior_locations": known,
		},
	}, nil
}

func normalizeLocation(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
