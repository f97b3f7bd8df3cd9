package triage

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/betting-risk-engine/internal/domain/alert"
	"github.com/davidleathers/betting-risk-engine/internal/domain/errors"
	"github.com/davidleathers/betting-risk-engine/internal/domain/risk"
)

// Dashboard is the live compliance overview.
type Dashboard struct {
	GeneratedAt      time.Time              `json:"generated_at"`
	AlertsByStatus   map[alert.Status]int   `json:"alerts_by_status"`
	AlertsBySeverity map[alert.Severity]int `json:"alerts_by_severity"`
	AlertsByType     map[alert.Type]int     `json:"alerts_by_type"`
	ActiveAlerts     int                    `json:"active_alerts"`
	ResolvedToday    int                    `json:"resolved_today"`
	HighRiskUsers    int                    `json:"high_risk_users"`
	RiskLevels       map[risk.Level]int     `json:"risk_levels"`
	Blacklisted      int                    `json:"blacklisted_users"`
	RequiringReview  int                    `json:"users_requiring_review"`
}

// Report summarizes alerts triggered in [Start, End).
type Report struct {
	Start                time.Time              `json:"start"`
	End                  time.Time              `json:"end"`
	GeneratedAt          time.Time              `json:"generated_at"`
	TotalAlerts          int                    `json:"total_alerts"`
	ByType               map[alert.Type]int     `json:"by_type"`
	BySeverity           map[alert.Severity]int `json:"by_severity"`
	ByStatus             map[alert.Status]int   `json:"by_status"`
	Resolved             int                    `json:"resolved"`
	FalsePositives       int                    `json:"false_positives"`
	FalsePositiveRate    float64                `json:"false_positive_rate"`
	MeanTimeToResolution time.Duration          `json:"mean_time_to_resolution"`
	TopUsers             []alert.UserCount      `json:"top_users"`
	RiskLevels           map[risk.Level]int     `json:"risk_levels"`
}

func (s *service) GetComplianceDashboard(ctx context.Context) (*Dashboard, error) {
	now := s.now()
	y, m, d := now.UTC().Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	stats, err := s.alerts.Stats(ctx, startOfDay)
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate alerts")
	}
	summary, err := s.profiles.Summarize(ctx, s.config.HighRiskThreshold)
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate risk profiles")
	}

	return &Dashboard{
		GeneratedAt:      now,
		AlertsByStatus:   stats.ByStatus,
		AlertsBySeverity: stats.BySeverity,
		AlertsByType:     stats.ByType,
		ActiveAlerts:     stats.Active,
		ResolvedToday:    stats.ResolvedSince,
		HighRiskUsers:    summary.AtOrAbove,
		RiskLevels:       summary.Levels,
		Blacklisted:      summary.Blacklisted,
		RequiringReview:  summary.RequiringReview,
	}, nil
}

func (s *service) GenerateComplianceReport(ctx context.Context, start, end time.Time) (*Report, error) {
	if !start.Before(end) {
		return nil, errors.NewValidationError("INVALID_DATE_RANGE", "report start must be before end")
	}

	alerts, err := s.alerts.ListTriggeredBetween(ctx, start, end)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list alerts for report")
	}
	summary, err := s.profiles.Summarize(ctx, s.config.HighRiskThreshold)
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate risk profiles")
	}

	r := &Report{
		Start:       start,
		End:         end,
		GeneratedAt: s.now(),
		ByType:      make(map[alert.Type]int),
		BySeverity:  make(map[alert.Severity]int),
		ByStatus:    make(map[alert.Status]int),
		RiskLevels:  summary.Levels,
	}

	var (
		resolutionTotal time.Duration
		perUser         = make(map[uuid.UUID]int)
	)
	for _, a := range alerts {
		r.TotalAlerts++
		r.ByType[a.Type]++
		r.BySeverity[a.Severity]++
		r.ByStatus[a.Status]++
		perUser[a.UserID]++

		switch a.Status {
		case alert.StatusResolved:
			r.Resolved++
		case alert.StatusFalsePositive:
			r.FalsePositives++
		}
		if a.ResolvedAt != nil {
			resolutionTotal += a.ResolvedAt.Sub(a.TriggeredAt)
		}
	}

	if closed := r.Resolved + r.FalsePositives; closed > 0 {
		r.FalsePositiveRate = float64(r.FalsePositives) / float64(closed)
		r.MeanTimeToResolution = resolutionTotal / time.Duration(closed)
	}
	r.TopUsers = topUsers(perUser, s.config.ReportTopUsers)
	return r, nil
}

// topUsers ranks users by alert count, ties broken by id for stable output.
func topUsers(counts map[uuid.UUID]int, n int) []alert.UserCount {
	out := make([]alert.UserCount, 0, len(counts))
	for id, c := range counts {
		out = append(out, alert.UserCount{UserID: id, Alerts: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Alerts != out[j].Alerts {
			return out[i].Alerts > out[j].Alerts
		}
		return out[i].UserID.String() < out[j].UserID.String()
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
