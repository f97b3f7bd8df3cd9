package scoring

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
	"github.com/davidleathers/betting-risk-engine/internal/domain/risk"
)

const day = 24 * time.Hour

// AccountAgeFactor is a step function: younger accounts are riskier.
func AccountAgeFactor(age time.Duration) float64 {
	switch {
	case age < day:
		return 80
	case age < 7*day:
		return 60
	case age < 30*day:
		return 40
	case age < 90*day:
		return 20
	default:
		return 10
	}
}

// KYCFactor maps a verification status; unknown statuses score as not started.
func KYCFactor(status events.VerificationStatus) float64 {
	switch status {
	case events.VerificationVerified:
		return 10
	case events.VerificationPending:
		return 40
	case events.VerificationRejected:
		return 80
	default:
		return 60
	}
}

// SocialFactor starts neutral and credits addresses at common consumer providers.
func SocialFactor(email string, p Policy) float64 {
	score := risk.NeutralScore
	if at := strings.LastIndex(email, "@"); at >= 0 && p.IsTrustedEmailDomain(email[at+1:]) {
		score -= p.SocialDomainCredit()
	}
	if score < risk.MinScore {
		return risk.MinScore
	}
	return score
}

// AnalysisInput is what a pattern analyzer sees for one run.
type AnalysisInput struct {
	UserID   uuid.UUID
	User     *User
	Metrics  risk.BehaviorMetrics
	Previous risk.Factors
	At       time.Time
}

// FactorAnalyzer produces one pattern sub-score in [0,100].
type FactorAnalyzer interface {
	Analyze(ctx context.Context, in AnalysisInput) (float64, error)
}

// FactorAnalyzerFunc adapts a function to FactorAnalyzer.
type FactorAnalyzerFunc func(ctx context.Context, in AnalysisInput) (float64, error)

func (f FactorAnalyzerFunc) Analyze(ctx context.Context, in AnalysisInput) (float64, error) {
	return f(ctx, in)
}

// MidpointAnalyzer is the default for every pattern factor. It always returns the
// neutral score so weighting and aggregation stay testable on their own.
type MidpointAnalyzer struct{}

func (MidpointAnalyzer) Analyze(context.Context, AnalysisInput) (float64, error) {
	return risk.NeutralScore, nil
}

// Analyzers holds the five independent pattern strategies.
type Analyzers struct {
	Login       FactorAnalyzer
	Transaction FactorAnalyzer
	Betting     FactorAnalyzer
	Geolocation FactorAnalyzer
	Device      FactorAnalyzer
}

func DefaultAnalyzers() Analyzers {
	return Analyzers{
		Login:       MidpointAnalyzer{},
		Transaction: MidpointAnalyzer{},
		Betting:     MidpointAnalyzer{},
		Geolocation: MidpointAnalyzer{},
		Device:      MidpointAnalyzer{},
	}
}

func (a Analyzers) withDefaults() Analyzers {
	if a.Login == nil {
		a.Login = MidpointAnalyzer{}
	}
	if a.Transaction == nil {
		a.Transaction = MidpointAnalyzer{}
	}
	if a.Betting == nil {
		a.Betting = MidpointAnalyzer{}
	}
	if a.Geolocation == nil {
		a.Geolocation = MidpointAnalyzer{}
	}
	if a.Device == nil {
		a.Device = MidpointAnalyzer{}
	}
	return a
}

// Inputs are everything the pure score function depends on.
type Inputs struct {
	Factors risk.Factors
	Metrics risk.BehaviorMetrics
}

// Score is the weighted factor sum plus behavior bonuses, clamped to [0,100].
// Identical inputs and policy always give the identical score.
func Score(in Inputs, p Policy) float64 {
	base := p.weights.apply(in.Factors.Clamped())
	return risk.Clamp(base + p.bonuses.apply(in.Metrics))
}
