package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/davidleathers/betting-risk-engine/internal/domain/errors"
	"github.com/davidleathers/betting-risk-engine/internal/domain/risk"
)

const weightTolerance = 1e-9

// Weights are the per-factor multipliers of the weighted base score.
type Weights struct {
	AccountAge          float64
	KYCStatus           float64
	LoginPatterns       float64
	TransactionPatterns float64
	BettingPatterns     float64
	Geolocation         float64
	DeviceFingerprint   float64
	SocialSignals       float64
}

func (w Weights) Sum() float64 {
	return w.AccountAge + w.KYCStatus + w.LoginPatterns + w.TransactionPatterns +
		w.BettingPatterns + w.Geolocation + w.DeviceFingerprint + w.SocialSignals
}

func (w Weights) apply(f risk.Factors) float64 {
	return f.AccountAge*w.AccountAge +
		f.KYCStatus*w.KYCStatus +
		f.LoginPatterns*w.LoginPatterns +
		f.TransactionPatterns*w.TransactionPatterns +
		f.BettingPatterns*w.BettingPatterns +
		f.Geolocation*w.Geolocation +
		f.DeviceFingerprint*w.DeviceFingerprint +
		f.SocialSignals*w.SocialSignals
}

func (w Weights) each() []float64 {
	return []float64{w.AccountAge, w.KYCStatus, w.LoginPatterns, w.TransactionPatterns,
		w.BettingPatterns, w.Geolocation, w.DeviceFingerprint, w.SocialSignals}
}

// Bonuses are additive adjustments applied on top of the weighted base. Each
// fires when its metric is strictly greater than the threshold.
type Bonuses struct {
	UniqueIPThreshold     int
	UniqueIPBonus         float64
	UniqueDeviceThreshold int
	UniqueDeviceBonus     float64
	AverageStakeThreshold float64
	AverageStakeBonus     float64
	WinLossThreshold      float64
	WinLossBonus          float64
}

func (b Bonuses) apply(m risk.BehaviorMetrics) float64 {
	total := 0.0
	if m.UniqueIPs > b.UniqueIPThreshold {
		total += b.UniqueIPBonus
	}
	if m.UniqueDevices > b.UniqueDeviceThreshold {
		total += b.UniqueDeviceBonus
	}
	if m.AverageStake > b.AverageStakeThreshold {
		total += b.AverageStakeBonus
	}
	if m.WinLossRatio > b.WinLossThreshold {
		total += b.WinLossBonus
	}
	return total
}

// PolicyConfig is the raw material for a Policy.
type PolicyConfig struct {
	Weights             Weights
	Bonuses             Bonuses
	Levels              risk.LevelThresholds
	Intervals           risk.Intervals
	TrustedEmailDomains []string
	SocialDomainCredit  float64
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Weights: Weights{
			AccountAge:          0.15,
			KYCStatus:           0.20,
			LoginPatterns:       0.10,
			TransactionPatterns: 0.15,
			BettingPatterns:     0.15,
			Geolocation:         0.10,
			DeviceFingerprint:   0.10,
			SocialSignals:       0.05,
		},
		Bonuses: Bonuses{
			UniqueIPThreshold:     10,
			UniqueIPBonus:         10,
			UniqueDeviceThreshold: 5,
			UniqueDeviceBonus:     5,
			AverageStakeThreshold: 1000,
			AverageStakeBonus:     5,
			WinLossThreshold:      0.8,
			WinLossBonus:          10,
		},
		Levels:              risk.DefaultLevelThresholds(),
		Intervals:           risk.DefaultIntervals(),
		TrustedEmailDomains: []string{"gmail.com", "yahoo.com", "outlook.com", "hotmail.com", "icloud.com"},
		SocialDomainCredit:  10,
	}
}

// Policy is the validated, immutable scoring configuration shared by every run.
type Policy struct {
	weights   Weights
	bonuses   Bonuses
	levels    risk.LevelThresholds
	intervals risk.Intervals
	trusted   map[string]struct{}
	credit    float64
}

// NewPolicy validates cfg and returns a Policy that no longer aliases it.
func NewPolicy(cfg PolicyConfig) (Policy, error) {
	for _, w := range cfg.Weights.each() {
		if w < 0 || math.IsNaN(w) {
			return Policy{}, errors.NewValidationError("INVALID_WEIGHTS", "weights must be non-negative")
		}
	}
	if sum := cfg.Weights.Sum(); math.Abs(sum-1.0) > weightTolerance {
		return Policy{}, errors.NewValidationError("INVALID_WEIGHTS", fmt.Sprintf("weights must sum to 1.0, got %v", sum))
	}
	if err := cfg.Levels.Validate(); err != nil {
		return Policy{}, errors.NewValidationError("INVALID_LEVELS", err.Error())
	}
	if err := cfg.Intervals.Validate(); err != nil {
		return Policy{}, errors.NewValidationError("INVALID_INTERVALS", err.Error())
	}
	if cfg.SocialDomainCredit < 0 {
		return Policy{}, errors.NewValidationError("INVALID_SOCIAL_CREDIT", "social domain credit must be non-negative")
	}

	trusted := make(map[string]struct{}, len(cfg.TrustedEmailDomains))
	for _, d := range cfg.TrustedEmailDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			trusted[d] = struct{}{}
		}
	}

	return Policy{
		weights:   cfg.Weights,
		bonuses:   cfg.Bonuses,
		levels:    cfg.Levels,
		intervals: cfg.Intervals,
		trusted:   trusted,
		credit:    cfg.SocialDomainCredit,
	}, nil
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	p, err := NewPolicy(DefaultPolicyConfig())
	if err != nil {
		panic(err)
	}
	return p
}

func (p Policy) Weights() Weights { return p.weights }

func (p Policy) Bonuses() Bonuses { return p.bonuses }

func (p Policy) Levels() risk.LevelThresholds { return p.levels }

func (p Policy) Intervals() risk.Intervals { return p.intervals }

func (p Policy) SocialDomainCredit() float64 { return p.credit }

func (p Policy) LevelFor(score float64) risk.Level { return risk.LevelForScore(score, p.levels) }

func (p Policy) IsTrustedEmailDomain(domain string) bool {
	_, ok := p.trusted[strings.ToLower(strings.TrimSpace(domain))]
	return ok
}
