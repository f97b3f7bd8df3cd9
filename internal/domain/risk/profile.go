package risk

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MinScore     = 0.0
	MaxScore     = 100.0
	NeutralScore = 50.0
)

// Factors are the eight independent sub-scores, each in [0,100], higher is riskier.
type Factors struct {
	AccountAge          float64 `json:"account_age"`
	KYCStatus           float64 `json:"kyc_status"`
	LoginPatterns       float64 `json:"login_patterns"`
	TransactionPatterns float64 `json:"transaction_patterns"`
	BettingPatterns     float64 `json:"betting_patterns"`
	Geolocation         float64 `json:"geolocation"`
	DeviceFingerprint   float64 `json:"device_fingerprint"`
	SocialSignals       float64 `json:"social_signals"`
}

func NeutralFactors() Factors {
	return Factors{
		AccountAge:          NeutralScore,
		KYCStatus:           NeutralScore,
		LoginPatterns:       NeutralScore,
		TransactionPatterns: NeutralScore,
		BettingPatterns:     NeutralScore,
		Geolocation:         NeutralScore,
		DeviceFingerprint:   NeutralScore,
		SocialSignals:       NeutralScore,
	}
}

// Clamped returns a copy with every factor forced into [0,100].
func (f Factors) Clamped() Factors {
	return Factors{
		AccountAge:          Clamp(f.AccountAge),
		KYCStatus:           Clamp(f.KYCStatus),
		LoginPatterns:       Clamp(f.LoginPatterns),
		TransactionPatterns: Clamp(f.TransactionPatterns),
		BettingPatterns:     Clamp(f.BettingPatterns),
		Geolocation:         Clamp(f.Geolocation),
		DeviceFingerprint:   Clamp(f.DeviceFingerprint),
		SocialSignals:       Clamp(f.SocialSignals),
	}
}

// BehaviorMetrics are derived statistics used as scoring inputs.
type BehaviorMetrics struct {
	AverageSessionDuration time.Duration `json:"average_session_duration"`
	LoginFrequency         float64       `json:"login_frequency"`
	UniqueDevices          int           `json:"unique_devices"`
	UniqueIPs              int           `json:"unique_ips"`
	AverageStake           float64       `json:"average_stake"`
	BettingFrequency       float64       `json:"betting_frequency"`
	WinLossRatio           float64       `json:"win_loss_ratio"`
	DepositFrequency       int           `json:"deposit_frequency"`
	DepositAmount          float64       `json:"deposit_amount"`
	WithdrawalFrequency    int           `json:"withdrawal_frequency"`
	WithdrawalAmount       float64       `json:"withdrawal_amount"`
}

type HistoryEntry struct {
	Date        time.Time `json:"date"`
	Score       float64   `json:"score"`
	Level       Level     `json:"level"`
	Reason      string    `json:"reason"`
	TriggeredBy string    `json:"triggered_by"`
}

// Profile is the per-user risk aggregate. Score and level change only through
// ApplyAssessment; history only grows.
type Profile struct {
	UserID               uuid.UUID       `json:"user_id"`
	OverallRiskScore     float64         `json:"overall_risk_score"`
	RiskLevel            Level           `json:"risk_level"`
	RiskFactors          Factors         `json:"risk_factors"`
	BehaviorMetrics      BehaviorMetrics `json:"behavior_metrics"`
	RiskFlags            []string        `json:"risk_flags"`
	RiskHistory          []HistoryEntry  `json:"risk_history"`
	// HistoryOffset counts older entries that precede RiskHistory but were not loaded.
	HistoryOffset        int             `json:"history_offset,omitempty"`
	LastAssessment       time.Time       `json:"last_assessment"`
	NextAssessment       time.Time       `json:"next_assessment"`
	IsBlacklisted        bool            `json:"is_blacklisted"`
	BlacklistReason      string          `json:"blacklist_reason,omitempty"`
	RequiresManualReview bool            `json:"requires_manual_review"`
	ReviewReason         string          `json:"review_reason,omitempty"`
	Version              int64           `json:"version"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// NewProfile creates a profile with neutral defaults. It has not been assessed yet,
// so LastAssessment is zero and NextAssessment is now.
func NewProfile(userID uuid.UUID, now time.Time) *Profile {
	return &Profile{
		UserID:           userID,
		OverallRiskScore: NeutralScore,
		RiskLevel:        LevelMedium,
		RiskFactors:      NeutralFactors(),
		RiskFlags:        []string{},
		RiskHistory:      []HistoryEntry{},
		NextAssessment:   now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Assessment is the output of one completed scoring run.
type Assessment struct {
	Score       float64
	Factors     Factors
	Metrics     BehaviorMetrics
	Reason      string
	TriggeredBy string
	At          time.Time
}

// ApplyAssessment writes the score, derives the level and schedule, and appends
// one history entry.
func (p *Profile) ApplyAssessment(a Assessment, levels LevelThresholds, intervals Intervals) HistoryEntry {
	if intervals.Validate() != nil {
		intervals = DefaultIntervals()
	}

	score := Clamp(a.Score)
	level := LevelForScore(score, levels)

	p.OverallRiskScore = score
	p.RiskLevel = level
	p.RiskFactors = a.Factors.Clamped()
	p.BehaviorMetrics = a.Metrics
	p.LastAssessment = a.At
	p.NextAssessment = a.At.Add(intervals.For(level))
	p.UpdatedAt = a.At

	entry := HistoryEntry{
		Date:        a.At,
		Score:       score,
		Level:       level,
		Reason:      a.Reason,
		TriggeredBy: a.TriggeredBy,
	}
	p.AppendHistory(entry)
	return entry
}

func (p *Profile) AppendHistory(e HistoryEntry) {
	p.RiskHistory = append(p.RiskHistory, e)
}

// IsDue reports whether a scheduled reassessment is owed.
func (p *Profile) IsDue(now time.Time) bool {
	return !p.NextAssessment.After(now)
}

func (p *Profile) SetBlacklisted(blacklisted bool, reason string, now time.Time) {
	p.IsBlacklisted = blacklisted
	if blacklisted {
		p.BlacklistReason = reason
	} else {
		p.BlacklistReason = ""
	}
	p.UpdatedAt = now
}

func (p *Profile) RequireManualReview(reason string, now time.Time) {
	p.RequiresManualReview = true
	p.ReviewReason = reason
	p.UpdatedAt = now
}

// AddFlags adds each non-empty flag once and reports whether anything changed.
func (p *Profile) AddFlags(now time.Time, flags ...string) bool {
	changed := false
	for _, f := range flags {
		f = strings.TrimSpace(f)
		if f == "" || p.HasFlag(f) {
			continue
		}
		p.RiskFlags = append(p.RiskFlags, f)
		changed = true
	}
	if changed {
		sort.Strings(p.RiskFlags)
		p.UpdatedAt = now
	}
	return changed
}

func (p *Profile) RemoveFlag(flag string, now time.Time) bool {
	for i, f := range p.RiskFlags {
		if f == flag {
			p.RiskFlags = append(p.RiskFlags[:i], p.RiskFlags[i+1:]...)
			p.UpdatedAt = now
			return true
		}
	}
	return false
}

func (p *Profile) HasFlag(flag string) bool {
	for _, f := range p.RiskFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand out of a store.
func (p *Profile) Clone() *Profile {
	c := *p
	c.RiskFlags = append([]string{}, p.RiskFlags...)
	c.RiskHistory = append([]HistoryEntry{}, p.RiskHistory...)
	return &c
}

// Clamp forces a score into [0,100]; NaN maps to the maximum.
func Clamp(score float64) float64 {
	if math.IsNaN(score) {
		return MaxScore
	}
	return math.Max(MinScore, math.Min(MaxScore, score))
}
