package detection

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rule names identify which check produced a draft. Ingest keys suppression on them.
const (
	RuleDistinctIPs   = "distinct_ips"
	RuleNewLocation   = "new_location"
	RuleLargeStake    = "large_stake"
	RuleBetVelocity   = "bet_velocity"
	RulePatternScore  = "pattern_score"
	RuleLargeDeposit  = "large_deposit"
	RuleDepositSum    = "deposit_sum"
	RuleSharedAttr    = "shared_attribute"
	RuleNameMismatch  = "name_mismatch"
	RuleBirthMismatch = "birth_date_mismatch"
)

// Thresholds configure every detector. Values are immutable once the Detector is built.
type Thresholds struct {
	LoginWindow      time.Duration
	MaxDistinctIPs   int
	GeoLookback      time.Duration
	LoginSuppression time.Duration

	LargeStake        decimal.Decimal
	BetWindow         time.Duration
	MaxBetsPerWindow  int
	PatternScoreLimit float64

	LargeDeposit     decimal.Decimal
	DepositWindow    time.Duration
	DepositWindowSum decimal.Decimal
}

func DefaultThresholds() Thresholds {
	day := 24 * time.Hour
	return Thresholds{
		LoginWindow:       day,
		MaxDistinctIPs:    5,
		GeoLookback:       90 * day,
		LoginSuppression:  day,
		LargeStake:        decimal.NewFromInt(10000),
		BetWindow:         time.Hour,
		MaxBetsPerWindow:  50,
		PatternScoreLimit: 80,
		LargeDeposit:      decimal.NewFromInt(50000),
		DepositWindow:     day,
		DepositWindowSum:  decimal.NewFromInt(25000),
	}
}

// AttributeKind names an identity attribute shared across accounts.
type AttributeKind string

const (
	AttributePhone       AttributeKind = "phone"
	AttributeAddress     AttributeKind = "address"
	AttributeBankAccount AttributeKind = "bank_account"
)

// Attribute is a normalized identity value declared on a profile.
type Attribute struct {
	Kind  AttributeKind
	Value string
}
