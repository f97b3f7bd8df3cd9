package main

import (
	"github.com/shopspring/decimal"

	"github.com/davidleathers/betting-risk-engine/internal/domain/risk"
	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/config"
	"github.com/davidleathers/betting-risk-engine/internal/service/detection"
	"github.com/davidleathers/betting-risk-engine/internal/service/ingest"
	"github.com/davidleathers/betting-risk-engine/internal/service/scoring"
	"github.com/davidleathers/betting-risk-engine/internal/service/triage"
)

func policyConfig(c *config.ScoringConfig) scoring.PolicyConfig {
	return scoring.PolicyConfig{
		Weights: scoring.Weights{
			AccountAge:          c.Weights.AccountAge,
			KYCStatus:           c.Weights.KYCStatus,
			LoginPatterns:       c.Weights.LoginPatterns,
			TransactionPatterns: c.Weights.TransactionPatterns,
			BettingPatterns:     c.Weights.BettingPatterns,
			Geolocation:         c.Weights.Geolocation,
			DeviceFingerprint:   c.Weights.DeviceFingerprint,
			SocialSignals:       c.Weights.SocialSignals,
		},
		Bonuses: scoring.Bonuses{
			UniqueIPThreshold:     c.UniqueIPThreshold,
			UniqueIPBonus:         c.UniqueIPBonus,
			UniqueDeviceThreshold: c.UniqueDeviceThreshold,
			UniqueDeviceBonus:     c.UniqueDeviceBonus,
			AverageStakeThreshold: c.AverageStakeThreshold,
			AverageStakeBonus:     c.AverageStakeBonus,
			WinLossThreshold:      c.WinLossThreshold,
			WinLossBonus:          c.WinLossBonus,
		},
		Levels: risk.LevelThresholds{
			Medium:   c.MediumThreshold,
			High:     c.HighThreshold,
			Critical: c.CriticalThreshold,
		},
		Intervals: risk.Intervals{
			Critical: c.CriticalInterval,
			High:     c.HighInterval,
			Medium:   c.MediumInterval,
			Low:      c.LowInterval,
		},
		TrustedEmailDomains: c.TrustedEmailDomains,
		SocialDomainCredit:  c.SocialDomainCredit,
	}
}

func thresholds(c *config.DetectionConfig) detection.Thresholds {
	return detection.Thresholds{
		LoginWindow:       c.LoginWindow,
		MaxDistinctIPs:    c.MaxDistinctIPs,
		GeoLookback:       c.GeoLookback,
		LoginSuppression:  c.LoginSuppression,
		LargeStake:        decimal.NewFromFloat(c.LargeStake),
		BetWindow:         c.BetWindow,
		MaxBetsPerWindow:  c.MaxBetsPerWindow,
		PatternScoreLimit: c.PatternScoreLimit,
		LargeDeposit:      decimal.NewFromFloat(c.LargeDeposit),
		DepositWindow:     c.DepositWindow,
		DepositWindowSum:  decimal.NewFromFloat(c.DepositWindowSum),
	}
}

func triageConfig(cfg *config.Config) *triage.Config {
	out := triage.DefaultConfig()
	out.SeniorReviewer = cfg.Triage.SeniorReviewer
	out.HighRiskThreshold = cfg.Scoring.HighThreshold
	if cfg.Triage.ReportTopUsers > 0 {
		out.ReportTopUsers = cfg.Triage.ReportTopUsers
	}
	if cfg.Triage.AutoEscalateFlag != "" {
		out.FlagPrefix = cfg.Triage.AutoEscalateFlag
	}
	return out
}

func ingestConfig(c *config.IngestConfig) *ingest.Config {
	return &ingest.Config{QualifyingTransaction: decimal.NewFromFloat(c.QualifyingTransaction)}
}

func asyncConfig(c *config.IngestConfig) scoring.AsyncConfig {
	return scoring.AsyncConfig{
		Workers:   c.Workers,
		QueueSize: c.QueueSize,
		Timeout:   c.ScoringTimeout,
	}
}

func schedulerConfig(c *config.SchedulerConfig) scoring.SchedulerConfig {
	return scoring.SchedulerConfig{
		Interval:  c.Interval,
		BatchSize: c.BatchSize,
		RateLimit: c.RateLimit,
		Burst:     c.Burst,
	}
}
