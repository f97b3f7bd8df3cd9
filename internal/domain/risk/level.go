package risk

import (
	"fmt"
	"time"
)

// Level is the four-way bucket derived from an overall risk score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Levels returns every level from least to most risky.
func Levels() []Level {
	return []Level{LevelLow, LevelMedium, LevelHigh, LevelCritical}
}

// Rank orders levels; unknown values rank below low.
func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	case LevelCritical:
		return 4
	default:
		return 0
	}
}

func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if l.Rank() == 0 {
		return "", fmt.Errorf("unknown risk level %q", s)
	}
	return l, nil
}

// LevelThresholds are the inclusive lower bounds of the upper three levels.
type LevelThresholds struct {
	Medium   float64
	High     float64
	Critical float64
}

func DefaultLevelThresholds() LevelThresholds {
	return LevelThresholds{Medium: 40, High: 60, Critical: 80}
}

func (t LevelThresholds) Validate() error {
	if !(0 < t.Medium && t.Medium < t.High && t.High < t.Critical && t.Critical <= MaxScore) {
		return fmt.Errorf("level thresholds must be increasing within (0,%v]: %+v", MaxScore, t)
	}
	return nil
}

// LevelForScore is the only mapping from a score to a level.
func LevelForScore(score float64, t LevelThresholds) Level {
	switch {
	case score >= t.Critical:
		return LevelCritical
	case score >= t.High:
		return LevelHigh
	case score >= t.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Intervals are the reassessment gaps per level. Riskier levels are reassessed sooner.
type Intervals struct {
	Critical time.Duration
	High     time.Duration
	Medium   time.Duration
	Low      time.Duration
}

func DefaultIntervals() Intervals {
	day := 24 * time.Hour
	return Intervals{Critical: day, High: 3 * day, Medium: 7 * day, Low: 30 * day}
}

func (i Intervals) Validate() error {
	if i.Critical <= 0 || i.High <= 0 || i.Medium <= 0 || i.Low <= 0 {
		return fmt.Errorf("reassessment intervals must be positive: %+v", i)
	}
	return nil
}

func (i Intervals) For(l Level) time.Duration {
	switch l {
	case LevelCritical:
		return i.Critical
	case LevelHigh:
		return i.High
	case LevelMedium:
		return i.Medium
	default:
		return i.Low
	}
}
