package alert

import (
	"time"

	"github.com/google/uuid"
)

// Stats are alert counts across every alert on record.
type Stats struct {
	ByStatus      map[Status]int   `json:"by_status"`
	BySeverity    map[Severity]int `json:"by_severity"`
	ByType        map[Type]int     `json:"by_type"`
	Total         int              `json:"total"`
	Active        int              `json:"active"`
	ResolvedSince int              `json:"resolved_since"`
}

func NewStats() Stats {
	return Stats{
		ByStatus:   make(map[Status]int),
		BySeverity: make(map[Severity]int),
		ByType:     make(map[Type]int),
	}
}

// Add counts one alert. since is the cut-off for ResolvedSince.
func (s *Stats) Add(a *Alert, since time.Time) {
	s.ByStatus[a.Status]++
	s.BySeverity[a.Severity]++
	s.ByType[a.Type]++
	s.Total++
	if a.IsActive() {
		s.Active++
	}
	if a.ResolvedAt != nil && !a.ResolvedAt.Before(since) {
		s.ResolvedSince++
	}
}

// UserCount is one row of a per-user alert ranking.
type UserCount struct {
	UserID uuid.UUID `json:"user_id"`
	Alerts int       `json:"alerts"`
}
