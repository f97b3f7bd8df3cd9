package alert

import (
	"sort"

	"github.com/google/uuid"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Filter narrows active-alert queries. Zero fields match everything.
type Filter struct {
	UserID     uuid.UUID
	Type       Type
	Severity   Severity
	Status     Status
	AssignedTo string
	Limit      int
}

// Normalized returns the filter with the limit clamped to [1, MaxListLimit].
func (f Filter) Normalized() Filter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}
	return f
}

func (f Filter) Matches(a *Alert) bool {
	if f.UserID != uuid.Nil && a.UserID != f.UserID {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.AssignedTo != "" && a.AssignedTo != f.AssignedTo {
		return false
	}
	return true
}

// SortNewestFirst orders alerts by trigger time, latest first, with id as tie-breaker.
func SortNewestFirst(alerts []*Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].TriggeredAt.Equal(alerts[j].TriggeredAt) {
			return alerts[i].ID.String() > alerts[j].ID.String()
		}
		return alerts[i].TriggeredAt.After(alerts[j].TriggeredAt)
	})
}
