package alert_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/betting-risk-engine/internal/domain/alert"
	"github.com/davidleathers/betting-risk-engine/internal/domain/errors"
)

func newAlert(t *testing.T, severity alert.Severity) *alert.Alert {
	t.Helper()
	a, err := alert.New(uuid.New(), alert.Draft{
		Type:        alert.TypeSuspiciousLogin,
		Severity:    severity,
		Description: "6 distinct IPs in 24h",
		Evidence:    map[string]any{"distinct_ips": 6},
	}, time.Now().UTC())
	require.NoError(t, err)
	return a
}

func TestNew(t *testing.T) {
	a := newAlert(t, alert.SeverityHigh)

	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.Equal(t, alert.StatusOpen, a.Status)
	assert.Nil(t, a.ResolvedAt)
	assert.Empty(t, a.AssignedTo)
	assert.Equal(t, 6, a.Metadata["distinct_ips"])
	require.Len(t, a.Events, 1)
	assert.Equal(t, alert.EventCreated, a.Events[0].Kind)

	_, err := alert.New(uuid.Nil, alert.Draft{Type: alert.TypeKYCMismatch, Severity: alert.SeverityHigh}, time.Now())
	assert.True(t, errors.IsValidation(err))

	_, err = alert.New(uuid.New(), alert.Draft{Type: alert.TypeKYCMismatch, Severity: "severe"}, time.Now())
	assert.True(t, errors.IsValidation(err))
}

func TestAlert_Lifecycle(t *testing.T) {
	a := newAlert(t, alert.SeverityHigh)
	now := time.Now().UTC()

	require.NoError(t, a.Assign("reviewer-1", "lead", now))
	assert.Equal(t, alert.StatusInvestigating, a.Status)
	assert.Equal(t, "reviewer-1", a.AssignedTo)
	assert.Nil(t, a.ResolvedAt)

	require.NoError(t, a.UpdateStatus(alert.StatusResolved, "confirmed shared VPN", "no action", "reviewer-1", now.Add(time.Minute)))
	assert.Equal(t, alert.StatusResolved, a.Status)
	require.NotNil(t, a.ResolvedAt)
	assert.Equal(t, now.Add(time.Minute), *a.ResolvedAt)
	assert.Equal(t, "no action", a.Resolution)

	err := a.UpdateStatus(alert.StatusFalsePositive, "second attempt", "", "reviewer-2", now.Add(2*time.Minute))
	assert.True(t, errors.IsConflict(err))
	assert.ErrorIs(t, err, errors.ErrAlertTerminal)
	assert.Equal(t, alert.StatusResolved, a.Status)

	assert.True(t, errors.IsConflict(a.Assign("reviewer-2", "", now)))
	assert.True(t, errors.IsConflict(a.Escalate("late", "", "", now)))

	kinds := make([]alert.EventKind, 0, len(a.Events))
	for _, e := range a.Events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []alert.EventKind{
		alert.EventCreated, alert.EventAssigned, alert.EventStatusChanged, alert.EventStatusChanged,
	}, kinds)
}

func TestAlert_UpdateStatus(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name    string
		setup   func(a *alert.Alert)
		status  alert.Status
		notes   string
		check   func(t *testing.T, err error)
		resolve bool
	}{
		{
			name:   "false positive from open",
			status: alert.StatusFalsePositive,
			notes:  "customer travelling",
			check: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
			resolve: true,
		},
		{
			name:   "notes are mandatory",
			status: alert.StatusResolved,
			notes:  "   ",
			check: func(t *testing.T, err error) {
				assert.True(t, errors.IsValidation(err))
			},
		},
		{
			name:   "manual move to investigating",
			status: alert.StatusInvestigating,
			check: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name: "investigating twice is rejected",
			setup: func(a *alert.Alert) {
				_ = a.UpdateStatus(alert.StatusInvestigating, "", "", "", now)
			},
			status: alert.StatusInvestigating,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, errors.ErrInvalidTransition)
			},
		},
		{
			name:   "open is not a target",
			status: alert.StatusOpen,
			check: func(t *testing.T, err error) {
				assert.True(t, errors.IsValidation(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAlert(t, alert.SeverityMedium)
			if tt.setup != nil {
				tt.setup(a)
			}
			err := a.UpdateStatus(tt.status, tt.notes, "", "reviewer", now)
			tt.check(t, err)
			assert.Equal(t, tt.resolve, a.ResolvedAt != nil)
			assert.Equal(t, a.Status.IsTerminal(), a.ResolvedAt != nil)
		})
	}
}

func TestAlert_Escalate(t *testing.T) {
	now := time.Now().UTC()
	a := newAlert(t, alert.SeverityMedium)

	require.NoError(t, a.Escalate("repeat offender", "lead", "", now))
	assert.Equal(t, alert.SeverityHigh, a.Severity)
	assert.Equal(t, alert.StatusOpen, a.Status)
	assert.Empty(t, a.AssignedTo)

	require.NoError(t, a.Escalate("linked to mule ring", "lead", "senior-1", now))
	assert.Equal(t, alert.SeverityCritical, a.Severity)
	assert.Equal(t, "senior-1", a.AssignedTo)
	assert.Equal(t, alert.StatusOpen, a.Status)

	require.NoError(t, a.Escalate("still critical", "lead", "", now))
	assert.Equal(t, alert.SeverityCritical, a.Severity)
	assert.Equal(t, 3, a.EscalationCount)
	assert.Nil(t, a.ResolvedAt)

	last := a.Events[len(a.Events)-1]
	assert.Equal(t, alert.EventEscalated, last.Kind)
	assert.Equal(t, "lead", last.Actor)

	assert.True(t, errors.IsValidation(a.Escalate("", "lead", "", now)))
}

func TestFilter(t *testing.T) {
	a := newAlert(t, alert.SeverityHigh)

	assert.True(t, alert.Filter{}.Matches(a))
	assert.True(t, alert.Filter{UserID: a.UserID, Type: alert.TypeSuspiciousLogin}.Matches(a))
	assert.False(t, alert.Filter{Severity: alert.SeverityLow}.Matches(a))
	assert.False(t, alert.Filter{AssignedTo: "someone"}.Matches(a))

	assert.Equal(t, alert.DefaultListLimit, alert.Filter{}.Normalized().Limit)
	assert.Equal(t, alert.MaxListLimit, alert.Filter{Limit: 5000}.Normalized().Limit)
	assert.Equal(t, 7, alert.Filter{Limit: 7}.Normalized().Limit)
}

func TestSortNewestFirst(t *testing.T) {
	base := time.Now().UTC()
	older := newAlert(t, alert.SeverityLow)
	older.TriggeredAt = base
	newer := newAlert(t, alert.SeverityLow)
	newer.TriggeredAt = base.Add(time.Second)

	list := []*alert.Alert{older, newer}
	alert.SortNewestFirst(list)
	assert.Equal(t, newer.ID, list[0].ID)
}

func TestSeverity_Raise(t *testing.T) {
	assert.Equal(t, alert.SeverityMedium, alert.SeverityLow.Raise())
	assert.Equal(t, alert.SeverityHigh, alert.SeverityMedium.Raise())
	assert.Equal(t, alert.SeverityCritical, alert.SeverityHigh.Raise())
	assert.Equal(t, alert.SeverityCritical, alert.SeverityCritical.Raise())
}
