package alert

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/betting-risk-engine/internal/domain/errors"
)

type Type string

const (
	TypeSuspiciousLogin       Type = "suspicious_login"
	TypeUnusualBettingPattern Type = "unusual_betting_pattern"
	TypeLargeTransaction      Type = "large_transaction"
	TypeVelocityCheck         Type = "velocity_check"
	TypeMultipleAccounts      Type = "multiple_accounts"
	TypeKYCMismatch           Type = "kyc_mismatch"
	TypeGeoLocationRisk       Type = "geo_location_risk"
	TypeRapidDeposits         Type = "rapid_deposits"
)

func Types() []Type {
	return []Type{
		TypeSuspiciousLogin, TypeUnusualBettingPattern, TypeLargeTransaction, TypeVelocityCheck,
		TypeMultipleAccounts, TypeKYCMismatch, TypeGeoLocationRisk, TypeRapidDeposits,
	}
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func Severities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Raise returns the next severity up, capped at critical.
func (s Severity) Raise() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

type Status string

const (
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusFalsePositive Status = "false_positive"
)

func Statuses() []Status {
	return []Status{StatusOpen, StatusInvestigating, StatusResolved, StatusFalsePositive}
}

func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusFalsePositive
}

// Draft is a detector's proposal for an alert. A positive SuppressFor collapses
// repeat firings of the same rule for the same user inside that window.
type Draft struct {
	Type        Type
	Rule        string
	Severity    Severity
	Description string
	Evidence    map[string]any
	SuppressFor time.Duration
}

type EventKind string

const (
	EventCreated       EventKind = "created"
	EventAssigned      EventKind = "assigned"
	EventStatusChanged EventKind = "status_changed"
	EventEscalated     EventKind = "escalated"
)

// Event is one entry of an alert's append-only audit trail.
type Event struct {
	Kind   EventKind `json:"kind"`
	Actor  string    `json:"actor"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

const systemActor = "system"

// Alert is an investigable compliance record. ResolvedAt is set exactly when the
// status is terminal, and a terminal alert never changes status again.
type Alert struct {
	ID                 uuid.UUID      `json:"id"`
	UserID             uuid.UUID      `json:"user_id"`
	Type               Type           `json:"alert_type"`
	Severity           Severity       `json:"severity"`
	Status             Status         `json:"status"`
	Description        string         `json:"description"`
	Metadata           map[string]any `json:"metadata"`
	AssignedTo         string         `json:"assigned_to,omitempty"`
	InvestigationNotes string         `json:"investigation_notes,omitempty"`
	Resolution         string         `json:"resolution,omitempty"`
	EscalationCount    int            `json:"escalation_count"`
	TriggeredAt        time.Time      `json:"triggered_at"`
	ResolvedAt         *time.Time     `json:"resolved_at,omitempty"`
	UpdatedAt          time.Time      `json:"updated_at"`
	Events             []Event        `json:"events"`
	Version            int64          `json:"version"`
}

// New creates an open alert from a draft.
func New(userID uuid.UUID, d Draft, now time.Time) (*Alert, error) {
	if userID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_USER", "user id is required")
	}
	if d.Type == "" {
		return nil, errors.NewValidationError("INVALID_ALERT_TYPE", "alert type is required")
	}
	if d.Severity.Rank() == 0 {
		return nil, errors.NewValidationError("INVALID_SEVERITY", "unknown severity "+string(d.Severity))
	}

	metadata := make(map[string]any, len(d.Evidence))
	for k, v := range d.Evidence {
		metadata[k] = v
	}

	a := &Alert{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        d.Type,
		Severity:    d.Severity,
		Status:      StatusOpen,
		Description: d.Description,
		Metadata:    metadata,
		TriggeredAt: now,
		UpdatedAt:   now,
	}
	a.record(EventCreated, systemActor, now, string(d.Severity))
	return a, nil
}

// Assign sets the reviewer and moves an open alert into investigation.
func (a *Alert) Assign(reviewer, actor string, now time.Time) error {
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return errors.NewValidationError("INVALID_REVIEWER", "reviewer is required")
	}
	if a.Status.IsTerminal() {
		return errors.ErrAlertTerminal
	}

	a.AssignedTo = reviewer
	a.record(EventAssigned, actorOr(actor, reviewer), now, reviewer)
	if a.Status == StatusOpen {
		a.transition(StatusInvestigating, actorOr(actor, reviewer), now)
	}
	a.UpdatedAt = now
	return nil
}

// UpdateStatus moves the alert to investigating or to a terminal status. Notes are
// mandatory for terminal statuses.
func (a *Alert) UpdateStatus(status Status, notes, resolution, actor string, now time.Time) error {
	if a.Status.IsTerminal() {
		return errors.ErrAlertTerminal
	}

	notes = strings.TrimSpace(notes)
	switch status {
	case StatusInvestigating:
		if a.Status != StatusOpen {
			return errors.ErrInvalidTransition
		}
	case StatusResolved, StatusFalsePositive:
		if notes == "" {
			return errors.NewValidationError("NOTES_REQUIRED", "investigation notes are required to close an alert")
		}
	default:
		return errors.NewValidationError("INVALID_STATUS", "unsupported target status "+string(status))
	}

	if notes != "" {
		if a.InvestigationNotes == "" {
			a.InvestigationNotes = notes
		} else {
			a.InvestigationNotes += "\n" + notes
		}
	}
	if status.IsTerminal() {
		resolvedAt := now
		a.ResolvedAt = &resolvedAt
		a.Resolution = strings.TrimSpace(resolution)
	}
	a.transition(status, actorOr(actor, systemActor), now)
	a.UpdatedAt = now
	return nil
}

// Escalate raises severity one step and optionally hands the alert to a senior
// reviewer. Status is unchanged.
func (a *Alert) Escalate(reason, actor, seniorReviewer string, now time.Time) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return errors.NewValidationError("REASON_REQUIRED", "escalation reason is required")
	}
	if a.Status.IsTerminal() {
		return errors.ErrAlertTerminal
	}

	from := a.Severity
	a.Severity = a.Severity.Raise()
	a.EscalationCount++

	detail := string(from) + "->" + string(a.Severity) + ": " + reason
	if seniorReviewer = strings.TrimSpace(seniorReviewer); seniorReviewer != "" {
		a.AssignedTo = seniorReviewer
		detail += " (reassigned to " + seniorReviewer + ")"
	}
	a.record(EventEscalated, actorOr(actor, systemActor), now, detail)
	a.UpdatedAt = now
	return nil
}

func (a *Alert) IsActive() bool {
	return !a.Status.IsTerminal()
}

func (a *Alert) Clone() *Alert {
	c := *a
	c.Metadata = make(map[string]any, len(a.Metadata))
	for k, v := range a.Metadata {
		c.Metadata[k] = v
	}
	c.Events = append([]Event{}, a.Events...)
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

func (a *Alert) transition(to Status, actor string, now time.Time) {
	detail := string(a.Status) + "->" + string(to)
	a.Status = to
	a.record(EventStatusChanged, actor, now, detail)
}

func (a *Alert) record(kind EventKind, actor string, at time.Time, detail string) {
	a.Events = append(a.Events, Event{Kind: kind, Actor: actor, At: at, Detail: detail})
}

func actorOr(actor, fallback string) string {
	if actor = strings.TrimSpace(actor); actor != "" {
		return actor
	}
	return fallback
}
