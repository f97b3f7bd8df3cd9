package detection

import (
	"context"
	goerrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/betting-risk-engine/internal/domain/alert"
	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
)

func (d *Detector) evaluateProfile(ctx context.Context, userID uuid.UUID, e *events.ProfileUpdateEvent) ([]alert.Draft, error) {
	drafts, err := d.checkSharedAttributes(ctx, userID, e)
	drafts = append(drafts, checkIdentityMismatch(e)...)
	return drafts, err
}

// checkSharedAttributes raises one draft per attribute already declared by another user.
// A value the user already holds was checked when first declared and is skipped.
func (d *Detector) checkSharedAttributes(ctx context.Context, userID uuid.UUID, e *events.ProfileUpdateEvent) ([]alert.Draft, error) {
	if d.identities == nil {
		return nil, nil
	}

	var (
		drafts []alert.Draft
		errs   []error
	)
	for _, attr := range Attributes(e) {
		users, err := d.identities.FindUsers(ctx, attr.Kind, attr.Value)
		if err != nil {
			errs = append(errs, fmt.Errorf("identity lookup %s: %w", attr.Kind, err))
			continue
		}

		if containsUser(users, userID) {
			continue
		}
		others := otherUsers(users, userID)
		if len(others) == 0 {
			continue
		}

		drafts = append(drafts, alert.Draft{
			Type:        alert.TypeMultipleAccounts,
			Rule:        RuleSharedAttr + ":" + string(attr.Kind),
			Severity:    alert.SeverityHigh,
			Description: fmt.Sprintf("%s is already registered to %d other account(s)", strings.ReplaceAll(string(attr.Kind), "_", " "), len(others)),
			Evidence: map[string]any{
				"attribute":   string(attr.Kind),
				"other_users": others,
			},
		})
	}

	return drafts, goerrors.Join(errs...)
}

// checkIdentityMismatch compares vendor-verified identity against the declared profile.
func checkIdentityMismatch(e *events.ProfileUpdateEvent) []alert.Draft {
	var drafts []alert.Draft

	verifiedName := NormalizeText(e.Verified.FullName)
	profileName := NormalizeText(e.Profile.FullName)
	if verifiedName != "" && profileName != "" && verifiedName != profileName {
		drafts = append(drafts, alert.Draft{
			Type:        alert.TypeKYCMismatch,
			Rule:        RuleNameMismatch,
			Severity:    alert.SeverityHigh,
			Description: "profile name does not match verified identity",
			Evidence: map[string]any{
				"verified_name": e.Verified.FullName,
				"profile_name":  e.Profile.FullName,
			},
		})
	}

	if e.Verified.DateOfBirth != nil && e.Profile.DateOfBirth != nil &&
		!sameDay(*e.Verified.DateOfBirth, *e.Profile.DateOfBirth) {
		drafts = append(drafts, alert.Draft{
			Type:        alert.TypeKYCMismatch,
			Rule:        RuleBirthMismatch,
			Severity:    alert.SeverityMedium,
			Description: "profile date of birth does not match verified identity",
			Evidence: map[string]any{
				"verified_date_of_birth": e.Verified.DateOfBirth.Format(time.DateOnly),
				"profile_date_of_birth":  e.Profile.DateOfBirth.Format(time.DateOnly),
			},
		})
	}

	return drafts
}

// Attributes returns the normalized, non-empty identity attributes on a profile update.
func Attributes(e *events.ProfileUpdateEvent) []Attribute {
	var attrs []Attribute
	if v := NormalizePhone(e.Profile.Phone); v != "" {
		attrs = append(attrs, Attribute{Kind: AttributePhone, Value: v})
	}
	if v := NormalizeText(e.Profile.Address); v != "" {
		attrs = append(attrs, Attribute{Kind: AttributeAddress, Value: v})
	}
	if v := NormalizeText(e.Profile.BankAccount); v != "" {
		attrs = append(attrs, Attribute{Kind: AttributeBankAccount, Value: v})
	}
	return attrs
}

// NormalizeText trims, lower-cases and collapses internal whitespace.
func NormalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// NormalizePhone keeps digits and a leading '+'.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "+" {
		return ""
	}
	return out
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func containsUser(users []uuid.UUID, id uuid.UUID) bool {
	for _, u := range users {
		if u == id {
			return true
		}
	}
	return false
}

func otherUsers(users []uuid.UUID, self uuid.UUID) []string {
	seen := make(map[uuid.UUID]struct{}, len(users))
	out := make([]string, 0, len(users))
	for _, u := range users {
		if u == self {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u.String())
	}
	sort.Strings(out)
	return out
}
