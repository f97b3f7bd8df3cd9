package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidleathers/betting-risk-engine/internal/domain/errors"
)

// Kind is the closed set of inbound event tags.
type Kind string

const (
	KindLogin         Kind = "login"
	KindBetPlaced     Kind = "bet_placed"
	KindTransaction   Kind = "transaction"
	KindProfileUpdate Kind = "profile_update"
)

// Kinds lists every tag the detectors dispatch on.
func Kinds() []Kind {
	return []Kind{KindLogin, KindBetPlaced, KindTransaction, KindProfileUpdate}
}

// Event is implemented by the four inbound event types.
type Event interface {
	Kind() Kind
	Subject() uuid.UUID
	Time() time.Time
	Validate() error
}

// TransactionType distinguishes money movements on a TransactionEvent.
type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
)

// VerificationStatus is the identity-verification state reported by the vendor feed.
type VerificationStatus string

const (
	VerificationNotStarted VerificationStatus = "not_started"
	VerificationPending    VerificationStatus = "pending"
	VerificationVerified   VerificationStatus = "verified"
	VerificationRejected   VerificationStatus = "rejected"
)

var validate = validator.New()

type LoginEvent struct {
	UserID     uuid.UUID `json:"user_id" validate:"required"`
	IPAddress  string    `json:"ip_address" validate:"required,ip"`
	UserAgent  string    `json:"user_agent" validate:"max=512"`
	Location   string    `json:"location" validate:"max=256"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e *LoginEvent) Kind() Kind         { return KindLogin }
func (e *LoginEvent) Subject() uuid.UUID { return e.UserID }
func (e *LoginEvent) Time() time.Time    { return e.OccurredAt }

func (e *LoginEvent) Validate() error {
	return check(e)
}

type BetPlacedEvent struct {
	UserID     uuid.UUID       `json:"user_id" validate:"required"`
	Stake      decimal.Decimal `json:"stake"`
	BetType    string          `json:"bet_type" validate:"required,max=64"`
	Odds       float64         `json:"odds" validate:"gt=0"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func (e *BetPlacedEvent) Kind() Kind         { return KindBetPlaced }
func (e *BetPlacedEvent) Subject() uuid.UUID { return e.UserID }
func (e *BetPlacedEvent) Time() time.Time    { return e.OccurredAt }

func (e *BetPlacedEvent) Validate() error {
	if err := check(e); err != nil {
		return err
	}
	if !e.Stake.IsPositive() {
		return errors.NewValidationError("INVALID_STAKE", "stake must be positive")
	}
	return nil
}

type TransactionEvent struct {
	UserID        uuid.UUID       `json:"user_id" validate:"required"`
	Type          TransactionType `json:"type" validate:"required,oneof=deposit withdrawal"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method" validate:"required,max=64"`
	Currency      string          `json:"currency" validate:"required,len=3"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func (e *TransactionEvent) Kind() Kind         { return KindTransaction }
func (e *TransactionEvent) Subject() uuid.UUID { return e.UserID }
func (e *TransactionEvent) Time() time.Time    { return e.OccurredAt }

func (e *TransactionEvent) Validate() error {
	if err := check(e); err != nil {
		return err
	}
	if !e.Amount.IsPositive() {
		return errors.NewValidationError("INVALID_AMOUNT", "amount must be positive")
	}
	return nil
}

// VerifiedFields are the identity attributes confirmed by the verification vendor.
type VerifiedFields struct {
	FullName    string             `json:"full_name,omitempty" validate:"max=256"`
	DateOfBirth *time.Time         `json:"date_of_birth,omitempty"`
	Status      VerificationStatus `json:"status,omitempty" validate:"omitempty,oneof=not_started pending verified rejected"`
}

// ProfileFields are the self-declared attributes on the customer profile.
type ProfileFields struct {
	FullName    string     `json:"full_name,omitempty" validate:"max=256"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Phone       string     `json:"phone,omitempty" validate:"max=32"`
	Address     string     `json:"address,omitempty" validate:"max=512"`
	BankAccount string     `json:"bank_account,omitempty" validate:"max=64"`
}

type ProfileUpdateEvent struct {
	UserID     uuid.UUID      `json:"user_id" validate:"required"`
	Verified   VerifiedFields `json:"verified_fields"`
	Profile    ProfileFields  `json:"profile_fields"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func (e *ProfileUpdateEvent) Kind() Kind         { return KindProfileUpdate }
func (e *ProfileUpdateEvent) Subject() uuid.UUID { return e.UserID }
func (e *ProfileUpdateEvent) Time() time.Time    { return e.OccurredAt }

func (e *ProfileUpdateEvent) Validate() error {
	return check(e)
}

// check runs struct-tag validation and folds the failures into one validation error.
func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.NewValidationError("INVALID_EVENT", err.Error())
	}

	fields := make([]string, 0, len(verrs))
	details := make(map[string]interface{}, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
		details[fe.Field()] = fe.Tag()
	}

	return errors.NewValidationError("INVALID_EVENT",
		fmt.Sprintf("invalid fields: %s", strings.Join(fields, ", "))).WithDetails(details)
}
