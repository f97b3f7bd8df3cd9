// Package messaging carries betting-platform events in from Kafka and alert
// changes back out.
package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/betting-risk-engine/internal/domain/errors"
	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
)

// Envelope wraps one inbound event on the wire. Payload is decoded according
// to Kind.
type Envelope struct {
	ID         uuid.UUID       `json:"id"`
	Kind       events.Kind     `json:"kind"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Encode wraps ev in an envelope.
func Encode(ev events.Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.NewInternalError("failed to serialize event").WithCause(err)
	}
	data, err := json.Marshal(Envelope{
		ID:         uuid.New(),
		Kind:       ev.Kind(),
		OccurredAt: ev.Time(),
		Payload:    payload,
	})
	if err != nil {
		return nil, errors.NewInternalError("failed to serialize envelope").WithCause(err)
	}
	return data, nil
}

// Decode unwraps an envelope into its typed event. A payload without its own
// occurred_at inherits the envelope's.
func Decode(data []byte) (events.Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.NewValidationError("INVALID_EVENT_ENVELOPE",
			"failed to unmarshal event envelope").WithCause(err)
	}

	var ev events.Event
	switch env.Kind {
	case events.KindLogin:
		ev = &events.LoginEvent{}
	case events.KindBetPlaced:
		ev = &events.BetPlacedEvent{}
	case events.KindTransaction:
		ev = &events.TransactionEvent{}
	case events.KindProfileUpdate:
		ev = &events.ProfileUpdateEvent{}
	default:
		return nil, errors.NewValidationError("UNSUPPORTED_EVENT_KIND",
			"unsupported event kind "+string(env.Kind))
	}

	if len(env.Payload) == 0 {
		return nil, errors.NewValidationError("INVALID_EVENT_PAYLOAD", "event payload is empty")
	}
	if err := json.Unmarshal(env.Payload, ev); err != nil {
		return nil, errors.NewValidationError("INVALID_EVENT_PAYLOAD",
			"failed to unmarshal "+string(env.Kind)+" payload").WithCause(err)
	}

	if ev.Time().IsZero() && !env.OccurredAt.IsZero() {
		stamp(ev, env.OccurredAt.UTC())
	}
	return ev, nil
}

func stamp(ev events.Event, at time.Time) {
	switch e := ev.(type) {
	case *events.LoginEvent:
		e.OccurredAt = at
	case *events.BetPlacedEvent:
		e.OccurredAt = at
	case *events.TransactionEvent:
		e.OccurredAt = at
	case *events.ProfileUpdateEvent:
		e.OccurredAt = at
	}
}
