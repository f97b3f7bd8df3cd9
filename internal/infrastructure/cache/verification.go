package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
)

// VerificationStore caches the identity-verification status pushed by the vendor feed.
type VerificationStore struct {
	cache Cache
	ttl   time.Duration
}

func NewVerificationStore(cache Cache, ttl time.Duration) *VerificationStore {
	return &VerificationStore{cache: cache, ttl: ttl}
}

type verificationEntry struct {
	Status    events.VerificationStatus `json:"status"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

func (s *VerificationStore) SetVerificationStatus(ctx context.Context, userID uuid.UUID, status events.VerificationStatus) error {
	return s.cache.SetJSON(ctx, VerificationPrefix+userID.String(), verificationEntry{
		Status:    status,
		UpdatedAt: time.Now().UTC(),
	}, s.ttl)
}

// VerificationStatus returns the cached status, or false when none is held.
func (s *VerificationStore) VerificationStatus(ctx context.Context, userID uuid.UUID) (events.VerificationStatus, bool, error) {
	var e verificationEntry
	err := s.cache.GetJSON(ctx, VerificationPrefix+userID.String(), &e)
	if err != nil {
		var nf ErrCacheKeyNotFound
		if errors.As(err, &nf) {
			return "", false, nil
		}
		return "", false, err
	}
	return e.Status, true, nil
}
