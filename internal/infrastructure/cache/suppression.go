package cache

import (
	"context"
	"fmt"
	"time"
)

// Suppressor grants alert suppression windows with SET NX.
type Suppressor struct {
	cache Cache
}

func NewSuppressor(cache Cache) *Suppressor {
	return &Suppressor{cache: cache}
}

// Acquire returns true when no window is open for key and opens one for ttl.
func (s *Suppressor) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("suppression ttl must be positive")
	}
	return s.cache.SetNX(ctx, SuppressionPrefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl)
}

// Release closes the window for key early.
func (s *Suppressor) Release(ctx context.Context, key string) error {
	return s.cache.Delete(ctx, SuppressionPrefix+key)
}
