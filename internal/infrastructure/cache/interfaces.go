package cache

import (
	"context"
	"time"
)

// Cache is the key/value surface the risk engine needs from Redis.
type Cache interface {
	// Get returns ErrCacheKeyNotFound for a missing key.
	Get(ctx context.Context, key string) (string, error)

	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete closes suppression windows early.
	Delete(ctx context.Context, key string) error

	// SetNX backs suppression windows: true only for the first writer within ttl.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	GetJSON(ctx context.Context, key string, dest interface{}) error

	// SetJSON and GetJSON carry verification entries.
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	Close() error
}

// Key namespaces. Activity keys hold sorted sets, the others plain strings.
const (
	ActivityPrefix     = "risk:activity:"
	SuppressionPrefix  = "risk:suppress:"
	VerificationPrefix = "risk:verification:"
)

// ErrCacheKeyNotFound reports a miss from Get or GetJSON.
type ErrCacheKeyNotFound struct {
	Key string
}

func (e ErrCacheKeyNotFound) Error() string {
	return "cache key not found: " + e.Key
}
