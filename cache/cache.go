// Package cache provides the fast-cache abstraction used to short-circuit
// the primary store. Implementations must be loss-tolerant: a cache
// failure is reported as a miss, never propagated as a hard error.
package cache

import (
	"context"
	"time"
)

// Cache is a get/set/delete store keyed by string with per-entry TTL.
type Cache interface {
	// Get returns the cached value and true on a hit. Any internal
	// failure is a miss.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value under key. ttl <= 0 means no expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	// Delete removes key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string)
}

// Per-record-type cache keys for one action. The constituent records are
// cached independently so write-path invalidation stays granular.

func ActionKey(actionID string) string        { return "action:" + actionID }
func QuestionsKey(actionID string) string     { return "questions:" + actionID }
func AnswerOptionsKey(actionID string) string { return "answeroptions:" + actionID }
func DetailsKey(actionID string) string       { return "details:" + actionID }

// EntityKeys lists every cache key tied to an action, in the order they
// are invalidated.
func EntityKeys(actionID string) []string {
	return []string{
		ActionKey(actionID),
		QuestionsKey(actionID),
		AnswerOptionsKey(actionID),
		DetailsKey(actionID),
	}
}

// Config holds cache behavior settings.
type Config struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (manual invalidation only).
	TTL time.Duration
}

// DefaultConfig returns sensible defaults for questionnaire caching.
func DefaultConfig() Config {
	return Config{
		TTL: 15 * time.Minute,
	}
}
