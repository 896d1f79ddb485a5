package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/clinicflow/intake/internal/metrics"
	"github.com/clinicflow/intake/questionnaire"
)

// Bundle helpers cache each record type of a questionnaire under its own
// key, so a write can invalidate (or refresh) one table's entry without
// touching the others.

// GetBundle reconstructs a questionnaire bundle from the per-record-type
// cache entries. The action entry is authoritative: if it is missing the
// whole lookup is a miss. Undecodable entries are treated as misses.
func GetBundle(ctx context.Context, c Cache, actionID string) (*questionnaire.Bundle, bool) {
	raw, ok := c.Get(ctx, ActionKey(actionID))
	if !ok {
		metrics.CacheMisses.WithLabelValues("action").Inc()
		return nil, false
	}
	var bundle questionnaire.Bundle
	if err := json.Unmarshal(raw, &bundle.Action); err != nil {
		metrics.CacheMisses.WithLabelValues("action").Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues("action").Inc()

	decodeInto(ctx, c, QuestionsKey(actionID), "questions", &bundle.Questions)
	decodeInto(ctx, c, AnswerOptionsKey(actionID), "answeroptions", &bundle.AnswerOptions)
	decodeInto(ctx, c, DetailsKey(actionID), "details", &bundle.Details)
	return &bundle, true
}

func decodeInto[T any](ctx context.Context, c Cache, key, entity string, dst *[]T) {
	raw, ok := c.Get(ctx, key)
	if !ok {
		metrics.CacheMisses.WithLabelValues(entity).Inc()
		return
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		metrics.CacheMisses.WithLabelValues(entity).Inc()
		return
	}
	metrics.CacheHits.WithLabelValues(entity).Inc()
}

// SetBundle populates all four per-record-type entries for an action.
// Marshal failures are silently skipped; the cache is never a source of
// hard errors.
func SetBundle(ctx context.Context, c Cache, bundle *questionnaire.Bundle, ttl time.Duration) {
	actionID := bundle.Action.ActionID
	setJSON(ctx, c, ActionKey(actionID), bundle.Action, ttl)
	setJSON(ctx, c, QuestionsKey(actionID), bundle.Questions, ttl)
	setJSON(ctx, c, AnswerOptionsKey(actionID), bundle.AnswerOptions, ttl)
	setJSON(ctx, c, DetailsKey(actionID), bundle.Details, ttl)
}

func setJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.Set(ctx, key, raw, ttl)
}

// InvalidateBundle removes every cache entry tied to an action: one
// logical invalidation per constituent record type. Idempotent.
func InvalidateBundle(ctx context.Context, c Cache, actionID string) {
	for _, key := range EntityKeys(actionID) {
		c.Delete(ctx, key)
	}
}
