package tiered

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clinicflow/intake/cache"
	"github.com/clinicflow/intake/internal/metrics"
	"github.com/clinicflow/intake/questionnaire"
	"github.com/clinicflow/intake/storage"
)

// ControllerConfig holds tuning for the tiered controller.
type ControllerConfig struct {
	// CacheTTL is applied when the controller refreshes the fast cache.
	CacheTTL time.Duration

	// WarmInterval bounds how often a successfully read questionnaire
	// is re-pushed to the durable fallback tiers. 0 disables read-path
	// warming (writes always warm).
	WarmInterval time.Duration
}

// DefaultControllerConfig returns production defaults.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		CacheTTL:     15 * time.Minute,
		WarmInterval: 5 * time.Minute,
	}
}

// Controller orchestrates reads and writes across the fast cache, the
// primary store, and the ranked fallback tiers.
//
// While the store is healthy, reads go to the primary and refresh the
// warm tiers; writes invalidate the cache, hit the primary, then warm
// the tiers and repopulate the cache — in that order, so a concurrent
// reader never re-populates a stale entry after the invalidation.
//
// While degraded, reads walk cache → tiers in rank order (first value
// wins; all empty is ErrUnavailable, never ErrNotFound) and writes are
// queued durably and acknowledged.
type Controller struct {
	store  storage.Store
	cache  cache.Cache
	tiers  []Tier
	queue  *WriteQueue
	health *HealthMonitor
	config ControllerConfig
	log    *slog.Logger

	warmMu     sync.Mutex
	lastWarmed map[string]time.Time
}

// NewController wires the controller and registers queue replay on the
// monitor's recovery transition.
func NewController(store storage.Store, fastCache cache.Cache, health *HealthMonitor,
	queue *WriteQueue, tiers []Tier, config ControllerConfig, log *slog.Logger) *Controller {

	c := &Controller{
		store:      store,
		cache:      fastCache,
		tiers:      tiers,
		queue:      queue,
		health:     health,
		config:     config,
		log:        log,
		lastWarmed: make(map[string]time.Time),
	}
	if queue != nil {
		health.OnRecover(func(ctx context.Context) {
			if _, err := c.ReplayQueue(ctx); err != nil {
				log.Error("write queue replay after recovery failed", "error", err)
			}
		})
	}
	return c
}

// Read materializes the bundle for an action. loader performs the
// primary-store read; storage.LoadBundle is the usual choice.
func (c *Controller) Read(ctx context.Context, actionID string,
	loader func(context.Context) (*questionnaire.Bundle, error)) (*questionnaire.Bundle, error) {

	if c.health.Healthy(ctx) {
		bundle, err := loader(ctx)
		if err == nil {
			c.maybeWarm(ctx, bundle)
			return bundle, nil
		}
		if errors.Is(err, questionnaire.ErrNotFound) {
			return nil, err
		}
		// A failed store call routes this request through the
		// fallbacks; only the probe decides global health.
		c.log.Warn("primary store read failed, falling back", "actionId", actionID, "error", err)
		go c.health.ForceCheck(context.Background())
	}

	return c.degradedRead(ctx, actionID)
}

func (c *Controller) degradedRead(ctx context.Context, actionID string) (*questionnaire.Bundle, error) {
	if bundle, ok := cache.GetBundle(ctx, c.cache, actionID); ok {
		return bundle, nil
	}

	for _, tier := range c.tiers {
		bundle, err := tier.Get(ctx, actionID)
		if err == nil {
			metrics.TierHits.WithLabelValues(tier.Name()).Inc()
			cache.SetBundle(ctx, c.cache, bundle, c.config.CacheTTL)
			return bundle, nil
		}
		if errors.Is(err, questionnaire.ErrNotFound) {
			continue
		}
		// One tier down is not an outage; try the next.
		metrics.TierFailures.WithLabelValues(tier.Name()).Inc()
		c.log.Warn("fallback tier failed", "tier", tier.Name(), "actionId", actionID, "error", err)
	}

	metrics.UnavailableReads.Inc()
	return nil, fmt.Errorf("action %s: %w", actionID, questionnaire.ErrUnavailable)
}

// Write persists a bundle, or queues it when the primary store is
// unavailable. A queued write is acknowledged to the caller: accepted,
// durable in the queue, not yet durable in the primary store.
func (c *Controller) Write(ctx context.Context, opType string, bundle *questionnaire.Bundle) error {
	actionID := bundle.Action.ActionID

	// Invalidate before any persistence attempt so a concurrent reader
	// can never re-populate the pre-write value after this write is
	// accepted, queued or not.
	cache.InvalidateBundle(ctx, c.cache, actionID)

	if !c.health.Healthy(ctx) {
		return c.enqueueAndCache(ctx, opType, bundle)
	}

	if err := c.store.SaveBundle(ctx, bundle); err != nil {
		c.log.Warn("primary store write failed, queueing", "actionId", actionID, "error", err)
		go c.health.ForceCheck(context.Background())
		return c.enqueueAndCache(ctx, opType, bundle)
	}

	c.warmTiers(ctx, bundle)
	cache.SetBundle(ctx, c.cache, bundle, c.config.CacheTTL)
	return nil
}

// enqueueAndCache queues the write and, once the queue has accepted it,
// replaces the cache entry with the accepted value so degraded readers
// see their own writes rather than the superseded bundle.
func (c *Controller) enqueueAndCache(ctx context.Context, opType string, bundle *questionnaire.Bundle) error {
	if err := c.enqueue(ctx, opType, bundle.Action.ActionID, bundle); err != nil {
		return err
	}
	cache.SetBundle(ctx, c.cache, bundle, c.config.CacheTTL)
	return nil
}

// Delete removes a questionnaire everywhere, or queues the delete while
// degraded. The cache entry is invalidated either way.
func (c *Controller) Delete(ctx context.Context, actionID string) error {
	cache.InvalidateBundle(ctx, c.cache, actionID)

	if !c.health.Healthy(ctx) {
		return c.enqueue(ctx, OpDelete, actionID, nil)
	}

	if err := c.store.DeleteAction(ctx, actionID); err != nil {
		if errors.Is(err, questionnaire.ErrNotFound) {
			return err
		}
		c.log.Warn("primary store delete failed, queueing", "actionId", actionID, "error", err)
		go c.health.ForceCheck(context.Background())
		return c.enqueue(ctx, OpDelete, actionID, nil)
	}

	c.deleteFromTiers(ctx, actionID)
	return nil
}

func (c *Controller) enqueue(ctx context.Context, opType, actionID string, bundle *questionnaire.Bundle) error {
	if c.queue == nil {
		return fmt.Errorf("action %s: write queue disabled: %w", actionID, questionnaire.ErrUnavailable)
	}

	op := WriteOperation{ActionID: actionID, Type: opType, Timestamp: time.Now()}
	if bundle != nil {
		raw, err := json.Marshal(bundle)
		if err != nil {
			return fmt.Errorf("failed to encode queued write: %w", err)
		}
		op.Payload = raw
	}

	if err := c.queue.Enqueue(ctx, op); err != nil {
		return fmt.Errorf("action %s: %w", actionID, questionnaire.ErrUnavailable)
	}
	c.log.Info("write queued for replay", "actionId", actionID, "type", opType)
	return nil
}

// ReplayQueue drains queued writes against the primary store in FIFO
// order. Called on the recovery transition and by the scheduled loop.
func (c *Controller) ReplayQueue(ctx context.Context) (int, error) {
	if c.queue == nil {
		return 0, nil
	}
	replayed, err := c.queue.Replay(ctx, c.applyOperation)
	if replayed > 0 {
		c.log.Info("replayed queued writes", "count", replayed)
	}
	return replayed, err
}

// StartScheduledReplay replays the queue on a timer until ctx is
// cancelled, as a safety net alongside the recovery-event trigger.
func (c *Controller) StartScheduledReplay(ctx context.Context, interval time.Duration) {
	if c.queue == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.queue.Len() == 0 || !c.health.Healthy(ctx) {
					continue
				}
				if _, err := c.ReplayQueue(ctx); err != nil {
					c.log.Warn("scheduled replay stopped on failure", "error", err)
				}
			}
		}
	}()
}

func (c *Controller) applyOperation(ctx context.Context, op WriteOperation) error {
	switch op.Type {
	case OpCreate, OpUpdate:
		var bundle questionnaire.Bundle
		if err := json.Unmarshal(op.Payload, &bundle); err != nil {
			return fmt.Errorf("corrupt queued payload for action %s: %w", op.ActionID, err)
		}
		if err := c.store.SaveBundle(ctx, &bundle); err != nil {
			return err
		}
		c.warmTiers(ctx, &bundle)
		cache.InvalidateBundle(ctx, c.cache, op.ActionID)
		cache.SetBundle(ctx, c.cache, &bundle, c.config.CacheTTL)
		return nil
	case OpDelete:
		err := c.store.DeleteAction(ctx, op.ActionID)
		if err != nil && !errors.Is(err, questionnaire.ErrNotFound) {
			return err
		}
		c.deleteFromTiers(ctx, op.ActionID)
		cache.InvalidateBundle(ctx, c.cache, op.ActionID)
		return nil
	default:
		return fmt.Errorf("unknown queued operation type %q", op.Type)
	}
}

// warmTiers pushes the bundle to every fallback tier, best effort.
func (c *Controller) warmTiers(ctx context.Context, bundle *questionnaire.Bundle) {
	actionID := bundle.Action.ActionID
	for _, tier := range c.tiers {
		if err := tier.Put(ctx, actionID, bundle); err != nil {
			metrics.TierFailures.WithLabelValues(tier.Name()).Inc()
			c.log.Warn("failed to warm fallback tier", "tier", tier.Name(), "actionId", actionID, "error", err)
		}
	}
	c.warmMu.Lock()
	c.lastWarmed[actionID] = time.Now()
	c.warmMu.Unlock()
}

// maybeWarm rate-limits read-path warming per action.
func (c *Controller) maybeWarm(ctx context.Context, bundle *questionnaire.Bundle) {
	if c.config.WarmInterval <= 0 {
		return
	}
	actionID := bundle.Action.ActionID

	c.warmMu.Lock()
	last, ok := c.lastWarmed[actionID]
	stale := !ok || time.Since(last) >= c.config.WarmInterval
	c.warmMu.Unlock()

	if stale {
		c.warmTiers(ctx, bundle)
	}
}

func (c *Controller) deleteFromTiers(ctx context.Context, actionID string) {
	for _, tier := range c.tiers {
		if err := tier.Delete(ctx, actionID); err != nil {
			metrics.TierFailures.WithLabelValues(tier.Name()).Inc()
			c.log.Warn("failed to delete from fallback tier", "tier", tier.Name(), "actionId", actionID, "error", err)
		}
	}
	c.warmMu.Lock()
	delete(c.lastWarmed, actionID)
	c.warmMu.Unlock()
}
