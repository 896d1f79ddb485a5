// Package resolve ties rule matching, tree assembly, and the tiered
// controller into the questionnaire resolution service, behind a
// pluggable read-policy strategy.
package resolve

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicflow/intake/cache"
	"github.com/clinicflow/intake/questionnaire"
	"github.com/clinicflow/intake/storage"
	"github.com/clinicflow/intake/tiered"
)

// Strategy names accepted by configuration. The redis-first and
// cassandra-first spellings are legacy aliases kept for deployments
// configured against the store-specific names.
const (
	StrategyCacheFirst = "cache-first"
	StrategyStoreFirst = "store-first"

	aliasCacheFirst = "redis-first"
	aliasStoreFirst = "cassandra-first"
)

// Strategy is the read policy for questionnaire lookups, selected once
// at startup and injected into the service.
type Strategy interface {
	// GetQuestionnaire returns the flat bundle for an action.
	GetQuestionnaire(ctx context.Context, actionID string) (*questionnaire.Bundle, error)

	// Invalidate drops the per-record-type cache entries for an
	// action. Invalidating an absent entry is a no-op.
	Invalidate(ctx context.Context, actionID string)

	// Refresh reloads the action from the authoritative path and
	// overwrites the cache.
	Refresh(ctx context.Context, actionID string) error
}

// NewStrategy selects a strategy implementation by configured name.
func NewStrategy(name string, c cache.Cache, controller *tiered.Controller,
	store storage.Store, ttl time.Duration) (Strategy, error) {

	switch name {
	case StrategyCacheFirst, aliasCacheFirst, "":
		return &CacheFirst{cache: c, controller: controller, store: store, ttl: ttl}, nil
	case StrategyStoreFirst, aliasStoreFirst:
		return &StoreFirst{cache: c, controller: controller, store: store, ttl: ttl}, nil
	default:
		return nil, fmt.Errorf("unknown cache strategy %q", name)
	}
}

// CacheFirst serves from the fast cache when it can, loading and
// populating on a miss. A cache hit is never re-validated against the
// primary store.
type CacheFirst struct {
	cache      cache.Cache
	controller *tiered.Controller
	store      storage.Store
	ttl        time.Duration
}

func (s *CacheFirst) GetQuestionnaire(ctx context.Context, actionID string) (*questionnaire.Bundle, error) {
	if bundle, ok := cache.GetBundle(ctx, s.cache, actionID); ok {
		return bundle, nil
	}
	bundle, err := s.controller.Read(ctx, actionID, s.load(actionID))
	if err != nil {
		return nil, err
	}
	cache.SetBundle(ctx, s.cache, bundle, s.ttl)
	return bundle, nil
}

func (s *CacheFirst) Invalidate(ctx context.Context, actionID string) {
	cache.InvalidateBundle(ctx, s.cache, actionID)
}

func (s *CacheFirst) Refresh(ctx context.Context, actionID string) error {
	bundle, err := s.controller.Read(ctx, actionID, s.load(actionID))
	if err != nil {
		return err
	}
	cache.SetBundle(ctx, s.cache, bundle, s.ttl)
	return nil
}

func (s *CacheFirst) load(actionID string) func(context.Context) (*questionnaire.Bundle, error) {
	return func(ctx context.Context) (*questionnaire.Bundle, error) {
		return storage.LoadBundle(ctx, s.store, actionID)
	}
}

// StoreFirst always reads the authoritative path, then refreshes the
// cache with the fresh value. Chosen when read-after-write consistency
// matters more than hit rate.
type StoreFirst struct {
	cache      cache.Cache
	controller *tiered.Controller
	store      storage.Store
	ttl        time.Duration
}

func (s *StoreFirst) GetQuestionnaire(ctx context.Context, actionID string) (*questionnaire.Bundle, error) {
	bundle, err := s.controller.Read(ctx, actionID, s.load(actionID))
	if err != nil {
		return nil, err
	}
	cache.SetBundle(ctx, s.cache, bundle, s.ttl)
	return bundle, nil
}

func (s *StoreFirst) Invalidate(ctx context.Context, actionID string) {
	cache.InvalidateBundle(ctx, s.cache, actionID)
}

func (s *StoreFirst) Refresh(ctx context.Context, actionID string) error {
	_, err := s.GetQuestionnaire(ctx, actionID)
	return err
}

func (s *StoreFirst) load(actionID string) func(context.Context) (*questionnaire.Bundle, error) {
	return func(ctx context.Context) (*questionnaire.Bundle, error) {
		return storage.LoadBundle(ctx, s.store, actionID)
	}
}
