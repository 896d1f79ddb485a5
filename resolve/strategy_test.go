package resolve

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/clinicflow/intake/cache"
	"github.com/clinicflow/intake/questionnaire"
	"github.com/clinicflow/intake/storage"
	"github.com/clinicflow/intake/tiered"
)

func testLoggerDiscard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func strategyFixture(t *testing.T, name string) (Strategy, *storage.InMemoryStore, *cache.InMemoryCache) {
	t.Helper()

	store := storage.NewInMemoryStore()
	fastCache := cache.NewInMemoryCache(cache.Config{TTL: time.Minute})
	log := testLoggerDiscard()
	monitor := tiered.NewHealthMonitor(store, time.Hour, time.Second, log)
	controller := tiered.NewController(store, fastCache, monitor, nil, nil,
		tiered.DefaultControllerConfig(), log)

	strategy, err := NewStrategy(name, fastCache, controller, store, time.Minute)
	if err != nil {
		t.Fatalf("NewStrategy(%q) failed: %v", name, err)
	}
	return strategy, store, fastCache
}

func storedBundle(actionID, text string) *questionnaire.Bundle {
	return &questionnaire.Bundle{
		Action: questionnaire.Action{
			ActionID:    actionID,
			ActionText:  text,
			QuestionIDs: []string{"q-1"},
		},
		Questions: []questionnaire.Question{
			{ActionID: actionID, QuestionID: "q-1", Text: "How are you feeling?", AnswerType: "FREE_TEXT", Sequence: 1},
		},
	}
}

func TestNewStrategyNames(t *testing.T) {
	c := cache.NewInMemoryCache(cache.Config{TTL: time.Minute})

	for name, want := range map[string]any{
		StrategyCacheFirst: &CacheFirst{},
		StrategyStoreFirst: &StoreFirst{},
		"redis-first":      &CacheFirst{},
		"cassandra-first":  &StoreFirst{},
		"":                 &CacheFirst{},
	} {
		got, err := NewStrategy(name, c, nil, nil, time.Minute)
		if err != nil {
			t.Fatalf("NewStrategy(%q) failed: %v", name, err)
		}
		switch want.(type) {
		case *CacheFirst:
			if _, ok := got.(*CacheFirst); !ok {
				t.Errorf("NewStrategy(%q) = %T, want *CacheFirst", name, got)
			}
		case *StoreFirst:
			if _, ok := got.(*StoreFirst); !ok {
				t.Errorf("NewStrategy(%q) = %T, want *StoreFirst", name, got)
			}
		}
	}

	if _, err := NewStrategy("memcached-first", c, nil, nil, time.Minute); err == nil {
		t.Error("unknown strategy name should be rejected")
	}
}

func TestCacheFirstServesCachedValueWithoutStore(t *testing.T) {
	strategy, store, _ := strategyFixture(t, StrategyCacheFirst)
	ctx := context.Background()

	if err := store.SaveBundle(ctx, storedBundle("a-1", "original")); err != nil {
		t.Fatalf("SaveBundle() failed: %v", err)
	}
	if _, err := strategy.GetQuestionnaire(ctx, "a-1"); err != nil {
		t.Fatalf("first read failed: %v", err)
	}

	// The store moves on; cache-first keeps serving the cached copy.
	if err := store.SaveBundle(ctx, storedBundle("a-1", "changed")); err != nil {
		t.Fatalf("SaveBundle() failed: %v", err)
	}
	got, err := strategy.GetQuestionnaire(ctx, "a-1")
	if err != nil {
		t.Fatalf("second read failed: %v", err)
	}
	if got.Action.ActionText != "original" {
		t.Errorf("expected cached value %q, got %q", "original", got.Action.ActionText)
	}
}

func TestCacheFirstInvalidateForcesReload(t *testing.T) {
	strategy, store, _ := strategyFixture(t, StrategyCacheFirst)
	ctx := context.Background()

	if err := store.SaveBundle(ctx, storedBundle("a-1", "original")); err != nil {
		t.Fatalf("SaveBundle() failed: %v", err)
	}
	if _, err := strategy.GetQuestionnaire(ctx, "a-1"); err != nil {
		t.Fatalf("first read failed: %v", err)
	}

	if err := store.SaveBundle(ctx, storedBundle("a-1", "changed")); err != nil {
		t.Fatalf("SaveBundle() failed: %v", err)
	}
	strategy.Invalidate(ctx, "a-1")

	got, err := strategy.GetQuestionnaire(ctx, "a-1")
	if err != nil {
		t.Fatalf("read after invalidate failed: %v", err)
	}
	if got.Action.ActionText != "changed" {
		t.Errorf("expected fresh value after invalidate, got %q", got.Action.ActionText)
	}
}

func TestStoreFirstAlwaysReadsFresh(t *testing.T) {
	strategy, store, fastCache := strategyFixture(t, StrategyStoreFirst)
	ctx := context.Background()

	if err := store.SaveBundle(ctx, storedBundle("a-1", "original")); err != nil {
		t.Fatalf("SaveBundle() failed: %v", err)
	}
	if _, err := strategy.GetQuestionnaire(ctx, "a-1"); err != nil {
		t.Fatalf("first read failed: %v", err)
	}

	if err := store.SaveBundle(ctx, storedBundle("a-1", "changed")); err != nil {
		t.Fatalf("SaveBundle() failed: %v", err)
	}
	got, err := strategy.GetQuestionnaire(ctx, "a-1")
	if err != nil {
		t.Fatalf("second read failed: %v", err)
	}
	if got.Action.ActionText != "changed" {
		t.Errorf("store-first must not serve the stale copy, got %q", got.Action.ActionText)
	}

	// The fresh value replaced the cached one.
	cached, ok := cache.GetBundle(ctx, fastCache, "a-1")
	if !ok || cached.Action.ActionText != "changed" {
		t.Error("store-first should refresh the cache with the value it read")
	}
}

func TestRefreshOverwritesCache(t *testing.T) {
	strategy, store, fastCache := strategyFixture(t, StrategyCacheFirst)
	ctx := context.Background()

	if err := store.SaveBundle(ctx, storedBundle("a-1", "original")); err != nil {
		t.Fatalf("SaveBundle() failed: %v", err)
	}
	if _, err := strategy.GetQuestionnaire(ctx, "a-1"); err != nil {
		t.Fatalf("first read failed: %v", err)
	}

	if err := store.SaveBundle(ctx, storedBundle("a-1", "changed")); err != nil {
		t.Fatalf("SaveBundle() failed: %v", err)
	}
	if err := strategy.Refresh(ctx, "a-1"); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}

	cached, ok := cache.GetBundle(ctx, fastCache, "a-1")
	if !ok || cached.Action.ActionText != "changed" {
		t.Error("Refresh should overwrite the cached copy")
	}
}

func TestStrategyMissingActionIsNotFound(t *testing.T) {
	for _, name := range []string{StrategyCacheFirst, StrategyStoreFirst} {
		t.Run(name, func(t *testing.T) {
			strategy, _, _ := strategyFixture(t, name)

			_, err := strategy.GetQuestionnaire(context.Background(), "absent")
			if !errors.Is(err, questionnaire.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}
