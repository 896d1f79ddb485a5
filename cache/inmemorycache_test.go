package cache

import (
	"context"
	"testing"
	"time"
)

func TestSetAndGet(t *testing.T) {
	c := NewInMemoryCache(Config{TTL: time.Minute})
	ctx := context.Background()

	c.Set(ctx, ActionKey("a-1"), []byte(`{"actionId":"a-1"}`), 0)

	got, ok := c.Get(ctx, ActionKey("a-1"))
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(got) != `{"actionId":"a-1"}` {
		t.Errorf("unexpected cached value: %s", got)
	}
}

func TestGetMiss(t *testing.T) {
	c := NewInMemoryCache(DefaultConfig())

	if _, ok := c.Get(context.Background(), "absent"); ok {
		t.Error("expected miss for absent key")
	}
}

func TestExpiredEntryIsMiss(t *testing.T) {
	c := NewInMemoryCache(Config{TTL: time.Minute})
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Nanosecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("expired entry should be a miss")
	}
	if c.Len() != 0 {
		t.Error("expired entry should be dropped on read")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	c := NewInMemoryCache(DefaultConfig())
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 0)
	c.Delete(ctx, "k")
	c.Delete(ctx, "k") // deleting an absent key must be a no-op

	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("deleted key should be a miss")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	c := NewInMemoryCache(DefaultConfig())
	ctx := context.Background()

	c.Set(ctx, "k", []byte("abc"), 0)
	got, _ := c.Get(ctx, "k")
	got[0] = 'x'

	again, _ := c.Get(ctx, "k")
	if string(again) != "abc" {
		t.Error("cached value was mutated through a returned slice")
	}
}

func TestEntityKeysCoverEveryRecordType(t *testing.T) {
	keys := EntityKeys("a-1")
	want := []string{"action:a-1", "questions:a-1", "answeroptions:a-1", "details:a-1"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(keys))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key %d: want %s, got %s", i, want[i], keys[i])
		}
	}
}
