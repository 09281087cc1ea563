package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type payload struct {
	Symbol string
	Close  float64
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	mc := NewMemoryCache(10, 0)
	defer mc.Close()
	ctx := context.Background()

	if err := mc.Set(ctx, "bars:AAPL", []payload{{"AAPL", 101.5}}, time.Minute); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	var got []payload
	if err := mc.Get(ctx, "bars:AAPL", &got); err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if len(got) != 1 || got[0].Close != 101.5 {
		t.Fatalf("unexpected value: %+v", got)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := NewMemoryCache(10, 0)
	defer mc.Close()
	ctx := context.Background()

	now := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }

	if err := mc.Set(ctx, "k", 1, 10*time.Second); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	now = now.Add(11 * time.Second)

	var v int
	if err := mc.Get(ctx, "k", &v); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after expiry, got %v", err)
	}
	mc.removeExpired()
	if mc.Len() != 0 {
		t.Fatalf("expected expired entry removed")
	}
}

func TestMemoryCacheEvictsWhenFull(t *testing.T) {
	mc := NewMemoryCache(2, 0)
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "a", 1, time.Second)
	_ = mc.Set(ctx, "b", 2, time.Minute)
	_ = mc.Set(ctx, "c", 3, time.Minute)

	if mc.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", mc.Len())
	}
	var v int
	if err := mc.Get(ctx, "a", &v); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected soonest-expiring entry evicted")
	}
}

func TestMemoryCacheDelete(t *testing.T) {
	mc := NewMemoryCache(10, 0)
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "a", 1, time.Minute)
	_ = mc.Delete(ctx, "a")
	var v int
	if err := mc.Get(ctx, "a", &v); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete")
	}
}
