package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erasekit/paywall/cache"
	"github.com/erasekit/paywall/entitlement"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()

	if _, err := c.Get(ctx, "inst-1"); !errors.Is(err, cache.ErrMiss) {
		t.Fatalf("expected miss, got %v", err)
	}

	want := &entitlement.Status{InstallID: "inst-1", FreeRemaining: 1, FreeLimit: 1, Credits: 3}
	if ok, err := c.Set(ctx, want, 0, time.Minute); err != nil || !ok {
		t.Fatalf("Set = %v, %v", ok, err)
	}

	got, err := c.Get(ctx, "inst-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if *got != *want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	// Callers get a copy.
	got.Credits = 99
	again, _ := c.Get(ctx, "inst-1")
	if again.Credits != 3 {
		t.Errorf("cached entry mutated through returned pointer: %d", again.Credits)
	}
}

func TestMemoryInvalidate(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	_, _ = c.Set(ctx, &entitlement.Status{InstallID: "inst-1"}, 0, time.Minute)

	if err := c.Invalidate(ctx, "inst-1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := c.Get(ctx, "inst-1"); !errors.Is(err, cache.ErrMiss) {
		t.Errorf("expected miss after invalidate, got %v", err)
	}
	if err := c.Invalidate(ctx, "absent"); err != nil {
		t.Errorf("invalidating an absent key: %v", err)
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	_, _ = c.Set(ctx, &entitlement.Status{InstallID: "inst-1"}, 0, time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	if _, err := c.Get(ctx, "inst-1"); !errors.Is(err, cache.ErrMiss) {
		t.Errorf("expected expired entry to miss, got %v", err)
	}
}

func TestMemorySetIgnoresNonPositiveTTL(t *testing.T) {
	c := cache.NewMemory()
	_, _ = c.Set(context.Background(), &entitlement.Status{InstallID: "inst-1"}, 0, 0)
	if c.Len() != 0 {
		t.Errorf("zero ttl should not store, len=%d", c.Len())
	}
}

func TestMemorySetSkipsAfterInvalidate(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()

	v, err := c.Version(ctx, "inst-1")
	if err != nil || v != 0 {
		t.Fatalf("initial version = %d, %v", v, err)
	}

	// A mutation lands between the reader's version read and its Set.
	if err := c.Invalidate(ctx, "inst-1"); err != nil {
		t.Fatal(err)
	}
	ok, err := c.Set(ctx, &entitlement.Status{InstallID: "inst-1", Credits: 0}, v, time.Minute)
	if err != nil || ok {
		t.Fatalf("Set with an old version = %v, %v; want skipped", ok, err)
	}
	if _, err := c.Get(ctx, "inst-1"); !errors.Is(err, cache.ErrMiss) {
		t.Errorf("old snapshot was cached: %v", err)
	}

	v, _ = c.Version(ctx, "inst-1")
	if v != 1 {
		t.Fatalf("version after invalidate = %d, want 1", v)
	}
	if ok, _ := c.Set(ctx, &entitlement.Status{InstallID: "inst-1", Credits: 10}, v, time.Minute); !ok {
		t.Error("Set with the current version was skipped")
	}
}
