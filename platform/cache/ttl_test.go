package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGetOrRefreshReloadsAfterExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	loads := 0
	c := NewTTL(60*time.Second, func(_ context.Context, key string) (int, error) {
		loads++
		return loads, nil
	}).WithClock(func() time.Time { return now })

	ctx := context.Background()
	if v, _ := c.GetOrRefresh(ctx, "roofing"); v != 1 {
		t.Fatalf("expected first load, got %d", v)
	}

	now = now.Add(59 * time.Second)
	if v, _ := c.GetOrRefresh(ctx, "roofing"); v != 1 {
		t.Fatalf("expected cached value within ttl, got %d", v)
	}

	now = now.Add(2 * time.Second)
	if v, _ := c.GetOrRefresh(ctx, "roofing"); v != 2 {
		t.Fatalf("expected reload after ttl, got %d", v)
	}
}

func TestGetOrRefreshDoesNotCacheErrors(t *testing.T) {
	fail := true
	c := NewTTL(time.Minute, func(_ context.Context, key string) (string, error) {
		if fail {
			return "", errors.New("db down")
		}
		return "ok", nil
	})

	ctx := context.Background()
	if _, err := c.GetOrRefresh(ctx, "solar"); err == nil {
		t.Fatalf("expected loader error")
	}

	fail = false
	v, err := c.GetOrRefresh(ctx, "solar")
	if err != nil || v != "ok" {
		t.Fatalf("expected recovery, got %q err=%v", v, err)
	}
}
