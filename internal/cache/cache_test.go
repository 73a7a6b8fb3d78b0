package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tapon/qrengine/internal/testutil"
)

func TestCache_VisitorMarkers(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, ctx)

	first, err := c.MarkVisitor(ctx, "qr-1", "fp-1", time.Minute)
	if err != nil {
		t.Fatalf("mark visitor: %v", err)
	}
	if !first {
		t.Fatal("expected first sighting to be unique")
	}

	again, err := c.MarkVisitor(ctx, "qr-1", "fp-1", time.Minute)
	if err != nil {
		t.Fatalf("mark visitor again: %v", err)
	}
	if again {
		t.Fatal("expected repeat sighting not to be unique")
	}

	other, _ := c.MarkVisitor(ctx, "qr-2", "fp-1", time.Minute)
	if !other {
		t.Fatal("visitor markers must be per code")
	}

	if err := c.ReleaseVisitor(ctx, "qr-1", "fp-1"); err != nil {
		t.Fatalf("release visitor: %v", err)
	}
	if first, _ := c.MarkVisitor(ctx, "qr-1", "fp-1", time.Minute); !first {
		t.Fatal("expected released visitor to be unique again")
	}

	if err := c.ResetVisitors(ctx, "qr-1"); err != nil {
		t.Fatalf("reset visitors: %v", err)
	}
	if first, _ := c.MarkVisitor(ctx, "qr-1", "fp-1", time.Minute); !first {
		t.Fatal("expected reset to clear markers")
	}
}

func TestCache_ProfileURL(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, ctx)

	if _, err := c.GetProfileURL(ctx, "p-1"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}

	if err := c.SetNegativeCache(ctx, "p-1"); err != nil {
		t.Fatalf("set negative cache: %v", err)
	}
	if neg, _ := c.IsNegativelyCached(ctx, "p-1"); !neg {
		t.Fatal("expected negative cache entry")
	}

	if err := c.SetProfileURL(ctx, "p-1", "https://x.test/profile/alice"); err != nil {
		t.Fatalf("set profile url: %v", err)
	}
	if neg, _ := c.IsNegativelyCached(ctx, "p-1"); neg {
		t.Fatal("setting a URL should clear the negative entry")
	}

	got, err := c.GetProfileURL(ctx, "p-1")
	if err != nil {
		t.Fatalf("get profile url: %v", err)
	}
	if got.URL != "https://x.test/profile/alice" {
		t.Fatalf("unexpected url %q", got.URL)
	}

	if err := c.DeleteProfileURL(ctx, "p-1"); err != nil {
		t.Fatalf("delete profile url: %v", err)
	}
	if _, err := c.GetProfileURL(ctx, "p-1"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss after delete, got %v", err)
	}
}

func TestCache_IPRateLimit(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, ctx)

	const burst = 3
	for i := 0; i < burst; i++ {
		if res := c.CheckIPRateLimit(ctx, "scan", "10.0.0.1", 0.01, burst); !res.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	res := c.CheckIPRateLimit(ctx, "scan", "10.0.0.1", 0.01, burst)
	if res.Allowed {
		t.Fatal("expected request past burst to be limited")
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %v", res.RetryAfter)
	}

	if res := c.CheckIPRateLimit(ctx, "events", "10.0.0.1", 0.01, burst); !res.Allowed {
		t.Fatal("scopes must not share buckets")
	}
}

func newTestCache(t *testing.T, ctx context.Context) *Cache {
	t.Helper()

	redisURL := testutil.RequireEnv(t, "REDIS_URL")
	c, err := New(ctx, redisURL, 5)
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if err := testutil.FlushRedis(ctx, c.Client()); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	return c
}
