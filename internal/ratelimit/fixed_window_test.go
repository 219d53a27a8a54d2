package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*FixedWindowLimiter, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := NewFixedWindowLimiter(client, "pdfchat:api:ratelimit:login", limit, window)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	return limiter, srv
}

func TestFixedWindowLimiterCountsPerClient(t *testing.T) {
	limiter, _ := newTestLimiter(t, 2, time.Minute)
	clock := time.Date(2024, 3, 1, 12, 0, 15, 0, time.UTC)
	limiter.now = func() time.Time { return clock }
	ctx := context.Background()

	for i, wantRemaining := range []int{1, 0} {
		d, err := limiter.Allow(ctx, "203.0.113.7")
		if err != nil || !d.Allowed {
			t.Fatalf("attempt %d should pass: %+v err=%v", i+1, d, err)
		}
		if d.Remaining != wantRemaining || d.Limit != 2 {
			t.Fatalf("attempt %d: unexpected decision %+v", i+1, d)
		}
	}
	d, err := limiter.Allow(ctx, "203.0.113.7")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed || d.Remaining != 0 {
		t.Fatalf("third login attempt should be blocked: %+v", d)
	}
	if d.RetryAfter != 45*time.Second {
		t.Fatalf("retry after: got %s want 45s", d.RetryAfter)
	}

	if d, _ := limiter.Allow(ctx, "198.51.100.2"); !d.Allowed {
		t.Fatalf("another client must have its own quota")
	}

	clock = clock.Add(45 * time.Second)
	if d, _ := limiter.Allow(ctx, "203.0.113.7"); !d.Allowed {
		t.Fatalf("quota should reset in the next window")
	}
}

func TestFixedWindowLimiterHonoursConfiguredWindow(t *testing.T) {
	limiter, srv := newTestLimiter(t, 1, 10*time.Minute)
	limiter.now = func() time.Time { return time.Date(2024, 3, 1, 12, 4, 0, 0, time.UTC) }

	d, err := limiter.Allow(context.Background(), "203.0.113.7")
	if err != nil || !d.Allowed {
		t.Fatalf("first attempt: %+v err=%v", d, err)
	}
	if d.RetryAfter != 6*time.Minute {
		t.Fatalf("retry after: got %s want 6m", d.RetryAfter)
	}
	keys := srv.Keys()
	if len(keys) != 1 {
		t.Fatalf("expected one counter, got %v", keys)
	}
	if ttl := srv.TTL(keys[0]); ttl != 10*time.Minute {
		t.Fatalf("counter ttl: got %s want 10m", ttl)
	}
}

func TestFixedWindowLimiterFailsClosed(t *testing.T) {
	limiter, srv := newTestLimiter(t, 5, time.Minute)
	srv.Close()
	d, err := limiter.Allow(context.Background(), "203.0.113.7")
	if err == nil {
		t.Fatalf("expected redis error")
	}
	if d.Allowed {
		t.Fatalf("limiter should deny when redis is unavailable")
	}
}

func TestNewFixedWindowLimiterValidates(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	cases := []struct {
		name   string
		client *redis.Client
		prefix string
		limit  int
		window time.Duration
	}{
		{"nil client", nil, "p", 1, time.Minute},
		{"zero limit", client, "p", 0, time.Minute},
		{"sub-second window", client, "p", 1, time.Millisecond},
		{"blank prefix", client, " ", 1, time.Minute},
	}
	for _, tc := range cases {
		if _, err := NewFixedWindowLimiter(tc.client, tc.prefix, tc.limit, tc.window); err == nil {
			t.Fatalf("%s: expected constructor error", tc.name)
		}
	}
}
