package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter keys live for exactly one window; the first hit sets the expiry.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Decision is the outcome of counting one attempt against a rule.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is the time left until the current window resets.
	RetryAfter time.Duration
}

// FixedWindowLimiter counts attempts per key in wall-clock aligned windows
// shared by every API replica through Redis.
type FixedWindowLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewFixedWindowLimiter builds a limiter on an existing Redis client. Keys
// are written as <prefix>:<key>:<window slot>.
func NewFixedWindowLimiter(client *redis.Client, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if client == nil {
		return nil, errors.New("rate limiter redis client is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("rate limiter limit must be positive, got %d", limit)
	}
	if window < time.Second {
		return nil, fmt.Errorf("rate limiter window must be at least 1s, got %s", window)
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, errors.New("rate limiter key prefix is required")
	}
	return &FixedWindowLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}, nil
}

// Allow counts one attempt for key. Redis failures deny the attempt and are
// returned alongside the denial.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	nowMs := l.now().UTC().UnixMilli()
	slot := nowMs / windowMs
	decision := Decision{
		Limit:      l.limit,
		RetryAfter: time.Duration((slot+1)*windowMs-nowMs) * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)
	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return decision, fmt.Errorf("count %s: %w", redisKey, err)
	}
	decision.Allowed = count <= int64(l.limit)
	if remaining := int64(l.limit) - count; remaining > 0 {
		decision.Remaining = int(remaining)
	}
	return decision, nil
}
