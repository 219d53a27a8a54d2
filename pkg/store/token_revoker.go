package store

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// TokenRevoker tracks revoked tokens until expiry.
type TokenRevoker interface {
	Revoke(jti string, ttl time.Duration) error
	IsRevoked(jti string) (bool, error)
}

// UserTokenRevoker is an optional capability that invalidates every token of
// a user issued at or before a cutoff.
type UserTokenRevoker interface {
	RevokeUser(userUUID string, since time.Time) error
	RevokedAfter(userUUID string) (time.Time, error)
}

// MemoryTokenRevoker keeps revocations in-process (single instance only).
type MemoryTokenRevoker struct {
	tokens *gocache.Cache

	mu    sync.Mutex
	users map[string]time.Time
}

// NewMemoryTokenRevoker builds an in-memory revoker.
func NewMemoryTokenRevoker() *MemoryTokenRevoker {
	return &MemoryTokenRevoker{
		tokens: gocache.New(gocache.NoExpiration, 10*time.Minute),
		users:  make(map[string]time.Time),
	}
}

// Revoke marks a token as revoked until its expiry.
func (r *MemoryTokenRevoker) Revoke(jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.tokens.Set(jti, struct{}{}, ttl)
	return nil
}

// IsRevoked checks if the token is revoked.
func (r *MemoryTokenRevoker) IsRevoked(jti string) (bool, error) {
	_, ok := r.tokens.Get(jti)
	return ok, nil
}

// RevokeUser records a cutoff. Older cutoffs never replace newer ones.
func (r *MemoryTokenRevoker) RevokeUser(userUUID string, since time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.users[userUUID]; ok && !since.After(current) {
		return nil
	}
	r.users[userUUID] = since.UTC()
	return nil
}

// RevokedAfter returns the user's cutoff or the zero time.
func (r *MemoryTokenRevoker) RevokedAfter(userUUID string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[userUUID], nil
}

// RedisTokenRevoker stores revocations in Redis with TTL.
type RedisTokenRevoker struct {
	client  *redis.Client
	userTTL time.Duration
}

// NewRedisTokenRevoker builds a Redis-backed revoker. userTTL bounds how long
// a user cutoff is kept; it should be at least the token TTL.
func NewRedisTokenRevoker(addr, password string, userTTL time.Duration) *RedisTokenRevoker {
	if userTTL <= 0 {
		userTTL = 24 * time.Hour
	}
	return &RedisTokenRevoker{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		userTTL: userTTL,
	}
}

// Revoke marks a token as revoked until expiry.
func (r *RedisTokenRevoker) Revoke(jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return r.client.Set(ctx, revocationKey(jti), "1", ttl).Err()
}

// IsRevoked checks if the token is revoked.
func (r *RedisTokenRevoker) IsRevoked(jti string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := r.client.Exists(ctx, revocationKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return res > 0, nil
}

var revokeUserScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current and tonumber(current) >= tonumber(ARGV[1]) then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

// RevokeUser records a cutoff. Older cutoffs never replace newer ones.
func (r *RedisTokenRevoker) RevokeUser(userUUID string, since time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return revokeUserScript.Run(ctx, r.client,
		[]string{userRevocationKey(userUUID)},
		since.UTC().UnixNano(), r.userTTL.Milliseconds(),
	).Err()
}

// RevokedAfter returns the user's cutoff or the zero time.
func (r *RedisTokenRevoker) RevokedAfter(userUUID string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	raw, err := r.client.Get(ctx, userRevocationKey(userUUID)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	nanos, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, nanos).UTC(), nil
}

// Close releases the Redis connection.
func (r *RedisTokenRevoker) Close() error {
	return r.client.Close()
}

func revocationKey(jti string) string {
	return "revoked:" + jti
}

func userRevocationKey(userUUID string) string {
	return "revoked:user:" + userUUID
}
