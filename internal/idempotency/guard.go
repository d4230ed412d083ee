// Package idempotency rejects replayed requests using Redis SETNX claims.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "tokenmarket:idempotency"
	defaultTTL    = 24 * time.Hour
	claimedValue  = "1"
)

var (
	// ErrDuplicateRequest means the key was already claimed within the TTL.
	ErrDuplicateRequest = errors.New("duplicate request")
	// ErrEmptyKey is returned for blank idempotency keys.
	ErrEmptyKey = errors.New("empty idempotency key")
)

// Client is the subset of redis.Cmdable used by Guard.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Guard claims idempotency keys per scope.
type Guard struct {
	client Client
	prefix string
	ttl    time.Duration
}

// NewGuard returns a Guard. Zero ttl and empty prefix use defaults.
func NewGuard(client Client, prefix string, ttl time.Duration) *Guard {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Guard{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisClient connects to addr.
func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func (guard *Guard) key(scope string, key string) string {
	return guard.prefix + ":" + scope + ":" + key
}

// Claim records key under scope, failing with ErrDuplicateRequest if it is already held.
func (guard *Guard) Claim(ctx context.Context, scope string, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}
	claimed, err := guard.client.SetNX(ctx, guard.key(scope, key), claimedValue, guard.ttl).Result()
	if err != nil {
		return fmt.Errorf("claim idempotency key: %w", err)
	}
	if !claimed {
		return fmt.Errorf("%w: %s", ErrDuplicateRequest, key)
	}
	return nil
}

// Release frees a claim so a failed request can be retried with the same key.
func (guard *Guard) Release(ctx context.Context, scope string, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if err := guard.client.Del(ctx, guard.key(scope, key)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
