package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// HeaderIdempotencyKey lets clients retry a create without producing a second task.
const HeaderIdempotencyKey = "Idempotency-Key"

// Deduper records idempotency keys already accepted for an owner.
type Deduper interface {
	Add(ctx context.Context, ownerID, key string) (bool, error)
	Remove(ctx context.Context, ownerID, key string) error
}

// RedisDeduper stores accepted idempotency keys in Redis so every instance
// sees them.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(ownerID, key string) string {
	return fmt.Sprintf("idem:%s:%s", ownerID, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, ownerID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(ownerID, key), 1, r.ttl).Result()
}

// Remove forgets a key after the command failed so the caller may retry it.
func (r *RedisDeduper) Remove(ctx context.Context, ownerID, key string) error {
	return r.client.Del(ctx, r.key(ownerID, key)).Err()
}
