package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxTTLJitter = 5

func NewRedisStore(client *redis.Client, baseTTL time.Duration) *RedisStore {
	return &RedisStore{
		client:  client,
		baseTTL: baseTTL,
	}
}

// RedisStore keeps blobs as plain strings. Every write refreshes the TTL, so an
// abandoned basket expires baseTTL after its last change.
type RedisStore struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

func (r RedisStore) Set(ctx context.Context, key string, blob []byte) error {
	// spread expirations so baskets written together do not expire together
	jitter := time.Duration(rand.Intn(maxTTLJitter)) * time.Minute
	ttl := r.baseTTL + jitter
	if r.baseTTL <= 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, string(blob), ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}
