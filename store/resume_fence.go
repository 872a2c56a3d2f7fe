package store

import (
	"context"
	"fmt"
	"time"
)

const DefaultResumeFenceTTL = 7 * 24 * time.Hour

// RedisResumeFence marks delayed scenario continuations that already ran,
// keyed by the token each enqueue carries.
type RedisResumeFence struct {
	rdb *RedisClient
	ttl time.Duration
}

func NewRedisResumeFence(rdb *RedisClient, ttl time.Duration) *RedisResumeFence {
	if ttl <= 0 {
		ttl = DefaultResumeFenceTTL
	}
	return &RedisResumeFence{rdb: rdb, ttl: ttl}
}

func (f *RedisResumeFence) key(token string) string {
	return f.rdb.generateKey("scenario", "resume", token)
}

func (f *RedisResumeFence) Claim(ctx context.Context, token string) (bool, error) {
	added, err := f.rdb.client.SetNX(ctx, f.key(token), "1", f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("resume fence claim: %w", err)
	}
	return !added, nil
}

func (f *RedisResumeFence) Release(ctx context.Context, token string) error {
	if err := f.rdb.client.Del(ctx, f.key(token)).Err(); err != nil {
		return fmt.Errorf("resume fence release: %w", err)
	}
	return nil
}
