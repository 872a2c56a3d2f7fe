package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/types"
	"github.com/go-redis/redis/v8"
)

type RedisClient struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisClient(ctx context.Context, url, prefix string) (*RedisClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = 20
	opts.MinIdleConns = 5
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisClientFrom(rdb, prefix), nil
}

// NewRedisClientFrom wraps an existing client, e.g. a cluster client.
func NewRedisClientFrom(rdb redis.UniversalClient, prefix string) *RedisClient {
	return &RedisClient{client: rdb, prefix: prefix}
}

func (r *RedisClient) generateKey(keys ...string) string {
	parts := make([]string, 0, len(keys)+1)
	if r.prefix != "" {
		parts = append(parts, r.prefix)
	}
	parts = append(parts, keys...)
	return strings.Join(parts, ":")
}

func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

func (r *RedisClient) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("key %s: %w", key, types.ErrNotFound)
		}
		return err
	}
	return json.Unmarshal(data, dest)
}

func (r *RedisClient) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
