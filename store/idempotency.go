package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/internal/payments/status"
)

const DefaultIdempotencyTTL = 24 * time.Hour

// KeyPolicy decides which fence a provider event lands on.
type KeyPolicy interface {
	Key(provider, externalID, status string) []string
}

// ExternalIDPolicy fences on the external id alone: once any delivery of an id
// is claimed, every later delivery of that id is a duplicate for the TTL,
// including a status change from pending to paid.
type ExternalIDPolicy struct{}

func (ExternalIDPolicy) Key(provider, externalID, _ string) []string {
	return []string{"payment", "idempotency", provider, externalID}
}

// StatusAwarePolicy keeps success events on the plain external id key and
// fences every other status separately, so a fenced pending delivery does not
// swallow the later paid delivery of the same id.
type StatusAwarePolicy struct{}

func (StatusAwarePolicy) Key(provider, externalID, st string) []string {
	key := ExternalIDPolicy{}.Key(provider, externalID, st)
	if status.IsSuccess(st) {
		return key
	}
	return append(key, status.Normalize(st))
}

func PolicyByName(name string) (KeyPolicy, error) {
	switch strings.TrimSpace(name) {
	case "", "status_aware":
		return StatusAwarePolicy{}, nil
	case "external_id":
		return ExternalIDPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown idempotency policy %q", name)
	}
}

type RedisIdempotencyGuard struct {
	rdb    *RedisClient
	policy KeyPolicy
	ttl    time.Duration
}

func NewRedisIdempotencyGuard(rdb *RedisClient, policy KeyPolicy, ttl time.Duration) *RedisIdempotencyGuard {
	if policy == nil {
		policy = StatusAwarePolicy{}
	}
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisIdempotencyGuard{rdb: rdb, policy: policy, ttl: ttl}
}

func (g *RedisIdempotencyGuard) key(provider, externalID, st string) string {
	return g.rdb.generateKey(g.policy.Key(provider, externalID, st)...)
}

// Claim returns true when the event was already claimed. SET NX is atomic, so
// of several concurrent deliveries exactly one sees false.
func (g *RedisIdempotencyGuard) Claim(ctx context.Context, provider, externalID, st string) (bool, error) {
	added, err := g.rdb.client.SetNX(ctx, g.key(provider, externalID, st), "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency claim: %w", err)
	}
	return !added, nil
}

func (g *RedisIdempotencyGuard) Mark(ctx context.Context, provider, externalID, st string) error {
	if err := g.rdb.client.Set(ctx, g.key(provider, externalID, st), "1", g.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency mark: %w", err)
	}
	return nil
}

func (g *RedisIdempotencyGuard) Release(ctx context.Context, provider, externalID, st string) error {
	if err := g.rdb.client.Del(ctx, g.key(provider, externalID, st)).Err(); err != nil {
		return fmt.Errorf("idempotency release: %w", err)
	}
	return nil
}
