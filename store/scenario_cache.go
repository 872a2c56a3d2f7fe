package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/types"
)

// CachedScenarioStore keeps scenario definitions in Redis for ttl. Progress
// is never cached.
type CachedScenarioStore struct {
	types.ScenarioStore
	rdb *RedisClient
	ttl time.Duration
}

func NewCachedScenarioStore(next types.ScenarioStore, rdb *RedisClient, ttl time.Duration) *CachedScenarioStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedScenarioStore{ScenarioStore: next, rdb: rdb, ttl: ttl}
}

func (c *CachedScenarioStore) idKey(id int64) string {
	return c.rdb.generateKey("scenario", "id", strconv.FormatInt(id, 10))
}

func (c *CachedScenarioStore) nameKey(name string) string {
	return c.rdb.generateKey("scenario", "name", name)
}

func (c *CachedScenarioStore) GetScenario(ctx context.Context, scenarioID int64) (*types.Scenario, error) {
	return c.cached(ctx, c.idKey(scenarioID), func() (*types.Scenario, error) {
		return c.ScenarioStore.GetScenario(ctx, scenarioID)
	})
}

func (c *CachedScenarioStore) GetScenarioByName(ctx context.Context, name string) (*types.Scenario, error) {
	return c.cached(ctx, c.nameKey(name), func() (*types.Scenario, error) {
		return c.ScenarioStore.GetScenarioByName(ctx, name)
	})
}

func (c *CachedScenarioStore) UpsertScenario(ctx context.Context, sc *types.Scenario) (*types.Scenario, error) {
	out, err := c.ScenarioStore.UpsertScenario(ctx, sc)
	if err != nil {
		return nil, err
	}
	_ = c.rdb.Del(ctx, c.idKey(out.ID), c.nameKey(out.Name))
	return out, nil
}

func (c *CachedScenarioStore) cached(ctx context.Context, key string, load func() (*types.Scenario, error)) (*types.Scenario, error) {
	var sc types.Scenario
	err := c.rdb.Get(ctx, key, &sc)
	if err == nil {
		return &sc, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		// cache trouble must not take scenarios down
		return load()
	}

	out, err := load()
	if err != nil {
		return nil, err
	}
	_ = c.rdb.Set(ctx, key, out, c.ttl)
	return out, nil
}
