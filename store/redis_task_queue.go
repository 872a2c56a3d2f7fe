package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/types"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const taskTTL = 7 * 24 * time.Hour

// claimScript moves up to ARGV[2] due ids into the processing set with the
// visibility deadline ARGV[3] as score.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZADD', KEYS[2], ARGV[3], id)
end
return ids
`)

// requeueScript returns processing ids whose deadline passed to the due set.
var requeueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('ZADD', KEYS[1], ARGV[1], id)
end
return #ids
`)

// RedisTaskQueue is an at-least-once delayed queue. A claimed task that is
// neither acked nor retried before its visibility deadline runs again.
type RedisTaskQueue struct {
	rdb        *RedisClient
	visibility time.Duration
	now        func() time.Time
}

func NewRedisTaskQueue(rdb *RedisClient, visibility time.Duration) *RedisTaskQueue {
	if visibility <= 0 {
		visibility = 5 * time.Minute
	}
	return &RedisTaskQueue{
		rdb:        rdb,
		visibility: visibility,
		now:        time.Now,
	}
}

func (q *RedisTaskQueue) dueKey() string        { return q.rdb.generateKey("tasks", "due") }
func (q *RedisTaskQueue) processingKey() string { return q.rdb.generateKey("tasks", "processing") }
func (q *RedisTaskQueue) taskKey(id string) string {
	return q.rdb.generateKey("task", id)
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func (q *RedisTaskQueue) Enqueue(ctx context.Context, kind types.TaskKind, payload any, delay time.Duration) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	if delay < 0 {
		delay = 0
	}
	now := q.now().UTC()
	task := &types.Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   body,
		CreatedAt: now,
		RunAt:     now.Add(delay),
	}
	if err := q.schedule(ctx, task, false); err != nil {
		return "", err
	}
	return task.ID, nil
}

func (q *RedisTaskQueue) schedule(ctx context.Context, task *types.Task, fromProcessing bool) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	ttl := taskTTL + task.RunAt.Sub(q.now())
	_, err = q.rdb.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, q.taskKey(task.ID), data, ttl)
		if fromProcessing {
			p.ZRem(ctx, q.processingKey(), task.ID)
		}
		p.ZAdd(ctx, q.dueKey(), &redis.Z{Score: score(task.RunAt), Member: task.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule task %s: %w", task.ID, err)
	}
	return nil
}

func (q *RedisTaskQueue) Claim(ctx context.Context, limit int) ([]*types.Task, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := q.now()
	raw, err := claimScript.Run(ctx, q.rdb.client,
		[]string{q.dueKey(), q.processingKey()},
		strconv.FormatInt(now.UnixMilli(), 10),
		limit,
		strconv.FormatInt(now.Add(q.visibility).UnixMilli(), 10),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = q.taskKey(id)
	}
	bodies, err := q.rdb.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load claimed tasks: %w", err)
	}

	tasks := make([]*types.Task, 0, len(ids))
	for i, body := range bodies {
		s, ok := body.(string)
		if !ok {
			// body expired or was deleted, nothing left to run
			q.rdb.client.ZRem(ctx, q.processingKey(), ids[i])
			continue
		}
		var task types.Task
		if err := json.Unmarshal([]byte(s), &task); err != nil {
			q.rdb.client.ZRem(ctx, q.processingKey(), ids[i])
			continue
		}
		tasks = append(tasks, &task)
	}
	return tasks, nil
}

func (q *RedisTaskQueue) Get(ctx context.Context, taskID string) (*types.Task, error) {
	var task types.Task
	if err := q.rdb.Get(ctx, q.taskKey(taskID), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (q *RedisTaskQueue) Ack(ctx context.Context, taskID string) error {
	_, err := q.rdb.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.processingKey(), taskID)
		p.Del(ctx, q.taskKey(taskID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack task %s: %w", taskID, err)
	}
	return nil
}

// Retry stores the task with its updated attempt counter and makes it due
// again after delay.
func (q *RedisTaskQueue) Retry(ctx context.Context, task *types.Task, delay time.Duration) error {
	if task == nil {
		return errors.New("retry: nil task")
	}
	task.RunAt = q.now().UTC().Add(delay)
	return q.schedule(ctx, task, true)
}

func (q *RedisTaskQueue) RequeueStale(ctx context.Context) (int, error) {
	n, err := requeueScript.Run(ctx, q.rdb.client,
		[]string{q.dueKey(), q.processingKey()},
		strconv.FormatInt(q.now().UnixMilli(), 10),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("requeue stale tasks: %w", err)
	}
	return n, nil
}

func (q *RedisTaskQueue) Pending(ctx context.Context) (due, processing int64, err error) {
	due, err = q.rdb.client.ZCard(ctx, q.dueKey()).Result()
	if err != nil {
		return 0, 0, err
	}
	processing, err = q.rdb.client.ZCard(ctx, q.processingKey()).Result()
	return due, processing, err
}
