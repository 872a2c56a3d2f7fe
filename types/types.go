package types

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// ErrUnknownUser is returned when a write needs a user row that does not exist.
var ErrUnknownUser = errors.New("user does not exist")

type TaskKind string

const (
	TaskSubscriptionInvite  TaskKind = "subscription_invite"
	TaskSubscriptionExpired TaskKind = "subscription_expired"
	TaskScenarioStep        TaskKind = "scenario_step"
	TaskBroadcast           TaskKind = "broadcast"
)

type Task struct {
	ID        string          `json:"id"`
	Kind      TaskKind        `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	RunAt     time.Time       `json:"run_at"`
}

type TaskEnqueuer interface {
	Enqueue(ctx context.Context, kind TaskKind, payload any, delay time.Duration) (string, error)
}

type TaskQueue interface {
	TaskEnqueuer
	Claim(ctx context.Context, limit int) ([]*Task, error)
	Ack(ctx context.Context, taskID string) error
	Retry(ctx context.Context, task *Task, delay time.Duration) error
	RequeueStale(ctx context.Context) (int, error)
}

type Scenario struct {
	ID                   int64
	Name                 string
	Definition           json.RawMessage
	IsActive             bool
	SubscriptionRequired bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type ScenarioProgress struct {
	UserID        int64
	ScenarioID    int64
	CurrentStepID string
	State         json.RawMessage
	StartedAt     time.Time
	UpdatedAt     time.Time
}

type ScenarioStore interface {
	GetScenario(ctx context.Context, scenarioID int64) (*Scenario, error)
	GetScenarioByName(ctx context.Context, name string) (*Scenario, error)
	UpsertScenario(ctx context.Context, sc *Scenario) (*Scenario, error)
}

type ProgressStore interface {
	GetProgress(ctx context.Context, userID, scenarioID int64) (*ScenarioProgress, error)
	LatestProgress(ctx context.Context, userID int64) (*ScenarioProgress, error)
	SaveProgress(ctx context.Context, p *ScenarioProgress) error
}

type BroadcastSegment string

const (
	SegmentAll         BroadcastSegment = "all"
	SegmentSubscribers BroadcastSegment = "subscribers"
	SegmentTag         BroadcastSegment = "tag"
)

type BroadcastStatus string

const (
	BroadcastDraft     BroadcastStatus = "draft"
	BroadcastSending   BroadcastStatus = "sending"
	BroadcastCompleted BroadcastStatus = "completed"
)

type BroadcastStats struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

type Broadcast struct {
	ID          int64
	Text        string
	Segment     BroadcastSegment
	SegmentTag  string
	Status      BroadcastStatus
	Stats       BroadcastStats
	CreatedBy   int64
	CreatedAt   time.Time
	CompletedAt *time.Time
}

type BroadcastStore interface {
	CreateBroadcast(ctx context.Context, b *Broadcast) error
	StartBroadcast(ctx context.Context, broadcastID int64) (*Broadcast, error)
	ReleaseBroadcast(ctx context.Context, broadcastID int64) error
	CompleteBroadcast(ctx context.Context, broadcastID int64, stats BroadcastStats) error
	Recipients(ctx context.Context, segment BroadcastSegment, tag string, now time.Time) ([]int64, error)
}
