package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/internal/delivery"
	"github.com/BatmanBruc/club-subscription-bot/internal/metrics"
	"github.com/BatmanBruc/club-subscription-bot/types"
	"github.com/google/uuid"
)

var (
	ErrScenarioInactive     = errors.New("scenario is not active")
	ErrSubscriptionRequired = errors.New("scenario requires an active subscription")
	ErrEmptyScenario        = errors.New("scenario has no steps")
)

const defaultMaxChain = 50

// Entitlement is the subscription predicate gating scenario starts.
type Entitlement interface {
	HasActiveSubscription(ctx context.Context, userID int64) (bool, error)
}

// ResumeFence remembers which queued continuations already ran.
type ResumeFence interface {
	Claim(ctx context.Context, token string) (alreadyClaimed bool, err error)
	Release(ctx context.Context, token string) error
}

// StepPayload is the queued continuation of a delayed step. Token is unique
// per enqueue and keys the resume fence.
type StepPayload struct {
	UserID     int64  `json:"user_id"`
	ChatID     int64  `json:"chat_id"`
	ScenarioID int64  `json:"scenario_id"`
	StepID     string `json:"step_id"`
	Token      string `json:"token,omitempty"`
}

type Engine struct {
	scenarios   types.ScenarioStore
	progress    types.ProgressStore
	entitlement Entitlement
	sender      delivery.Sender
	queue       types.TaskEnqueuer
	fence       ResumeFence
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
	maxChain    int
}

type EngineDeps struct {
	Scenarios   types.ScenarioStore
	Progress    types.ProgressStore
	Entitlement Entitlement
	Sender      delivery.Sender
	Queue       types.TaskEnqueuer
	Fence       ResumeFence
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

func NewEngine(deps EngineDeps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		scenarios:   deps.Scenarios,
		progress:    deps.Progress,
		entitlement: deps.Entitlement,
		sender:      deps.Sender,
		queue:       deps.Queue,
		fence:       deps.Fence,
		metrics:     deps.Metrics,
		logger:      logger.With("component", "scenario"),
		now:         func() time.Time { return time.Now().UTC() },
		maxChain:    defaultMaxChain,
	}
}

// run is the cursor of one user walking one scenario.
type run struct {
	scenario  *types.Scenario
	graph     *Graph
	userID    int64
	chatID    int64
	state     json.RawMessage
	startedAt time.Time
}

func (e *Engine) load(sc *types.Scenario) (*Graph, error) {
	g, err := Parse(sc.Definition)
	if err != nil {
		return nil, fmt.Errorf("scenario %d: %w", sc.ID, err)
	}
	return g, nil
}

// Start runs a scenario from its first step. Gating happens here, once per
// start, never on later transitions.
func (e *Engine) Start(ctx context.Context, userID, chatID, scenarioID int64) (*types.Scenario, error) {
	sc, err := e.scenarios.GetScenario(ctx, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("get scenario %d: %w", scenarioID, err)
	}
	return sc, e.start(ctx, userID, chatID, sc)
}

func (e *Engine) StartByName(ctx context.Context, userID, chatID int64, name string) (*types.Scenario, error) {
	sc, err := e.scenarios.GetScenarioByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get scenario %q: %w", name, err)
	}
	return sc, e.start(ctx, userID, chatID, sc)
}

func (e *Engine) start(ctx context.Context, userID, chatID int64, sc *types.Scenario) error {
	if !sc.IsActive {
		return ErrScenarioInactive
	}
	if sc.SubscriptionRequired {
		ok, err := e.entitlement.HasActiveSubscription(ctx, userID)
		if err != nil {
			return fmt.Errorf("check subscription: %w", err)
		}
		if !ok {
			return ErrSubscriptionRequired
		}
	}

	g, err := e.load(sc)
	if err != nil {
		return err
	}
	first := g.First()
	if first == nil {
		return ErrEmptyScenario
	}

	r := &run{scenario: sc, graph: g, userID: userID, chatID: chatID, startedAt: e.now()}
	e.logger.Info("scenario started", "scenario_id", sc.ID, "user_id", userID, "first_step", first.ID)
	return e.walk(ctx, r, first, false)
}

// HandleCallback advances the user's most recent scenario with a button
// token. handled is false when the user has no scenario in progress.
func (e *Engine) HandleCallback(ctx context.Context, userID, chatID int64, token string) (handled bool, err error) {
	p, err := e.progress.LatestProgress(ctx, userID)
	if errors.Is(err, types.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("latest progress: %w", err)
	}

	sc, err := e.scenarios.GetScenario(ctx, p.ScenarioID)
	if err != nil {
		return false, fmt.Errorf("get scenario %d: %w", p.ScenarioID, err)
	}
	if !sc.IsActive {
		return true, ErrScenarioInactive
	}
	g, err := e.load(sc)
	if err != nil {
		return false, err
	}

	next := g.Next(p.CurrentStepID, token)
	if next == nil {
		e.metrics.ObserveStep("finished")
		e.logger.Debug("scenario finished", "scenario_id", sc.ID, "user_id", userID, "step", p.CurrentStepID, "trigger", token)
		return true, nil
	}

	r := &run{scenario: sc, graph: g, userID: userID, chatID: chatID, state: p.State}
	return true, e.walk(ctx, r, next, false)
}

// ResumeDelayed delivers a step whose delay has elapsed. The queue may run
// it more than once: a claimed token means it already ran. Payloads without
// a token, or an engine without a fence, fall back to the progress cursor.
func (e *Engine) ResumeDelayed(ctx context.Context, payload StepPayload) error {
	sc, err := e.scenarios.GetScenario(ctx, payload.ScenarioID)
	if errors.Is(err, types.ErrNotFound) {
		e.logger.Warn("delayed step for deleted scenario", "scenario_id", payload.ScenarioID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get scenario %d: %w", payload.ScenarioID, err)
	}
	if !sc.IsActive {
		e.logger.Info("delayed step skipped, scenario inactive", "scenario_id", sc.ID, "user_id", payload.UserID)
		return nil
	}
	g, err := e.load(sc)
	if err != nil {
		return err
	}
	step := g.Step(payload.StepID)
	if step == nil {
		e.logger.Warn("delayed step no longer exists", "scenario_id", sc.ID, "step", payload.StepID)
		return nil
	}

	fenced := e.fence != nil && payload.Token != ""
	r := &run{scenario: sc, graph: g, userID: payload.UserID, chatID: payload.ChatID}
	p, err := e.progress.GetProgress(ctx, payload.UserID, sc.ID)
	switch {
	case errors.Is(err, types.ErrNotFound):
		r.startedAt = e.now()
	case err != nil:
		return fmt.Errorf("get progress: %w", err)
	case !fenced && p.CurrentStepID == step.ID:
		e.logger.Info("delayed step already delivered", "scenario_id", sc.ID, "user_id", payload.UserID, "step", step.ID)
		return nil
	default:
		r.state = p.State
	}

	if fenced {
		claimed, err := e.fence.Claim(ctx, payload.Token)
		if err != nil {
			return fmt.Errorf("claim delayed step: %w", err)
		}
		if claimed {
			e.logger.Info("delayed step already delivered", "scenario_id", sc.ID, "user_id", payload.UserID, "step", step.ID)
			return nil
		}
	}

	if err := e.walk(ctx, r, step, true); err != nil {
		if fenced {
			// let the queue retry run the continuation again
			if rerr := e.fence.Release(context.WithoutCancel(ctx), payload.Token); rerr != nil {
				e.logger.Error("release delayed step failed", "step", step.ID, "error", rerr)
			}
		}
		return err
	}
	return nil
}

// walk delivers step and keeps following default transitions while steps
// have no buttons to wait on. A delayed step is queued instead, except the
// first one when resumed is set.
func (e *Engine) walk(ctx context.Context, r *run, step *Step, resumed bool) error {
	for i := 0; step != nil; i++ {
		if i >= e.maxChain {
			e.logger.Warn("scenario chain limit reached", "scenario_id", r.scenario.ID, "user_id", r.userID, "step", step.ID)
			return nil
		}

		if step.Delay > 0 && !(resumed && i == 0) {
			payload := StepPayload{UserID: r.userID, ChatID: r.chatID, ScenarioID: r.scenario.ID, StepID: step.ID, Token: uuid.NewString()}
			if _, err := e.queue.Enqueue(ctx, types.TaskScenarioStep, payload, step.Delay); err != nil {
				return fmt.Errorf("enqueue delayed step %q: %w", step.ID, err)
			}
			e.metrics.ObserveStep("delayed")
			e.logger.Info("scenario step delayed", "scenario_id", r.scenario.ID, "user_id", r.userID, "step", step.ID, "delay", step.Delay)
			return nil
		}

		if _, err := Deliver(ctx, e.sender, r.chatID, step); err != nil {
			return fmt.Errorf("deliver step %q: %w", step.ID, err)
		}
		e.metrics.ObserveStep("delivered")

		err := e.progress.SaveProgress(ctx, &types.ScenarioProgress{
			UserID:        r.userID,
			ScenarioID:    r.scenario.ID,
			CurrentStepID: step.ID,
			State:         r.state,
			StartedAt:     r.startedAt,
		})
		if err != nil {
			return err
		}
		r.startedAt = time.Time{}

		if len(step.Buttons) > 0 {
			return nil
		}
		step = r.graph.Next(step.ID, "")
	}
	return nil
}
