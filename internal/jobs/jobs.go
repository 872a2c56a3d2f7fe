// Package jobs holds the handlers for queued background tasks.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BatmanBruc/club-subscription-bot/internal/broadcast"
	"github.com/BatmanBruc/club-subscription-bot/internal/delivery"
	"github.com/BatmanBruc/club-subscription-bot/internal/messages"
	"github.com/BatmanBruc/club-subscription-bot/internal/payments"
	"github.com/BatmanBruc/club-subscription-bot/internal/scenario"
	"github.com/BatmanBruc/club-subscription-bot/internal/scheduler"
	"github.com/BatmanBruc/club-subscription-bot/internal/subscription"
	"github.com/BatmanBruc/club-subscription-bot/types"
)

// GroupAccess manages membership of the private group.
type GroupAccess interface {
	CreateInviteLink(ctx context.Context, chatID int64, memberLimit int) (string, error)
	RemoveMember(ctx context.Context, chatID, userID int64) error
}

type Entitlement interface {
	HasActiveSubscription(ctx context.Context, userID int64) (bool, error)
}

type StepResumer interface {
	ResumeDelayed(ctx context.Context, payload scenario.StepPayload) error
}

type BroadcastRunner interface {
	Run(ctx context.Context, id int64) (types.BroadcastStats, error)
}

// Jobs contains the handler for every task kind.
type Jobs struct {
	groupID     int64
	group       GroupAccess
	sender      delivery.Sender
	entitlement Entitlement
	steps       StepResumer
	broadcasts  BroadcastRunner
	logger      *slog.Logger
}

type Deps struct {
	PrivateGroupID int64
	Group          GroupAccess
	Sender         delivery.Sender
	Entitlement    Entitlement
	Steps          StepResumer
	Broadcasts     BroadcastRunner
	Logger         *slog.Logger
}

func NewJobs(d Deps) *Jobs {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Jobs{
		groupID:     d.PrivateGroupID,
		group:       d.Group,
		sender:      d.Sender,
		entitlement: d.Entitlement,
		steps:       d.Steps,
		broadcasts:  d.Broadcasts,
		logger:      d.Logger.With("component", "jobs"),
	}
}

// Register binds every handler to s.
func (j *Jobs) Register(s *scheduler.Scheduler) {
	s.Register(types.TaskSubscriptionInvite, j.SendInvite)
	s.Register(types.TaskSubscriptionExpired, j.RemoveExpired)
	s.Register(types.TaskScenarioStep, j.ResumeStep)
	s.Register(types.TaskBroadcast, j.RunBroadcast)
}

func decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, scheduler.ErrPermanent)
	}
	return nil
}

// SendInvite sends a single-use join link to a user who just paid.
func (j *Jobs) SendInvite(ctx context.Context, raw json.RawMessage) error {
	var p payments.InvitePayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	link, err := j.group.CreateInviteLink(ctx, j.groupID, 1)
	if err != nil {
		return err
	}
	msg := delivery.Message{Kind: delivery.KindText, Text: messages.PaymentInvite(link)}
	if err := j.sender.Send(ctx, p.TelegramID, msg); err != nil {
		return err
	}
	j.logger.Info("invite sent", "telegram_id", p.TelegramID)
	return nil
}

// RemoveExpired kicks a lapsed member unless they renewed after the sweep.
func (j *Jobs) RemoveExpired(ctx context.Context, raw json.RawMessage) error {
	var p subscription.ExpiredPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	active, err := j.entitlement.HasActiveSubscription(ctx, p.UserID)
	if err != nil {
		return err
	}
	if active {
		j.logger.Info("user renewed before removal, keeping", "user_id", p.UserID)
		return nil
	}

	if err := j.group.RemoveMember(ctx, j.groupID, p.TelegramID); err != nil {
		return err
	}
	msg := delivery.Message{Kind: delivery.KindText, Text: messages.SubscriptionExpired()}
	if err := j.sender.Send(ctx, p.TelegramID, msg); err != nil {
		j.logger.Warn("expiry notice not delivered", "telegram_id", p.TelegramID, "error", err)
	}
	j.logger.Info("expired member removed", "user_id", p.UserID, "subscription_id", p.SubscriptionID)
	return nil
}

func (j *Jobs) ResumeStep(ctx context.Context, raw json.RawMessage) error {
	var p scenario.StepPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	return j.steps.ResumeDelayed(ctx, p)
}

func (j *Jobs) RunBroadcast(ctx context.Context, raw json.RawMessage) error {
	var p broadcast.Payload
	if err := decode(raw, &p); err != nil {
		return err
	}
	_, err := j.broadcasts.Run(ctx, p.BroadcastID)
	return err
}
