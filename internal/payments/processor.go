// Package payments applies provider payment notifications to the billing
// tables and the subscription ledger exactly once.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/internal/events"
	"github.com/BatmanBruc/club-subscription-bot/internal/metrics"
	"github.com/BatmanBruc/club-subscription-bot/internal/payments/status"
	"github.com/BatmanBruc/club-subscription-bot/internal/pricing"
	"github.com/BatmanBruc/club-subscription-bot/internal/subscription"
	"github.com/BatmanBruc/club-subscription-bot/types"
	"github.com/shopspring/decimal"
)

const DefaultCurrency = "RUB"

var (
	ErrValidation   = errors.New("payment event is missing id or status")
	ErrUserNotFound = errors.New("payment owner not found")
	ErrTransient    = errors.New("payment processing failed")
)

type Outcome string

const (
	OutcomeProcessed     Outcome = "processed"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeNotActionable Outcome = "not_actionable"
)

type Result struct {
	Outcome      Outcome
	TelegramID   int64
	Subscription *types.Subscription
}

// InvitePayload is queued after a processed payment.
type InvitePayload struct {
	TelegramID int64 `json:"telegram_id"`
}

type CompletedEvent struct {
	Provider   string     `json:"provider"`
	ExternalID string     `json:"external_id"`
	UserID     int64      `json:"user_id"`
	TelegramID int64      `json:"telegram_id"`
	Plan       types.Plan `json:"plan"`
	ActiveTill time.Time  `json:"active_till"`
}

type Processor struct {
	guard     types.IdempotencyGuard
	billing   types.BillingStore
	ledger    *subscription.Ledger
	queue     types.TaskEnqueuer
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Deps struct {
	Guard     types.IdempotencyGuard
	Billing   types.BillingStore
	Ledger    *subscription.Ledger
	Queue     types.TaskEnqueuer
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

func NewProcessor(d Deps) *Processor {
	if d.Publisher == nil {
		d.Publisher = events.NoopPublisher{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Processor{
		guard:     d.Guard,
		billing:   d.Billing,
		ledger:    d.Ledger,
		queue:     d.Queue,
		publisher: d.Publisher,
		metrics:   d.Metrics,
		logger:    d.Logger.With("component", "payments"),
	}
}

// Process applies one provider notification. Duplicates and non-success
// statuses are not errors. ErrUserNotFound and ErrTransient leave the event
// unfenced so the provider can deliver it again.
func (p *Processor) Process(ctx context.Context, ev types.PaymentEvent) (Result, error) {
	ev.ExternalID = strings.TrimSpace(ev.ExternalID)
	st := status.Normalize(ev.Status)
	if ev.ExternalID == "" || st == "" {
		return Result{}, ErrValidation
	}
	if ev.Currency == "" {
		ev.Currency = DefaultCurrency
	}
	log := p.logger.With("provider", ev.Provider, "external_id", ev.ExternalID, "status", st)

	claimed, err := p.guard.Claim(ctx, ev.Provider, ev.ExternalID, st)
	if err != nil {
		return Result{}, fmt.Errorf("%w: claim: %w", ErrTransient, err)
	}
	if claimed {
		log.Info("payment event already seen")
		p.metrics.ObservePayment(ev.Provider, string(OutcomeDuplicate))
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	if !status.IsSuccess(st) {
		if err := p.guard.Mark(ctx, ev.Provider, ev.ExternalID, st); err != nil {
			log.Warn("refresh idempotency fence failed", "error", err)
		}
		log.Info("payment status is not a success, skipping")
		p.metrics.ObservePayment(ev.Provider, string(OutcomeNotActionable))
		return Result{Outcome: OutcomeNotActionable}, nil
	}

	res, err := p.apply(ctx, ev)
	if err != nil {
		if rerr := p.guard.Release(context.WithoutCancel(ctx), ev.Provider, ev.ExternalID, st); rerr != nil {
			log.Error("release idempotency fence failed", "error", rerr)
		}
		if errors.Is(err, ErrUserNotFound) {
			log.Error("payment owner not found", "error", err)
			p.metrics.ObservePayment(ev.Provider, "user_not_found")
			return Result{}, err
		}
		log.Error("payment processing failed", "error", err)
		p.metrics.ObservePayment(ev.Provider, "failed")
		return Result{}, fmt.Errorf("%w: %w", ErrTransient, err)
	}

	p.metrics.ObservePayment(ev.Provider, string(res.Outcome))
	if res.Outcome != OutcomeProcessed {
		log.Info("payment already completed")
		return res, nil
	}

	p.metrics.ObserveExtension(string(res.Subscription.Plan))
	log.Info("payment processed",
		"user_id", res.Subscription.UserID,
		"plan", res.Subscription.Plan,
		"active_till", res.Subscription.EndDate,
	)
	p.afterCommit(ctx, ev, res)
	return res, nil
}

// apply runs the success path in one billing transaction.
func (p *Processor) apply(ctx context.Context, ev types.PaymentEvent) (Result, error) {
	plan := pricing.Resolve(ev.Plan, ev.Amount)

	var res Result
	err := p.billing.InBillingTx(ctx, func(tx types.BillingTx) error {
		res = Result{}

		var owner *types.User
		existing, err := tx.LockPayment(ctx, ev.Provider, ev.ExternalID)
		switch {
		case errors.Is(err, types.ErrNotFound):
			owner, err = p.insertPayment(ctx, tx, ev)
			if err != nil {
				return err
			}
			if owner == nil {
				res.Outcome = OutcomeDuplicate
				return nil
			}
		case err != nil:
			return fmt.Errorf("lock payment: %w", err)
		case existing.Status == types.PaymentCompleted:
			res.Outcome = OutcomeDuplicate
			return nil
		default:
			if err := tx.CompletePayment(ctx, existing.ID); err != nil {
				return fmt.Errorf("complete payment %d: %w", existing.ID, err)
			}
			if owner, err = tx.GetUserByID(ctx, existing.UserID); err != nil {
				return fmt.Errorf("get payment owner %d: %w", existing.UserID, err)
			}
		}

		sub, err := p.ledger.Extend(ctx, tx, owner.ID, plan)
		if err != nil {
			return err
		}
		res = Result{Outcome: OutcomeProcessed, TelegramID: owner.TelegramID, Subscription: sub}
		return nil
	})
	return res, err
}

// insertPayment records a completed payment for a first-seen event. A nil
// user with a nil error means a concurrent delivery inserted it first.
func (p *Processor) insertPayment(ctx context.Context, tx types.BillingTx, ev types.PaymentEvent) (*types.User, error) {
	if ev.UserTelegramID == nil {
		return nil, fmt.Errorf("%w: no telegram id in event", ErrUserNotFound)
	}
	user, err := tx.GetUserByTelegramID(ctx, *ev.UserTelegramID)
	if errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("%w: telegram id %d", ErrUserNotFound, *ev.UserTelegramID)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	amount := decimal.Zero
	if ev.Amount != nil {
		amount = *ev.Amount
	}
	inserted, err := tx.InsertPayment(ctx, &types.Payment{
		UserID:     user.ID,
		Provider:   ev.Provider,
		ExternalID: ev.ExternalID,
		Amount:     amount,
		Currency:   ev.Currency,
		Status:     types.PaymentCompleted,
	})
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	if !inserted {
		return nil, nil
	}
	return user, nil
}

func (p *Processor) afterCommit(ctx context.Context, ev types.PaymentEvent, res Result) {
	if _, err := p.queue.Enqueue(ctx, types.TaskSubscriptionInvite, InvitePayload{TelegramID: res.TelegramID}, 0); err != nil {
		p.logger.Error("enqueue invite failed", "telegram_id", res.TelegramID, "error", err)
	}
	err := p.publisher.Publish(ctx, events.PaymentCompleted, CompletedEvent{
		Provider:   ev.Provider,
		ExternalID: ev.ExternalID,
		UserID:     res.Subscription.UserID,
		TelegramID: res.TelegramID,
		Plan:       res.Subscription.Plan,
		ActiveTill: res.Subscription.EndDate,
	})
	if err != nil {
		p.logger.Warn("publish payment.completed failed", "external_id", ev.ExternalID, "error", err)
	}
}
