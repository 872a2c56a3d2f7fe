package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/internal/pricing"
	"github.com/BatmanBruc/club-subscription-bot/types"
)

// LedgerTx is the locked read and insert a ledger extension needs. It must be
// backed by the same transaction that records the payment.
type LedgerTx interface {
	LockLatestActiveSubscription(ctx context.Context, userID int64) (*types.Subscription, error)
	InsertSubscription(ctx context.Context, sub *types.Subscription) error
}

type Reader interface {
	LatestSubscription(ctx context.Context, userID int64) (*types.Subscription, error)
}

type Ledger struct {
	reader Reader
	now    func() time.Time
	logger *slog.Logger
}

func NewLedger(reader Reader, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		reader: reader,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "ledger"),
	}
}

// NextWindow computes the period bought by plan. A current window that has
// not ended yet is stacked onto; otherwise the period starts now.
func NextWindow(current *types.Subscription, plan types.Plan, now time.Time) (start, end time.Time) {
	start = now
	if current != nil && current.EndDate.After(now) {
		start = current.EndDate
	}
	return start, start.Add(pricing.Duration(plan))
}

func (l *Ledger) Extend(ctx context.Context, tx LedgerTx, userID int64, plan types.Plan) (*types.Subscription, error) {
	current, err := tx.LockLatestActiveSubscription(ctx, userID)
	if errors.Is(err, types.ErrUnknownUser) {
		return nil, fmt.Errorf("extend user %d: %w", userID, err)
	}
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("lock active subscription: %w", err)
	}
	if errors.Is(err, types.ErrNotFound) {
		current = nil
	}

	start, end := NextWindow(current, plan, l.now())
	sub := &types.Subscription{
		UserID:    userID,
		Plan:      plan,
		StartDate: start,
		EndDate:   end,
		Status:    types.SubscriptionActive,
	}
	if err := tx.InsertSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}

	l.logger.Info("subscription extended",
		"user_id", userID,
		"plan", plan,
		"start", start,
		"end", end,
		"stacked", current != nil && start.Equal(current.EndDate),
	)
	return sub, nil
}

// HasActiveSubscription looks only at the row with the greatest end date,
// whatever its stored status.
func (l *Ledger) HasActiveSubscription(ctx context.Context, userID int64) (bool, error) {
	latest, err := l.reader.LatestSubscription(ctx, userID)
	if errors.Is(err, types.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("latest subscription: %w", err)
	}
	return latest.EndDate.After(l.now()), nil
}
