package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/internal/events"
	"github.com/BatmanBruc/club-subscription-bot/internal/metrics"
	"github.com/BatmanBruc/club-subscription-bot/types"
)

const sweepBatch = 500

type ExpiredPayload struct {
	UserID         int64 `json:"user_id"`
	TelegramID     int64 `json:"telegram_id"`
	SubscriptionID int64 `json:"subscription_id"`
}

type Sweeper struct {
	store     types.SubscriptionStore
	ledger    *Ledger
	queue     types.TaskEnqueuer
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewSweeper(store types.SubscriptionStore, ledger *Ledger, queue types.TaskEnqueuer, publisher events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Sweeper {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:     store,
		ledger:    ledger,
		queue:     queue,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With("component", "expiry_sweep"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run flips every elapsed active row to expired. Users left without any
// entitlement get one removal task per run, queued before their rows flip so
// a queue failure leaves the rows due for the next sweep. Users with a
// stacked renewal are untouched.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	due, err := s.store.ListDueExpirations(ctx, s.now(), sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list due expirations: %w", err)
	}

	byUser := make(map[int64][]types.Subscription)
	var order []int64
	for _, sub := range due {
		if _, ok := byUser[sub.UserID]; !ok {
			order = append(order, sub.UserID)
		}
		byUser[sub.UserID] = append(byUser[sub.UserID], sub)
	}

	expired := 0
	for _, userID := range order {
		n, err := s.expireUser(ctx, userID, byUser[userID])
		expired += n
		if err != nil {
			s.logger.Error("expiry follow-up failed", "user_id", userID, "error", err)
		}
	}

	if expired > 0 {
		s.logger.Info("expiry sweep finished", "due", len(due), "expired", expired)
	}
	return expired, nil
}

// expireUser handles all elapsed rows of one user.
func (s *Sweeper) expireUser(ctx context.Context, userID int64, rows []types.Subscription) (int, error) {
	active, err := s.ledger.HasActiveSubscription(ctx, userID)
	if err != nil {
		return 0, err
	}

	var notice *ExpiredPayload
	if active {
		s.metrics.ObserveExpiry("superseded")
		s.logger.Info("elapsed rows superseded by renewal", "user_id", userID, "rows", len(rows))
	} else {
		user, err := s.store.GetUserByID(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("get user: %w", err)
		}
		latest := rows[0]
		for _, sub := range rows[1:] {
			if sub.EndDate.After(latest.EndDate) {
				latest = sub
			}
		}
		notice = &ExpiredPayload{UserID: user.ID, TelegramID: user.TelegramID, SubscriptionID: latest.ID}
		if _, err := s.queue.Enqueue(ctx, types.TaskSubscriptionExpired, *notice, 0); err != nil {
			return 0, fmt.Errorf("enqueue expiry notice: %w", err)
		}
	}

	flipped := 0
	for _, sub := range rows {
		ok, err := s.store.MarkExpired(ctx, sub.ID)
		if err != nil {
			s.logger.Error("mark expired failed", "subscription_id", sub.ID, "error", err)
			continue
		}
		if ok {
			flipped++
			s.metrics.ObserveExpiry("expired")
		}
	}

	if notice != nil {
		if err := s.publisher.Publish(ctx, events.SubscriptionExpired, *notice); err != nil {
			s.logger.Warn("publish subscription.expired failed", "user_id", userID, "error", err)
		}
	}
	return flipped, nil
}

// Job adapts Run to a cron callback.
func (s *Sweeper) Job() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if _, err := s.Run(ctx); err != nil {
		s.logger.Error("expiry sweep failed", "error", err)
	}
}
