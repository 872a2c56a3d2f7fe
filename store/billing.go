package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/types"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	paymentColumns      = `id, user_id, provider, external_id, amount::text, currency, status, created_at, updated_at`
	subscriptionColumns = `id, user_id, plan, start_date, end_date, status, created_at`
)

func scanPayment(row pgx.Row) (*types.Payment, error) {
	var (
		p      types.Payment
		amount string
		status string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Provider, &p.ExternalID, &amount, &p.Currency, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("payment %d amount %q: %w", p.ID, amount, err)
	}
	p.Amount = d
	p.Status = types.PaymentStatus(status)
	return &p, nil
}

func scanSubscription(row interface{ Scan(...any) error }) (*types.Subscription, error) {
	var (
		sub    types.Subscription
		plan   string
		status string
	)
	if err := row.Scan(&sub.ID, &sub.UserID, &plan, &sub.StartDate, &sub.EndDate, &status, &sub.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	sub.Plan = types.Plan(plan)
	sub.Status = types.SubscriptionStatus(status)
	return &sub, nil
}

// InBillingTx runs fn in a single transaction; fn's error rolls everything back.
func (s *PostgresStore) InBillingTx(ctx context.Context, fn func(tx types.BillingTx) error) error {
	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&billingTx{tx: tx})
	})
}

type billingTx struct {
	tx pgx.Tx
}

func (b *billingTx) GetUserByID(ctx context.Context, userID int64) (*types.User, error) {
	return getUserByID(ctx, b.tx, userID)
}

func (b *billingTx) GetUserByTelegramID(ctx context.Context, telegramID int64) (*types.User, error) {
	return getUserByTelegramID(ctx, b.tx, telegramID)
}

func (b *billingTx) LockPayment(ctx context.Context, provider, externalID string) (*types.Payment, error) {
	return scanPayment(b.tx.QueryRow(ctx, `
SELECT `+paymentColumns+`
FROM payments
WHERE provider = $1 AND external_id = $2
FOR UPDATE
`, provider, externalID))
}

// InsertPayment reports false when a concurrent transaction already recorded
// the same (provider, external_id).
func (b *billingTx) InsertPayment(ctx context.Context, p *types.Payment) (bool, error) {
	currency := strings.TrimSpace(p.Currency)
	if currency == "" {
		currency = "RUB"
	}
	err := b.tx.QueryRow(ctx, `
INSERT INTO payments (user_id, provider, external_id, amount, currency, status)
VALUES ($1, $2, $3, $4::numeric, $5, $6)
ON CONFLICT (provider, external_id) DO NOTHING
RETURNING id, created_at, updated_at
`, p.UserID, p.Provider, p.ExternalID, p.Amount.String(), currency, string(p.Status)).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert payment: %w", err)
	}
	return true, nil
}

func (b *billingTx) CompletePayment(ctx context.Context, paymentID int64) error {
	_, err := b.tx.Exec(ctx, `UPDATE payments SET status = 'completed', updated_at = NOW() WHERE id = $1`, paymentID)
	if err != nil {
		return fmt.Errorf("complete payment %d: %w", paymentID, err)
	}
	return nil
}

// LockLatestActiveSubscription takes the user row lock first: with no active
// subscription there is no subscription row to lock, and two first purchases
// would otherwise both see an empty ledger.
func (b *billingTx) LockLatestActiveSubscription(ctx context.Context, userID int64) (*types.Subscription, error) {
	var id int64
	if err := b.tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("lock user %d: %w", userID, types.ErrUnknownUser)
		}
		return nil, fmt.Errorf("lock user %d: %w", userID, err)
	}
	return scanSubscription(b.tx.QueryRow(ctx, `
SELECT `+subscriptionColumns+`
FROM subscriptions
WHERE user_id = $1 AND status = 'active'
ORDER BY end_date DESC
LIMIT 1
FOR UPDATE
`, userID))
}

func (b *billingTx) InsertSubscription(ctx context.Context, sub *types.Subscription) error {
	return b.tx.QueryRow(ctx, `
INSERT INTO subscriptions (user_id, plan, start_date, end_date, status)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at
`, sub.UserID, string(sub.Plan), sub.StartDate.UTC(), sub.EndDate.UTC(), string(sub.Status)).Scan(&sub.ID, &sub.CreatedAt)
}

func (s *PostgresStore) LatestSubscription(ctx context.Context, userID int64) (*types.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return scanSubscription(s.pool.QueryRow(ctx, `
SELECT `+subscriptionColumns+`
FROM subscriptions
WHERE user_id = $1
ORDER BY end_date DESC
LIMIT 1
`, userID))
}

func (s *PostgresStore) ListDueExpirations(ctx context.Context, now time.Time, limit int) ([]types.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
SELECT `+subscriptionColumns+`
FROM subscriptions
WHERE status = 'active' AND end_date <= $1
ORDER BY end_date
LIMIT $2
`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due expirations: %w", err)
	}
	defer rows.Close()

	var out []types.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

// MarkExpired only moves status forward; a row already expired reports false.
func (s *PostgresStore) MarkExpired(ctx context.Context, subscriptionID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
UPDATE subscriptions SET status = 'expired'
WHERE id = $1 AND status = 'active'
`, subscriptionID)
	if err != nil {
		return false, fmt.Errorf("mark expired %d: %w", subscriptionID, err)
	}
	return tag.RowsAffected() > 0, nil
}
