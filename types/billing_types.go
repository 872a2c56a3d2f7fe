package types

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Plan string

const (
	PlanOneMonth   Plan = "1m"
	PlanEightWeeks Plan = "8w"
	PlanSixMonths  Plan = "6m"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

type Payment struct {
	ID         int64
	UserID     int64
	Provider   string
	ExternalID string
	Amount     decimal.Decimal
	Currency   string
	Status     PaymentStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Subscription struct {
	ID        int64
	UserID    int64
	Plan      Plan
	StartDate time.Time
	EndDate   time.Time
	Status    SubscriptionStatus
	CreatedAt time.Time
}

// PaymentEvent is an inbound provider notification after payload normalisation.
type PaymentEvent struct {
	Provider       string
	ExternalID     string
	Status         string
	Amount         *decimal.Decimal
	Currency       string
	UserTelegramID *int64
	Plan           Plan
}

// BillingTx is the set of row operations that must share one database
// transaction while a payment is applied.
type BillingTx interface {
	GetUserByID(ctx context.Context, userID int64) (*User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*User, error)
	LockPayment(ctx context.Context, provider, externalID string) (*Payment, error)
	InsertPayment(ctx context.Context, p *Payment) (inserted bool, err error)
	CompletePayment(ctx context.Context, paymentID int64) error
	LockLatestActiveSubscription(ctx context.Context, userID int64) (*Subscription, error)
	InsertSubscription(ctx context.Context, sub *Subscription) error
}

type BillingStore interface {
	InBillingTx(ctx context.Context, fn func(tx BillingTx) error) error
}

type SubscriptionStore interface {
	LatestSubscription(ctx context.Context, userID int64) (*Subscription, error)
	ListDueExpirations(ctx context.Context, now time.Time, limit int) ([]Subscription, error)
	MarkExpired(ctx context.Context, subscriptionID int64) (bool, error)
	GetUserByID(ctx context.Context, userID int64) (*User, error)
}

type IdempotencyGuard interface {
	Claim(ctx context.Context, provider, externalID, status string) (alreadyClaimed bool, err error)
	Mark(ctx context.Context, provider, externalID, status string) error
	Release(ctx context.Context, provider, externalID, status string) error
}
