package payments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/internal/subscription"
	"github.com/BatmanBruc/club-subscription-bot/types"
	"github.com/shopspring/decimal"
)

// memBilling serialises transactions with one mutex and commits a copy of
// the tables only when fn succeeds.
type memBilling struct {
	mu       sync.Mutex
	users    map[int64]types.User
	payments []types.Payment
	subs     []types.Subscription
	failOn   string
}

func newMemBilling(users ...types.User) *memBilling {
	m := &memBilling{users: map[int64]types.User{}}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memBilling) InBillingTx(_ context.Context, fn func(types.BillingTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{
		m:        m,
		payments: append([]types.Payment(nil), m.payments...),
		subs:     append([]types.Subscription(nil), m.subs...),
	}
	if err := fn(tx); err != nil {
		return err
	}
	m.payments, m.subs = tx.payments, tx.subs
	return nil
}

func (m *memBilling) LatestSubscription(_ context.Context, userID int64) (*types.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return latest(m.subs, userID, false)
}

func latest(subs []types.Subscription, userID int64, activeOnly bool) (*types.Subscription, error) {
	var out *types.Subscription
	for i := range subs {
		s := subs[i]
		if s.UserID != userID || (activeOnly && s.Status != types.SubscriptionActive) {
			continue
		}
		if out == nil || s.EndDate.After(out.EndDate) {
			out = &s
		}
	}
	if out == nil {
		return nil, types.ErrNotFound
	}
	return out, nil
}

type memTx struct {
	m        *memBilling
	payments []types.Payment
	subs     []types.Subscription
}

func (t *memTx) GetUserByID(_ context.Context, id int64) (*types.User, error) {
	u, ok := t.m.users[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &u, nil
}

func (t *memTx) GetUserByTelegramID(_ context.Context, tgID int64) (*types.User, error) {
	for _, u := range t.m.users {
		if u.TelegramID == tgID {
			return &u, nil
		}
	}
	return nil, types.ErrNotFound
}

func (t *memTx) LockPayment(_ context.Context, provider, externalID string) (*types.Payment, error) {
	for _, p := range t.payments {
		if p.Provider == provider && p.ExternalID == externalID {
			return &p, nil
		}
	}
	return nil, types.ErrNotFound
}

func (t *memTx) InsertPayment(_ context.Context, p *types.Payment) (bool, error) {
	for _, existing := range t.payments {
		if existing.Provider == p.Provider && existing.ExternalID == p.ExternalID {
			return false, nil
		}
	}
	p.ID = int64(len(t.payments) + 1)
	t.payments = append(t.payments, *p)
	return true, nil
}

func (t *memTx) CompletePayment(_ context.Context, id int64) error {
	for i := range t.payments {
		if t.payments[i].ID == id {
			t.payments[i].Status = types.PaymentCompleted
			return nil
		}
	}
	return types.ErrNotFound
}

func (t *memTx) LockLatestActiveSubscription(_ context.Context, userID int64) (*types.Subscription, error) {
	return latest(t.subs, userID, true)
}

func (t *memTx) InsertSubscription(_ context.Context, sub *types.Subscription) error {
	if t.m.failOn == "insert_subscription" {
		return errors.New("connection reset")
	}
	sub.ID = int64(len(t.subs) + 1)
	t.subs = append(t.subs, *sub)
	return nil
}

type memGuard struct {
	mu       sync.Mutex
	keys     map[string]bool
	released []string
}

func (g *memGuard) k(provider, externalID, st string) string {
	return provider + ":" + externalID + ":" + st
}

func (g *memGuard) Claim(_ context.Context, provider, externalID, st string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := g.k(provider, externalID, st)
	if g.keys[k] {
		return true, nil
	}
	g.keys[k] = true
	return false, nil
}

func (g *memGuard) Mark(_ context.Context, provider, externalID, st string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys[g.k(provider, externalID, st)] = true
	return nil
}

func (g *memGuard) Release(_ context.Context, provider, externalID, st string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := g.k(provider, externalID, st)
	delete(g.keys, k)
	g.released = append(g.released, k)
	return nil
}

// openGuard never fences, leaving deduplication to the database.
type openGuard struct{}

func (openGuard) Claim(context.Context, string, string, string) (bool, error) { return false, nil }
func (openGuard) Mark(context.Context, string, string, string) error { return nil }
func (openGuard) Release(context.Context, string, string, string) error { return nil }

type memQueue struct {
	mu    sync.Mutex
	tasks []InvitePayload
}

func (q *memQueue) Enqueue(_ context.Context, kind types.TaskKind, payload any, _ time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if kind == types.TaskSubscriptionInvite {
		q.tasks = append(q.tasks, payload.(InvitePayload))
	}
	return "t", nil
}

type fixture struct {
	proc    *Processor
	billing *memBilling
	guard   *memGuard
	queue   *memQueue
}

func newFixture(guard types.IdempotencyGuard) *fixture {
	billing := newMemBilling(types.User{ID: 1, TelegramID: 555}, types.User{ID: 2, TelegramID: 777})
	queue := &memQueue{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{billing: billing, queue: queue}
	if guard == nil {
		f.guard = &memGuard{keys: map[string]bool{}}
		guard = f.guard
	}
	f.proc = NewProcessor(Deps{
		Guard:   guard,
		Billing: billing,
		Ledger:  subscription.NewLedger(billing, logger),
		Queue:   queue,
		Logger:  logger,
	})
	return f
}

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func tg(id int64) *int64 { return &id }

func event(id, st string) types.PaymentEvent {
	return types.PaymentEvent{Provider: "yookassa", ExternalID: id, Status: st, Amount: amount("990"), UserTelegramID: tg(555)}
}

func TestProcessSuccess(t *testing.T) {
	f := newFixture(nil)

	res, err := f.proc.Process(context.Background(), event("pay-1", " Succeeded "))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Outcome != OutcomeProcessed || res.TelegramID != 555 {
		t.Fatalf("res = %+v", res)
	}
	if res.Subscription.Plan != types.PlanEightWeeks {
		t.Fatalf("plan = %s, want inferred 8w", res.Subscription.Plan)
	}
	if got := res.Subscription.EndDate.Sub(res.Subscription.StartDate); got != 56*24*time.Hour {
		t.Fatalf("window = %v", got)
	}
	if len(f.billing.payments) != 1 || f.billing.payments[0].Currency != DefaultCurrency {
		t.Fatalf("payments = %+v", f.billing.payments)
	}
	if len(f.queue.tasks) != 1 || f.queue.tasks[0].TelegramID != 555 {
		t.Fatalf("invites = %+v", f.queue.tasks)
	}
}

func TestRedeliveryIsDuplicate(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	if _, err := f.proc.Process(ctx, event("pay-1", "paid")); err != nil {
		t.Fatal(err)
	}
	res, err := f.proc.Process(ctx, event("pay-1", "paid"))
	if err != nil || res.Outcome != OutcomeDuplicate {
		t.Fatalf("redelivery = %+v, %v", res, err)
	}
	if len(f.billing.subs) != 1 || len(f.queue.tasks) != 1 {
		t.Fatalf("redelivery wrote %d subs, %d invites", len(f.billing.subs), len(f.queue.tasks))
	}
}

func TestConcurrentDeliveriesExtendOnce(t *testing.T) {
	for name, guard := range map[string]types.IdempotencyGuard{"fenced": nil, "database only": openGuard{}} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(guard)
			const n = 16
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				processed int
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := f.proc.Process(context.Background(), event("pay-9", "succeeded"))
					if err != nil {
						t.Errorf("Process: %v", err)
						return
					}
					if res.Outcome == OutcomeProcessed {
						mu.Lock()
						processed++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			if processed != 1 {
				t.Fatalf("processed %d times, want 1", processed)
			}
			if len(f.billing.subs) != 1 || len(f.billing.payments) != 1 {
				t.Fatalf("subs %d, payments %d", len(f.billing.subs), len(f.billing.payments))
			}
		})
	}
}

func TestRenewalStacks(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	first, err := f.proc.Process(ctx, event("pay-1", "paid"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.proc.Process(ctx, event("pay-2", "paid"))
	if err != nil {
		t.Fatal(err)
	}
	if !second.Subscription.StartDate.Equal(first.Subscription.EndDate) {
		t.Fatalf("renewal starts %v, want %v", second.Subscription.StartDate, first.Subscription.EndDate)
	}
}

func TestNotActionableIsFenced(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	res, err := f.proc.Process(ctx, event("pay-1", "pending"))
	if err != nil || res.Outcome != OutcomeNotActionable {
		t.Fatalf("pending = %+v, %v", res, err)
	}
	res, err = f.proc.Process(ctx, event("pay-1", "pending"))
	if err != nil || res.Outcome != OutcomeDuplicate {
		t.Fatalf("pending again = %+v, %v", res, err)
	}
	res, err = f.proc.Process(ctx, event("pay-1", "succeeded"))
	if err != nil || res.Outcome != OutcomeProcessed {
		t.Fatalf("success after pending = %+v, %v", res, err)
	}
	if len(f.billing.subs) != 1 {
		t.Fatalf("subs = %d", len(f.billing.subs))
	}
}

func TestPendingPaymentRowIsCompleted(t *testing.T) {
	f := newFixture(nil)
	f.billing.payments = []types.Payment{{ID: 1, UserID: 2, Provider: "yookassa", ExternalID: "pay-7", Status: types.PaymentPending}}

	ev := event("pay-7", "completed")
	ev.UserTelegramID = nil
	res, err := f.proc.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Outcome != OutcomeProcessed || res.TelegramID != 777 {
		t.Fatalf("res = %+v", res)
	}
	if f.billing.payments[0].Status != types.PaymentCompleted {
		t.Fatal("payment row not completed")
	}
}

func TestCompletedPaymentRowIsDuplicate(t *testing.T) {
	f := newFixture(nil)
	f.billing.payments = []types.Payment{{ID: 1, UserID: 2, Provider: "yookassa", ExternalID: "pay-7", Status: types.PaymentCompleted}}

	res, err := f.proc.Process(context.Background(), event("pay-7", "paid"))
	if err != nil || res.Outcome != OutcomeDuplicate {
		t.Fatalf("res = %+v, %v", res, err)
	}
	if len(f.billing.subs) != 0 || len(f.queue.tasks) != 0 {
		t.Fatal("duplicate must not extend or invite")
	}
}

func TestUnknownUserReleasesFence(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	ev := event("pay-1", "paid")
	ev.UserTelegramID = tg(404)

	_, err := f.proc.Process(ctx, ev)
	if !errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v", err)
	}
	if len(f.guard.released) != 1 {
		t.Fatalf("released = %v", f.guard.released)
	}

	ev.UserTelegramID = tg(555)
	res, err := f.proc.Process(ctx, ev)
	if err != nil || res.Outcome != OutcomeProcessed {
		t.Fatalf("retry = %+v, %v", res, err)
	}
}

func TestMissingTelegramID(t *testing.T) {
	f := newFixture(nil)
	ev := event("pay-1", "paid")
	ev.UserTelegramID = nil
	if _, err := f.proc.Process(context.Background(), ev); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestTransientFailureRollsBackAndReleases(t *testing.T) {
	f := newFixture(nil)
	f.billing.failOn = "insert_subscription"

	_, err := f.proc.Process(context.Background(), event("pay-1", "paid"))
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v", err)
	}
	if len(f.billing.payments) != 0 {
		t.Fatal("payment row survived a failed transaction")
	}
	if len(f.guard.released) != 1 || len(f.queue.tasks) != 0 {
		t.Fatalf("released %v, invites %d", f.guard.released, len(f.queue.tasks))
	}
}

func TestValidation(t *testing.T) {
	f := newFixture(nil)
	for _, ev := range []types.PaymentEvent{event("", "paid"), event("pay-1", "  ")} {
		if _, err := f.proc.Process(context.Background(), ev); !errors.Is(err, ErrValidation) {
			t.Fatalf("Process(%+v) err = %v", ev, err)
		}
	}
	if len(f.guard.keys) != 0 {
		t.Fatal("invalid events must not be fenced")
	}
}

func TestExplicitPlanWins(t *testing.T) {
	f := newFixture(nil)
	ev := event("pay-1", "paid")
	ev.Amount = amount("100")
	ev.Plan = "6M"

	res, err := f.proc.Process(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	if res.Subscription.Plan != types.PlanSixMonths {
		t.Fatalf("plan = %s", res.Subscription.Plan)
	}

	ev = event("pay-2", "paid")
	ev.Amount = nil
	ev.Plan = "lifetime"
	if res, err = f.proc.Process(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if res.Subscription.Plan != types.PlanOneMonth {
		t.Fatalf("unknown plan without amount = %s", res.Subscription.Plan)
	}
}
