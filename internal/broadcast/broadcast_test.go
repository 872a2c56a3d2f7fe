package broadcast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/internal/delivery"
	"github.com/BatmanBruc/club-subscription-bot/types"
)

func TestParseSegment(t *testing.T) {
	cases := map[string]struct {
		segment types.BroadcastSegment
		tag     string
		err     bool
	}{
		"all":           {segment: types.SegmentAll},
		" Subscribers ": {segment: types.SegmentSubscribers},
		"tag:vip":       {segment: types.SegmentTag, tag: "vip"},
		"TAG: early ":   {segment: types.SegmentTag, tag: "early"},
		"tag:":          {err: true},
		"everyone":      {err: true},
		"":              {err: true},
	}
	for in, want := range cases {
		segment, tag, err := ParseSegment(in)
		if want.err {
			if !errors.Is(err, ErrBadSegment) {
				t.Errorf("ParseSegment(%q) err = %v", in, err)
			}
			continue
		}
		if err != nil || segment != want.segment || tag != want.tag {
			t.Errorf("ParseSegment(%q) = %q, %q, %v", in, segment, tag, err)
		}
	}
}

type memStore struct {
	broadcasts    map[int64]*types.Broadcast
	recipients    []int64
	recipientErrs []error
	completed     map[int64]types.BroadcastStats
}

func newMemStore(recipients ...int64) *memStore {
	return &memStore{
		broadcasts: map[int64]*types.Broadcast{},
		recipients: recipients,
		completed:  map[int64]types.BroadcastStats{},
	}
}

func (m *memStore) CreateBroadcast(_ context.Context, b *types.Broadcast) error {
	b.ID = int64(len(m.broadcasts) + 1)
	cp := *b
	m.broadcasts[b.ID] = &cp
	return nil
}

func (m *memStore) StartBroadcast(_ context.Context, id int64) (*types.Broadcast, error) {
	b, ok := m.broadcasts[id]
	if !ok || b.Status != types.BroadcastDraft {
		return nil, types.ErrNotFound
	}
	b.Status = types.BroadcastSending
	cp := *b
	return &cp, nil
}

func (m *memStore) ReleaseBroadcast(_ context.Context, id int64) error {
	if b, ok := m.broadcasts[id]; ok && b.Status == types.BroadcastSending {
		b.Status = types.BroadcastDraft
	}
	return nil
}

func (m *memStore) CompleteBroadcast(_ context.Context, id int64, stats types.BroadcastStats) error {
	m.broadcasts[id].Status = types.BroadcastCompleted
	m.completed[id] = stats
	return nil
}

func (m *memStore) Recipients(context.Context, types.BroadcastSegment, string, time.Time) ([]int64, error) {
	if len(m.recipientErrs) > 0 {
		err := m.recipientErrs[0]
		m.recipientErrs = m.recipientErrs[1:]
		return nil, err
	}
	return m.recipients, nil
}

type memQueue struct {
	payloads []Payload
}

func (q *memQueue) Enqueue(_ context.Context, kind types.TaskKind, payload any, _ time.Duration) (string, error) {
	if kind != types.TaskBroadcast {
		return "", errors.New("unexpected kind")
	}
	q.payloads = append(q.payloads, payload.(Payload))
	return "t1", nil
}

type flakySender struct {
	fail map[int64]bool
	sent []int64
}

func (s *flakySender) Send(_ context.Context, chatID int64, msg delivery.Message) error {
	if s.fail[chatID] {
		return errors.New("bot was blocked by the user")
	}
	if msg.Kind != delivery.KindText {
		return errors.New("broadcasts are text")
	}
	s.sent = append(s.sent, chatID)
	return nil
}

func TestCreateAndRun(t *testing.T) {
	store := newMemStore(1, 2, 3)
	queue := &memQueue{}
	sender := &flakySender{fail: map[int64]bool{2: true}}
	svc := NewService(store, queue, sender, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	b, err := svc.Create(ctx, "  Новости клуба ", types.SegmentTag, "vip", 42)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.Status != types.BroadcastDraft || b.Text != "Новости клуба" {
		t.Fatalf("draft = %+v", b)
	}
	if len(queue.payloads) != 1 || queue.payloads[0].BroadcastID != b.ID {
		t.Fatalf("queued = %+v", queue.payloads)
	}

	stats, err := svc.Run(ctx, b.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := types.BroadcastStats{Total: 3, Sent: 2, Failed: 1}
	if stats != want || store.completed[b.ID] != want {
		t.Fatalf("stats = %+v, stored %+v", stats, store.completed[b.ID])
	}
	if store.broadcasts[b.ID].Status != types.BroadcastCompleted {
		t.Fatalf("status = %s", store.broadcasts[b.ID].Status)
	}

	again, err := svc.Run(ctx, b.ID)
	if err != nil || again != (types.BroadcastStats{}) {
		t.Fatalf("second run = %+v, %v", again, err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("second run resent: %v", sender.sent)
	}
}

func TestCreateRejectsEmptyText(t *testing.T) {
	svc := NewService(newMemStore(), &memQueue{}, &flakySender{}, 0, nil)
	if _, err := svc.Create(context.Background(), "   ", types.SegmentAll, "", 1); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunRetriesAfterRecipientLookupFailure(t *testing.T) {
	store := newMemStore(1, 2)
	store.recipientErrs = []error{errors.New("db timeout")}
	sender := &flakySender{}
	svc := NewService(store, &memQueue{}, sender, 0, nil)
	ctx := context.Background()

	b, err := svc.Create(ctx, "hello", types.SegmentAll, "", 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Run(ctx, b.ID); err == nil {
		t.Fatal("lookup failure swallowed")
	}
	if store.broadcasts[b.ID].Status != types.BroadcastDraft {
		t.Fatalf("status after failed lookup = %s", store.broadcasts[b.ID].Status)
	}

	stats, err := svc.Run(ctx, b.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if stats.Sent != 2 || len(sender.sent) != 2 {
		t.Fatalf("retry stats = %+v, sent %v", stats, sender.sent)
	}
	if store.broadcasts[b.ID].Status != types.BroadcastCompleted {
		t.Fatalf("status = %s", store.broadcasts[b.ID].Status)
	}
}
