package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/internal/delivery"
	"github.com/BatmanBruc/club-subscription-bot/types"
)

var ErrBadSegment = errors.New("segment must be all, subscribers or tag:<name>")

// Payload is the queued body of a broadcast task.
type Payload struct {
	BroadcastID int64 `json:"broadcast_id"`
}

// ParseSegment reads the admin notation all | subscribers | tag:<name>.
func ParseSegment(s string) (types.BroadcastSegment, string, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.EqualFold(s, string(types.SegmentAll)):
		return types.SegmentAll, "", nil
	case strings.EqualFold(s, string(types.SegmentSubscribers)):
		return types.SegmentSubscribers, "", nil
	}
	prefix, tag, ok := strings.Cut(s, ":")
	if !ok || !strings.EqualFold(prefix, string(types.SegmentTag)) || strings.TrimSpace(tag) == "" {
		return "", "", ErrBadSegment
	}
	return types.SegmentTag, strings.TrimSpace(tag), nil
}

type Service struct {
	store  types.BroadcastStore
	queue  types.TaskEnqueuer
	sender delivery.Sender
	pause  time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewService paces sends by pause to stay under the bot API rate limit.
func NewService(store types.BroadcastStore, queue types.TaskEnqueuer, sender delivery.Sender, pause time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		queue:  queue,
		sender: sender,
		pause:  pause,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "broadcast"),
	}
}

// Create stores a draft and queues it for sending.
func (s *Service) Create(ctx context.Context, text string, segment types.BroadcastSegment, tag string, createdBy int64) (*types.Broadcast, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("broadcast text is empty")
	}
	b := &types.Broadcast{
		Text:       text,
		Segment:    segment,
		SegmentTag: tag,
		Status:     types.BroadcastDraft,
		CreatedBy:  createdBy,
	}
	if err := s.store.CreateBroadcast(ctx, b); err != nil {
		return nil, fmt.Errorf("create broadcast: %w", err)
	}
	if _, err := s.queue.Enqueue(ctx, types.TaskBroadcast, Payload{BroadcastID: b.ID}, 0); err != nil {
		return nil, fmt.Errorf("enqueue broadcast %d: %w", b.ID, err)
	}
	s.logger.Info("broadcast queued", "broadcast_id", b.ID, "segment", segment, "tag", tag, "created_by", createdBy)
	return b, nil
}

// Run sends a draft broadcast. A broadcast that is no longer a draft was
// already taken by an earlier run and is skipped.
func (s *Service) Run(ctx context.Context, id int64) (types.BroadcastStats, error) {
	b, err := s.store.StartBroadcast(ctx, id)
	if errors.Is(err, types.ErrNotFound) {
		s.logger.Info("broadcast not found or not a draft", "broadcast_id", id)
		return types.BroadcastStats{}, nil
	}
	if err != nil {
		return types.BroadcastStats{}, fmt.Errorf("start broadcast %d: %w", id, err)
	}

	recipients, err := s.store.Recipients(ctx, b.Segment, b.SegmentTag, s.now())
	if err != nil {
		// nothing was sent yet, hand the draft back so the retry can claim it
		if rerr := s.store.ReleaseBroadcast(context.WithoutCancel(ctx), id); rerr != nil {
			s.logger.Error("release broadcast failed", "broadcast_id", id, "error", rerr)
		}
		return types.BroadcastStats{}, fmt.Errorf("recipients for %d: %w", id, err)
	}

	stats := types.BroadcastStats{Total: len(recipients)}
	msg := delivery.Message{Kind: delivery.KindText, Text: b.Text}
	for i, chatID := range recipients {
		if i > 0 && s.pause > 0 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(s.pause):
			}
		}
		if err := s.sender.Send(ctx, chatID, msg); err != nil {
			stats.Failed++
			s.logger.Debug("broadcast send failed", "broadcast_id", id, "chat_id", chatID, "error", err)
			continue
		}
		stats.Sent++
	}

	// the outcome is recorded even when the run context is gone
	if err := s.store.CompleteBroadcast(context.WithoutCancel(ctx), id, stats); err != nil {
		return stats, fmt.Errorf("complete broadcast %d: %w", id, err)
	}
	s.logger.Info("broadcast completed", "broadcast_id", id, "total", stats.Total, "sent", stats.Sent, "failed", stats.Failed)
	return stats, nil
}
