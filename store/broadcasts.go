package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/types"
)

type broadcastContent struct {
	Text string `json:"text"`
}

func (s *PostgresStore) CreateBroadcast(ctx context.Context, b *types.Broadcast) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	content, err := json.Marshal(broadcastContent{Text: b.Text})
	if err != nil {
		return err
	}
	var tag *string
	if b.SegmentTag != "" {
		tag = &b.SegmentTag
	}
	b.Status = types.BroadcastDraft
	err = s.pool.QueryRow(ctx, `
INSERT INTO broadcasts (content, segment, segment_tag, status, created_by)
VALUES ($1, $2, $3, 'draft', $4)
RETURNING id, created_at
`, content, string(b.Segment), tag, b.CreatedBy).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return fmt.Errorf("create broadcast: %w", err)
	}
	return nil
}

// StartBroadcast claims a draft for sending. Anything not in draft, including
// a broadcast another worker already started, is reported as not found.
func (s *PostgresStore) StartBroadcast(ctx context.Context, broadcastID int64) (*types.Broadcast, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		b       types.Broadcast
		segment string
		status  string
		content []byte
	)
	err := s.pool.QueryRow(ctx, `
UPDATE broadcasts SET status = 'sending'
WHERE id = $1 AND status = 'draft'
RETURNING id, content, segment, COALESCE(segment_tag, ''), status, COALESCE(created_by, 0), created_at
`, broadcastID).Scan(&b.ID, &content, &segment, &b.SegmentTag, &status, &b.CreatedBy, &b.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	var c broadcastContent
	if err := json.Unmarshal(content, &c); err != nil {
		return nil, fmt.Errorf("broadcast %d content: %w", broadcastID, err)
	}
	b.Text = c.Text
	b.Segment = types.BroadcastSegment(segment)
	b.Status = types.BroadcastStatus(status)
	return &b, nil
}

// ReleaseBroadcast returns a started broadcast to draft. Only a broadcast
// still in sending is touched.
func (s *PostgresStore) ReleaseBroadcast(ctx context.Context, broadcastID int64) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
UPDATE broadcasts SET status = 'draft'
WHERE id = $1 AND status = 'sending'
`, broadcastID)
	if err != nil {
		return fmt.Errorf("release broadcast %d: %w", broadcastID, err)
	}
	return nil
}

func (s *PostgresStore) CompleteBroadcast(ctx context.Context, broadcastID int64, stats types.BroadcastStats) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
UPDATE broadcasts SET status = 'completed', stats = $2, completed_at = NOW()
WHERE id = $1
`, broadcastID, data)
	if err != nil {
		return fmt.Errorf("complete broadcast %d: %w", broadcastID, err)
	}
	return nil
}

func (s *PostgresStore) Recipients(ctx context.Context, segment types.BroadcastSegment, tag string, now time.Time) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var (
		sql  string
		args []any
	)
	switch segment {
	case types.SegmentAll:
		sql = `SELECT telegram_id FROM users WHERE status = 'active'`
	case types.SegmentSubscribers:
		sql = `
SELECT DISTINCT u.telegram_id
FROM users u
JOIN subscriptions s ON s.user_id = u.id
WHERE u.status = 'active' AND s.status = 'active' AND s.end_date > $1`
		args = append(args, now.UTC())
	case types.SegmentTag:
		if tag == "" {
			return nil, nil
		}
		sql = `SELECT telegram_id FROM users WHERE status = 'active' AND $1 = ANY (tags)`
		args = append(args, tag)
	default:
		return nil, fmt.Errorf("unknown segment %q", segment)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("recipients %s: %w", segment, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
