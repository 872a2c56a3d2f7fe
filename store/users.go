package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/BatmanBruc/club-subscription-bot/types"
)

const userColumns = `id, telegram_id, username, first_name, last_name, role, status, tags, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*types.User, error) {
	var (
		u      types.User
		role   string
		status string
	)
	err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName, &role, &status, &u.Tags, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	u.Role = types.UserRole(role)
	u.Status = types.UserStatus(status)
	return &u, nil
}

func getUserByID(ctx context.Context, q querier, userID int64) (*types.User, error) {
	return scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

func getUserByTelegramID(ctx context.Context, q querier, telegramID int64) (*types.User, error) {
	return scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID))
}

// UpsertUser creates the user on first contact and refreshes profile fields
// afterwards. An existing role is only ever raised to admin here.
func (s *PostgresStore) UpsertUser(ctx context.Context, user types.User) (*types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	role := user.Role
	if role == "" {
		role = types.RoleUser
	}
	u, err := scanUser(s.pool.QueryRow(ctx, `
INSERT INTO users (telegram_id, username, first_name, last_name, role)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (telegram_id) DO UPDATE SET
  username = EXCLUDED.username,
  first_name = EXCLUDED.first_name,
  last_name = EXCLUDED.last_name,
  role = CASE WHEN EXCLUDED.role = 'admin' THEN 'admin' ELSE users.role END,
  updated_at = NOW()
RETURNING `+userColumns,
		user.TelegramID, strings.TrimSpace(user.Username), strings.TrimSpace(user.FirstName), strings.TrimSpace(user.LastName), string(role)))
	if err != nil {
		return nil, fmt.Errorf("upsert user %d: %w", user.TelegramID, err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByTelegramID(ctx context.Context, telegramID int64) (*types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return getUserByTelegramID(ctx, s.pool, telegramID)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID int64) (*types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return getUserByID(ctx, s.pool, userID)
}

func (s *PostgresStore) SetRole(ctx context.Context, userID int64, role types.UserRole) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`, userID, string(role))
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddTag(ctx context.Context, userID int64, tag string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
UPDATE users SET tags = array_append(tags, $2), updated_at = NOW()
WHERE id = $1 AND NOT ($2 = ANY (tags))
`, userID, strings.TrimSpace(tag))
	if err != nil {
		return fmt.Errorf("add tag: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveTag(ctx context.Context, userID int64, tag string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
UPDATE users SET tags = array_remove(tags, $2), updated_at = NOW()
WHERE id = $1
`, userID, strings.TrimSpace(tag))
	if err != nil {
		return fmt.Errorf("remove tag: %w", err)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*types.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var st types.Stats
	err := s.pool.QueryRow(ctx, `
SELECT
  (SELECT COUNT(*) FROM users),
  (SELECT COUNT(DISTINCT user_id) FROM subscriptions WHERE status = 'active' AND end_date > NOW()),
  (SELECT COUNT(*) FROM payments WHERE status = 'completed')
`).Scan(&st.Users, &st.ActiveSubscribers, &st.CompletedPayments)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &st, nil
}
