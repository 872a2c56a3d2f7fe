package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/types"
)

const scenarioColumns = `id, name, json_structure, is_active, subscription_required, created_at, updated_at`

func scanScenario(row interface{ Scan(...any) error }) (*types.Scenario, error) {
	var (
		sc  types.Scenario
		def []byte
	)
	if err := row.Scan(&sc.ID, &sc.Name, &def, &sc.IsActive, &sc.SubscriptionRequired, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	sc.Definition = json.RawMessage(def)
	return &sc, nil
}

func (s *PostgresStore) GetScenario(ctx context.Context, scenarioID int64) (*types.Scenario, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return scanScenario(s.pool.QueryRow(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE id = $1`, scenarioID))
}

func (s *PostgresStore) GetScenarioByName(ctx context.Context, name string) (*types.Scenario, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return scanScenario(s.pool.QueryRow(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE name = $1`, name))
}

func (s *PostgresStore) UpsertScenario(ctx context.Context, sc *types.Scenario) (*types.Scenario, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	out, err := scanScenario(s.pool.QueryRow(ctx, `
INSERT INTO scenarios (name, json_structure, is_active, subscription_required)
VALUES ($1, $2, $3, $4)
ON CONFLICT (name) DO UPDATE SET
  json_structure = EXCLUDED.json_structure,
  is_active = EXCLUDED.is_active,
  subscription_required = EXCLUDED.subscription_required,
  updated_at = NOW()
RETURNING `+scenarioColumns,
		sc.Name, []byte(sc.Definition), sc.IsActive, sc.SubscriptionRequired))
	if err != nil {
		return nil, fmt.Errorf("upsert scenario %q: %w", sc.Name, err)
	}
	return out, nil
}

const progressColumns = `user_id, scenario_id, current_step_id, state, started_at, updated_at`

func scanProgress(row interface{ Scan(...any) error }) (*types.ScenarioProgress, error) {
	var (
		p     types.ScenarioProgress
		state []byte
	)
	if err := row.Scan(&p.UserID, &p.ScenarioID, &p.CurrentStepID, &state, &p.StartedAt, &p.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	if len(state) > 0 {
		p.State = json.RawMessage(state)
	}
	return &p, nil
}

func (s *PostgresStore) GetProgress(ctx context.Context, userID, scenarioID int64) (*types.ScenarioProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return scanProgress(s.pool.QueryRow(ctx, `
SELECT `+progressColumns+`
FROM user_scenario_progress
WHERE user_id = $1 AND scenario_id = $2
`, userID, scenarioID))
}

func (s *PostgresStore) LatestProgress(ctx context.Context, userID int64) (*types.ScenarioProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return scanProgress(s.pool.QueryRow(ctx, `
SELECT `+progressColumns+`
FROM user_scenario_progress
WHERE user_id = $1
ORDER BY updated_at DESC
LIMIT 1
`, userID))
}

// SaveProgress moves the cursor. A non-zero StartedAt marks a fresh run and
// resets the start timestamp.
func (s *PostgresStore) SaveProgress(ctx context.Context, p *types.ScenarioProgress) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var startedAt *time.Time
	if !p.StartedAt.IsZero() {
		t := p.StartedAt.UTC()
		startedAt = &t
	}
	var state []byte
	if len(p.State) > 0 {
		state = p.State
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO user_scenario_progress (user_id, scenario_id, current_step_id, state, started_at)
VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
ON CONFLICT (user_id, scenario_id) DO UPDATE SET
  current_step_id = EXCLUDED.current_step_id,
  state = EXCLUDED.state,
  started_at = COALESCE($5, user_scenario_progress.started_at),
  updated_at = NOW()
`, p.UserID, p.ScenarioID, p.CurrentStepID, state, startedAt)
	if err != nil {
		return fmt.Errorf("save progress user=%d scenario=%d: %w", p.UserID, p.ScenarioID, err)
	}
	return nil
}
