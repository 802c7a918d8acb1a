package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pilotdesk/governance/internal/models"
)

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Get(ctx context.Context, workspaceID uuid.UUID) (models.AutopilotPolicy, error) {
	const query = `
		SELECT workspace_id, allowed_action_types, max_actions_per_week, max_daily_budget_cents, updated_at
		FROM autopilot_policies
		WHERE workspace_id = $1
	`
	var (
		p       models.AutopilotPolicy
		allowed []byte
	)
	err := s.db.QueryRowContext(ctx, query, workspaceID).Scan(
		&p.WorkspaceID,
		&allowed,
		&p.MaxActionsPerWeek,
		&p.MaxDailyBudgetCents,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultPolicy(workspaceID), nil
	}
	if err != nil {
		return models.AutopilotPolicy{}, fmt.Errorf("get policy: %w", err)
	}
	if len(allowed) > 0 {
		if err := json.Unmarshal(allowed, &p.AllowedActionTypes); err != nil {
			return models.AutopilotPolicy{}, fmt.Errorf("decode allowed action types: %w", err)
		}
	}
	return p, nil
}

func (s *PGStore) Put(ctx context.Context, p models.AutopilotPolicy) (models.AutopilotPolicy, error) {
	allowed, err := json.Marshal(p.AllowedActionTypes)
	if err != nil {
		return models.AutopilotPolicy{}, fmt.Errorf("encode allowed action types: %w", err)
	}
	const query = `
		INSERT INTO autopilot_policies (workspace_id, allowed_action_types, max_actions_per_week, max_daily_budget_cents, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (workspace_id)
		DO UPDATE SET allowed_action_types = $2, max_actions_per_week = $3, max_daily_budget_cents = $4, updated_at = NOW()
		RETURNING updated_at
	`
	if err := s.db.QueryRowContext(ctx, query, p.WorkspaceID, allowed, p.MaxActionsPerWeek, p.MaxDailyBudgetCents).Scan(&p.UpdatedAt); err != nil {
		return models.AutopilotPolicy{}, fmt.Errorf("upsert policy: %w", err)
	}
	return p, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
