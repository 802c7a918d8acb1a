package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pilotdesk/governance/internal/models"
)

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const proposalColumns = `id, workspace_id, agent_type, action_type, risk_tier, payload, components, estimated_cost_cents, status, auto_approved, supersedes_id, created_at, expires_at`

func scanProposal(row rowScanner) (models.Proposal, error) {
	var (
		p          models.Proposal
		payload    []byte
		components []byte
		supersedes uuid.NullUUID
	)
	if err := row.Scan(
		&p.ID,
		&p.WorkspaceID,
		&p.AgentType,
		&p.ActionType,
		&p.RiskTier,
		&payload,
		&components,
		&p.EstimatedCostCents,
		&p.Status,
		&p.AutoApproved,
		&supersedes,
		&p.CreatedAt,
		&p.ExpiresAt,
	); err != nil {
		return models.Proposal{}, err
	}
	p.Payload = append(json.RawMessage(nil), payload...)
	if len(components) > 0 {
		if err := json.Unmarshal(components, &p.Components); err != nil {
			return models.Proposal{}, fmt.Errorf("decode components: %w", err)
		}
	}
	if supersedes.Valid {
		id := supersedes.UUID
		p.SupersedesID = &id
	}
	return p, nil
}

func ensureJSON(raw json.RawMessage, fallback string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(fallback)
	}
	return raw
}

func (s *PGStore) CreateProposal(ctx context.Context, p models.Proposal) (models.Proposal, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	components, err := json.Marshal(p.Components)
	if err != nil {
		return models.Proposal{}, fmt.Errorf("encode components: %w", err)
	}
	var supersedes uuid.NullUUID
	if p.SupersedesID != nil {
		supersedes = uuid.NullUUID{UUID: *p.SupersedesID, Valid: true}
	}
	query := `
		INSERT INTO proposals (` + proposalColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING ` + proposalColumns
	row := s.db.QueryRowContext(ctx, query,
		p.ID, p.WorkspaceID, p.AgentType, p.ActionType, p.RiskTier,
		ensureJSON(p.Payload, "{}"), components, p.EstimatedCostCents,
		p.Status, p.AutoApproved, supersedes, p.CreatedAt, p.ExpiresAt,
	)
	created, err := scanProposal(row)
	if err != nil {
		return models.Proposal{}, fmt.Errorf("insert proposal: %w", err)
	}
	return created, nil
}

func (s *PGStore) GetProposal(ctx context.Context, id uuid.UUID) (models.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1`
	p, err := scanProposal(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Proposal{}, ErrNotFound
		}
		return models.Proposal{}, fmt.Errorf("get proposal: %w", err)
	}
	return p, nil
}

func (s *PGStore) ListProposals(ctx context.Context, filter ListFilter) ([]models.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE 1=1`
	args := []interface{}{}
	argPos := 1
	if filter.WorkspaceID != nil {
		query += fmt.Sprintf(" AND workspace_id = $%d", argPos)
		args = append(args, *filter.WorkspaceID)
		argPos++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, filter.Status)
		argPos++
	}
	query += " ORDER BY created_at DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	query += fmt.Sprintf(" LIMIT $%d", argPos)
	args = append(args, limit)
	argPos++
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []models.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return proposals, nil
}

func (s *PGStore) TransitionStatus(ctx context.Context, id uuid.UUID, to models.ProposalStatus) (models.Proposal, error) {
	query := `
		UPDATE proposals
		SET status = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + proposalColumns
	p, err := scanProposal(s.db.QueryRowContext(ctx, query, id, to))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Proposal{}, fmt.Errorf("transition proposal: %w", err)
	}
	// Guard did not match: distinguish missing from already-terminal.
	if _, gerr := s.GetProposal(ctx, id); gerr != nil {
		return models.Proposal{}, gerr
	}
	return models.Proposal{}, ErrNotPending
}

func (s *PGStore) PutComponentDecisions(ctx context.Context, proposalID uuid.UUID, decisions []models.ComponentDecision) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO component_decisions (proposal_id, component_key, decision, decided_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (proposal_id, component_key)
		DO UPDATE SET decision = $3, decided_at = $4
		WHERE component_decisions.decision = 'pending'
	`
	for _, d := range decisions {
		if _, err := tx.ExecContext(ctx, query, proposalID, d.ComponentKey, d.Decision, d.DecidedAt); err != nil {
			return fmt.Errorf("upsert component decision: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit component decisions: %w", err)
	}
	return nil
}

func (s *PGStore) ListComponentDecisions(ctx context.Context, proposalID uuid.UUID) ([]models.ComponentDecision, error) {
	const query = `
		SELECT proposal_id, component_key, decision, decided_at
		FROM component_decisions
		WHERE proposal_id = $1
		ORDER BY component_key
	`
	rows, err := s.db.QueryContext(ctx, query, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list component decisions: %w", err)
	}
	defer rows.Close()

	var out []models.ComponentDecision
	for rows.Next() {
		var d models.ComponentDecision
		if err := rows.Scan(&d.ProposalID, &d.ComponentKey, &d.Decision, &d.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan component decision: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate component decisions: %w", err)
	}
	return out, nil
}

func (s *PGStore) CreateDecision(ctx context.Context, d models.Decision) error {
	const query = `
		INSERT INTO decisions (proposal_id, outcome, reviewer_id, reason, decided_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.db.ExecContext(ctx, query, d.ProposalID, d.Outcome, d.ReviewerID, d.Reason, d.DecidedAt); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func (s *PGStore) GetDecision(ctx context.Context, proposalID uuid.UUID) (models.Decision, error) {
	const query = `
		SELECT proposal_id, outcome, reviewer_id, reason, decided_at
		FROM decisions
		WHERE proposal_id = $1
	`
	var d models.Decision
	err := s.db.QueryRowContext(ctx, query, proposalID).Scan(&d.ProposalID, &d.Outcome, &d.ReviewerID, &d.Reason, &d.DecidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Decision{}, ErrNotFound
	}
	if err != nil {
		return models.Decision{}, fmt.Errorf("get decision: %w", err)
	}
	return d, nil
}

func (s *PGStore) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Proposal, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + proposalColumns + `
		FROM proposals
		WHERE status = 'pending' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired pending: %w", err)
	}
	defer rows.Close()

	var proposals []models.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired pending: %w", err)
	}
	return proposals, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
