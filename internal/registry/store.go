// package registry is the authoritative store of proposals, their component
// sub-decisions, and terminal decision records. The only mutation it offers
// on a proposal is the pending-only status transition; everything else is
// append or create, so history cannot be rewritten.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pilotdesk/governance/internal/models"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrNotPending is returned by TransitionStatus when the proposal has
	// already left pending: the competing transition committed first.
	ErrNotPending = errors.New("proposal not pending")
)

// ListFilter narrows ListProposals. A zero Status matches all statuses.
type ListFilter struct {
	WorkspaceID *uuid.UUID
	Status      models.ProposalStatus
	Limit       int
	Offset      int
}

// Store is the proposal persistence abstraction shared by the in-memory and
// Postgres implementations.
type Store interface {
	CreateProposal(ctx context.Context, p models.Proposal) (models.Proposal, error)
	GetProposal(ctx context.Context, id uuid.UUID) (models.Proposal, error)
	ListProposals(ctx context.Context, filter ListFilter) ([]models.Proposal, error)

	// TransitionStatus moves a proposal out of pending. It is the optimistic
	// concurrency point: the guard only matches status=pending, so whichever
	// of decide/expire commits first wins and the loser gets ErrNotPending.
	TransitionStatus(ctx context.Context, id uuid.UUID, to models.ProposalStatus) (models.Proposal, error)

	PutComponentDecisions(ctx context.Context, proposalID uuid.UUID, decisions []models.ComponentDecision) error
	ListComponentDecisions(ctx context.Context, proposalID uuid.UUID) ([]models.ComponentDecision, error)

	CreateDecision(ctx context.Context, d models.Decision) error
	GetDecision(ctx context.Context, proposalID uuid.UUID) (models.Decision, error)

	// ListExpiredPending returns pending proposals whose expires_at is in the
	// past, oldest first, for the expiry sweep.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Proposal, error)

	Ping(ctx context.Context) error
}
