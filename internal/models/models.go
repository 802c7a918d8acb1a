// package models contains the canonical domain types shared by the
// governance engine, its stores, and the HTTP layer.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RiskTier is the coarse impact classification of an action type.
type RiskTier string

const (
	RiskTierLow      RiskTier = "low"
	RiskTierMedium   RiskTier = "medium"
	RiskTierHigh     RiskTier = "high"
	RiskTierCritical RiskTier = "critical"
)

// Valid reports whether t is one of the four known tiers.
func (t RiskTier) Valid() bool {
	switch t {
	case RiskTierLow, RiskTierMedium, RiskTierHigh, RiskTierCritical:
		return true
	}
	return false
}

// ProposalStatus is the lifecycle state of a proposal. Every status except
// pending is terminal; no transition exists out of a terminal state.
type ProposalStatus string

const (
	StatusPending           ProposalStatus = "pending"
	StatusAutoApproved      ProposalStatus = "auto_approved"
	StatusApproved          ProposalStatus = "approved"
	StatusRejected          ProposalStatus = "rejected"
	StatusPartiallyApproved ProposalStatus = "partially_approved"
	StatusExpired           ProposalStatus = "expired"
)

// Terminal reports whether s accepts no further transitions.
func (s ProposalStatus) Terminal() bool {
	return s != StatusPending
}

// DecisionOutcome is a reviewer's resolution of a whole proposal.
type DecisionOutcome string

const (
	OutcomeApproved          DecisionOutcome = "approved"
	OutcomeRejected          DecisionOutcome = "rejected"
	OutcomePartiallyApproved DecisionOutcome = "partially_approved"
)

// Valid reports whether o is a known outcome.
func (o DecisionOutcome) Valid() bool {
	switch o {
	case OutcomeApproved, OutcomeRejected, OutcomePartiallyApproved:
		return true
	}
	return false
}

// Status returns the proposal status a decision outcome maps to.
func (o DecisionOutcome) Status() ProposalStatus {
	switch o {
	case OutcomeApproved:
		return StatusApproved
	case OutcomeRejected:
		return StatusRejected
	case OutcomePartiallyApproved:
		return StatusPartiallyApproved
	}
	return StatusPending
}

// ComponentOutcome is the per-component sub-decision state of a bundle.
type ComponentOutcome string

const (
	ComponentPending  ComponentOutcome = "pending"
	ComponentApproved ComponentOutcome = "approved"
	ComponentRejected ComponentOutcome = "rejected"
)

// Proposal is a candidate action submitted by an agent, awaiting resolution.
// RiskTier is derived once at creation and immutable thereafter.
type Proposal struct {
	ID                 uuid.UUID       `json:"id"`
	WorkspaceID        uuid.UUID       `json:"workspaceId"`
	AgentType          string          `json:"agentType"`
	ActionType         string          `json:"actionType"`
	RiskTier           RiskTier        `json:"riskTier"`
	Payload            json.RawMessage `json:"payload"`
	Components         []string        `json:"components,omitempty"`
	EstimatedCostCents int64           `json:"estimatedCostCents,omitempty"`
	Status             ProposalStatus  `json:"status"`
	AutoApproved       bool            `json:"autoApproved"`
	SupersedesID       *uuid.UUID      `json:"supersedesId,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	ExpiresAt          time.Time       `json:"expiresAt"`
}

// Bundled reports whether the proposal carries independently approvable
// components.
func (p Proposal) Bundled() bool {
	return len(p.Components) > 0
}

// ComponentDecision records the sub-decision for one component of a bundle.
// Immutable once Decision is non-pending.
type ComponentDecision struct {
	ProposalID   uuid.UUID        `json:"proposalId"`
	ComponentKey string           `json:"componentKey"`
	Decision     ComponentOutcome `json:"decision"`
	DecidedAt    time.Time        `json:"decidedAt"`
}

// Decision is the terminal manual resolution of a whole proposal.
type Decision struct {
	ProposalID uuid.UUID       `json:"proposalId"`
	Outcome    DecisionOutcome `json:"outcome"`
	ReviewerID string          `json:"reviewerId"`
	Reason     string          `json:"reason,omitempty"`
	DecidedAt  time.Time       `json:"decidedAt"`
}

// AutopilotPolicy bounds automatic execution for one workspace. A zero
// MaxDailyBudgetCents disables autopilot for any action carrying a cost.
type AutopilotPolicy struct {
	WorkspaceID         uuid.UUID `json:"workspaceId"`
	AllowedActionTypes  []string  `json:"allowedActionTypes"`
	MaxActionsPerWeek   int       `json:"maxActionsPerWeek"`
	MaxDailyBudgetCents int64     `json:"maxDailyBudgetCents"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// DefaultMaxActionsPerWeek applies when a workspace has no stored policy.
const DefaultMaxActionsPerWeek = 10

// DefaultPolicy returns the policy used for workspaces that never configured
// autopilot: nothing is allow-listed, so every proposal waits for review.
func DefaultPolicy(workspaceID uuid.UUID) AutopilotPolicy {
	return AutopilotPolicy{
		WorkspaceID:       workspaceID,
		MaxActionsPerWeek: DefaultMaxActionsPerWeek,
	}
}

// Allows reports whether actionType is on the autopilot allow-list.
func (p AutopilotPolicy) Allows(actionType string) bool {
	for _, t := range p.AllowedActionTypes {
		if t == actionType {
			return true
		}
	}
	return false
}
