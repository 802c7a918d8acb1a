// package service implements the governance engine: it decides whether a
// proposed agent action executes automatically or waits for a human, applies
// manual decisions, and expires stale proposals. Every transition is written
// to the audit sink before the state mutation commits.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/pilotdesk/governance/internal/audit"
	"github.com/pilotdesk/governance/internal/ledger"
	"github.com/pilotdesk/governance/internal/models"
	"github.com/pilotdesk/governance/internal/policy"
	"github.com/pilotdesk/governance/internal/registry"
	"github.com/pilotdesk/governance/internal/risk"
)

// DefaultSLA is how long a pending proposal waits for a decision before the
// sweep expires it.
const DefaultSLA = 7 * 24 * time.Hour

type Service struct {
	registry   registry.Store
	policies   policy.Store
	ledger     ledger.Ledger
	classifier *risk.Classifier
	audit      audit.Sink
	sla        time.Duration
	locks      *workspaceLocks
	now        func() time.Time
}

type Config struct {
	// SLA overrides DefaultSLA when positive.
	SLA time.Duration
}

func New(reg registry.Store, pol policy.Store, led ledger.Ledger, cls *risk.Classifier, sink audit.Sink, cfg Config) *Service {
	sla := cfg.SLA
	if sla <= 0 {
		sla = DefaultSLA
	}
	return &Service{
		registry:   reg,
		policies:   pol,
		ledger:     led,
		classifier: cls,
		audit:      sink,
		sla:        sla,
		locks:      newWorkspaceLocks(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type SubmitRequest struct {
	WorkspaceID        uuid.UUID       `json:"workspaceId"`
	AgentType          string          `json:"agentType"`
	ActionType         string          `json:"actionType"`
	Payload            json.RawMessage `json:"payload"`
	Components         []string        `json:"components"`
	EstimatedCostCents int64           `json:"estimatedCostCents"`
	SupersedesID       *uuid.UUID      `json:"supersedesId"`
}

// reservations tracks speculative ledger grants so a failed submit can
// return them.
type reservations struct {
	workspaceID uuid.UUID
	weekBucket  string
	week        bool
	dayBucket   string
	spendCents  int64
}

func (s *Service) release(ctx context.Context, r reservations) {
	if r.week {
		if err := s.ledger.ReleaseAction(ctx, r.workspaceID, r.weekBucket); err != nil {
			log.Printf("[governance] release weekly reservation ws=%s: %v", r.workspaceID, err)
		}
	}
	if r.spendCents > 0 {
		if err := s.ledger.ReleaseSpend(ctx, r.workspaceID, r.dayBucket, r.spendCents); err != nil {
			log.Printf("[governance] release spend reservation ws=%s: %v", r.workspaceID, err)
		}
	}
}

// Submit registers a proposal and evaluates autopilot eligibility
// synchronously. Eligible proposals come back auto_approved and terminal;
// everything else stays pending for manual review. Autopilot declines are
// not errors.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (models.Proposal, error) {
	if req.WorkspaceID == uuid.Nil {
		return models.Proposal{}, fmt.Errorf("%w: workspace", ErrNotFound)
	}
	if req.AgentType == "" || req.ActionType == "" {
		return models.Proposal{}, fmt.Errorf("%w: agentType and actionType required", ErrInvalidArgument)
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		return models.Proposal{}, fmt.Errorf("%w: malformed payload", ErrInvalidArgument)
	}
	if req.EstimatedCostCents < 0 {
		return models.Proposal{}, fmt.Errorf("%w: estimatedCostCents must be >= 0", ErrInvalidArgument)
	}
	seen := map[string]bool{}
	for _, key := range req.Components {
		if key == "" {
			return models.Proposal{}, fmt.Errorf("%w: empty component key", ErrInvalidArgument)
		}
		if seen[key] {
			return models.Proposal{}, fmt.Errorf("%w: duplicate component %q", ErrInvalidArgument, key)
		}
		seen[key] = true
	}
	if req.SupersedesID != nil {
		if _, err := s.registry.GetProposal(ctx, *req.SupersedesID); err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				return models.Proposal{}, fmt.Errorf("%w: superseded proposal", ErrNotFound)
			}
			return models.Proposal{}, err
		}
	}

	now := s.now()
	p := models.Proposal{
		ID:                 uuid.New(),
		WorkspaceID:        req.WorkspaceID,
		AgentType:          req.AgentType,
		ActionType:         req.ActionType,
		RiskTier:           s.classifier.Classify(req.ActionType),
		Payload:            req.Payload,
		Components:         req.Components,
		EstimatedCostCents: req.EstimatedCostCents,
		Status:             models.StatusPending,
		SupersedesID:       req.SupersedesID,
		CreatedAt:          now,
		ExpiresAt:          now.Add(s.sla),
	}

	unlock := s.locks.Lock(p.WorkspaceID)
	defer unlock()

	eligible, res := s.evaluateAutopilot(ctx, p, now)
	if eligible {
		p.Status = models.StatusAutoApproved
		p.AutoApproved = true
	}

	created := audit.Entry{
		ProposalID:  p.ID,
		WorkspaceID: p.WorkspaceID,
		Event:       audit.EventCreated,
		Actor:       audit.ActorSystem,
		Detail:      mustDetail(map[string]interface{}{"agentType": p.AgentType, "actionType": p.ActionType, "riskTier": p.RiskTier}),
		Ts:          now,
	}
	if err := s.audit.Append(ctx, &created); err != nil {
		s.release(ctx, res)
		return models.Proposal{}, fmt.Errorf("%w: %v", ErrAuditWriteFailed, err)
	}
	if eligible {
		auto := audit.Entry{
			ProposalID:  p.ID,
			WorkspaceID: p.WorkspaceID,
			Event:       audit.EventAutoApproved,
			Actor:       audit.ActorSystem,
			Detail:      mustDetail(map[string]interface{}{"actionType": p.ActionType, "estimatedCostCents": p.EstimatedCostCents}),
			Ts:          now,
		}
		if err := s.audit.Append(ctx, &auto); err != nil {
			s.release(ctx, res)
			return models.Proposal{}, fmt.Errorf("%w: %v", ErrAuditWriteFailed, err)
		}
	}

	stored, err := s.registry.CreateProposal(ctx, p)
	if err != nil {
		s.release(ctx, res)
		return models.Proposal{}, fmt.Errorf("create proposal: %w", err)
	}
	return stored, nil
}

// evaluateAutopilot checks eligibility and makes the ledger reservations.
// Policy lookup failures degrade to "requires manual review"; they never
// fail the submit. The returned reservations must be released if the submit
// does not commit.
func (s *Service) evaluateAutopilot(ctx context.Context, p models.Proposal, now time.Time) (bool, reservations) {
	res := reservations{workspaceID: p.WorkspaceID}

	// Critical actions never execute without a human, regardless of policy.
	if p.RiskTier == models.RiskTierCritical {
		return false, res
	}

	pol, err := s.policies.Get(ctx, p.WorkspaceID)
	if err != nil {
		log.Printf("[governance] policy lookup ws=%s failed, requiring manual review: %v", p.WorkspaceID, err)
		return false, res
	}
	if !pol.Allows(p.ActionType) {
		return false, res
	}

	res.weekBucket = ledger.WeekBucket(now)
	grant, err := s.ledger.ReserveAction(ctx, p.WorkspaceID, res.weekBucket, pol.MaxActionsPerWeek)
	if err != nil {
		log.Printf("[governance] weekly reservation ws=%s failed, requiring manual review: %v", p.WorkspaceID, err)
		return false, res
	}
	if !grant.Granted {
		return false, res
	}
	res.week = true

	if p.EstimatedCostCents > 0 {
		if pol.MaxDailyBudgetCents <= 0 {
			s.release(ctx, res)
			return false, reservations{workspaceID: p.WorkspaceID}
		}
		res.dayBucket = ledger.DayBucket(now)
		spend, err := s.ledger.ReserveSpend(ctx, p.WorkspaceID, res.dayBucket, p.EstimatedCostCents, pol.MaxDailyBudgetCents)
		if err != nil || !spend.Granted {
			if err != nil {
				log.Printf("[governance] spend reservation ws=%s failed, requiring manual review: %v", p.WorkspaceID, err)
			}
			s.release(ctx, res)
			return false, reservations{workspaceID: p.WorkspaceID}
		}
		res.spendCents = p.EstimatedCostCents
	}

	return true, res
}

type DecideRequest struct {
	ReviewerID         string                             `json:"reviewerId"`
	Outcome            models.DecisionOutcome             `json:"outcome"`
	Reason             string                             `json:"reason"`
	ComponentDecisions map[string]models.ComponentOutcome `json:"componentDecisions"`
}

// Decide applies a reviewer's resolution. Re-sending an identical decision
// for an already-decided proposal is a no-op returning the terminal state;
// a different outcome is a conflict.
func (s *Service) Decide(ctx context.Context, proposalID uuid.UUID, req DecideRequest) (models.Proposal, error) {
	if req.ReviewerID == "" {
		return models.Proposal{}, fmt.Errorf("%w: reviewerId required", ErrInvalidArgument)
	}
	if !req.Outcome.Valid() {
		return models.Proposal{}, fmt.Errorf("%w: unknown outcome %q", ErrInvalidArgument, req.Outcome)
	}

	p, err := s.getProposal(ctx, proposalID)
	if err != nil {
		return models.Proposal{}, err
	}

	unlock := s.locks.Lock(p.WorkspaceID)
	defer unlock()

	// Re-read under the lock; a concurrent decide or sweep may have won.
	p, err = s.getProposal(ctx, proposalID)
	if err != nil {
		return models.Proposal{}, err
	}

	now := s.now()
	if p.Status.Terminal() {
		return s.terminalDecideResult(ctx, p, req)
	}
	if now.After(p.ExpiresAt) {
		// The sweep should have caught this; transition defensively.
		if _, err := s.expireLocked(ctx, p, now); err != nil {
			return models.Proposal{}, err
		}
		return models.Proposal{}, fmt.Errorf("%w: expired at %s", ErrExpired, p.ExpiresAt.Format(time.RFC3339))
	}

	effective, components, err := s.resolveOutcome(p, req, now)
	if err != nil {
		return models.Proposal{}, err
	}
	if effective == models.OutcomeRejected && req.Reason == "" {
		return models.Proposal{}, fmt.Errorf("%w: reason required when rejecting", ErrInvalidArgument)
	}

	detail := map[string]interface{}{"outcome": effective}
	if req.Reason != "" {
		detail["reason"] = req.Reason
	}
	if len(components) > 0 {
		byKey := map[string]models.ComponentOutcome{}
		for _, c := range components {
			byKey[c.ComponentKey] = c.Decision
		}
		detail["components"] = byKey
	}
	entry := audit.Entry{
		ProposalID:  p.ID,
		WorkspaceID: p.WorkspaceID,
		Event:       outcomeEvent(effective),
		Actor:       audit.ActorUser(req.ReviewerID),
		Detail:      mustDetail(detail),
		Ts:          now,
	}
	if err := s.audit.Append(ctx, &entry); err != nil {
		return models.Proposal{}, fmt.Errorf("%w: %v", ErrAuditWriteFailed, err)
	}

	if len(components) > 0 {
		if err := s.registry.PutComponentDecisions(ctx, p.ID, components); err != nil {
			return models.Proposal{}, fmt.Errorf("persist component decisions: %w", err)
		}
	}
	if err := s.registry.CreateDecision(ctx, models.Decision{
		ProposalID: p.ID,
		Outcome:    effective,
		ReviewerID: req.ReviewerID,
		Reason:     req.Reason,
		DecidedAt:  now,
	}); err != nil {
		return models.Proposal{}, fmt.Errorf("persist decision: %w", err)
	}

	updated, err := s.registry.TransitionStatus(ctx, p.ID, effective.Status())
	if err != nil {
		if errors.Is(err, registry.ErrNotPending) {
			return models.Proposal{}, fmt.Errorf("%w: concurrent transition", ErrConflict)
		}
		return models.Proposal{}, fmt.Errorf("transition proposal: %w", err)
	}
	return updated, nil
}

// terminalDecideResult handles a decide call against an already-terminal
// proposal: identical outcome is idempotent, expired is Expired, anything
// else is Conflict.
func (s *Service) terminalDecideResult(ctx context.Context, p models.Proposal, req DecideRequest) (models.Proposal, error) {
	if p.Status == models.StatusExpired {
		return models.Proposal{}, fmt.Errorf("%w: expired at %s", ErrExpired, p.ExpiresAt.Format(time.RFC3339))
	}
	prev, err := s.registry.GetDecision(ctx, p.ID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return models.Proposal{}, fmt.Errorf("%w: status %s", ErrConflict, p.Status)
		}
		return models.Proposal{}, err
	}
	// A retried bundle request can declare the pre-normalization outcome
	// (partially_approved with uniform components); compare what the request
	// resolves to, not what it says.
	effective := req.Outcome
	if resolved, _, rerr := s.resolveOutcome(p, req, prev.DecidedAt); rerr == nil {
		effective = resolved
	}
	if prev.Outcome == effective {
		return p, nil
	}
	return models.Proposal{}, fmt.Errorf("%w: status %s", ErrConflict, p.Status)
}

// resolveOutcome validates the request against the proposal shape and
// normalizes bundle outcomes: all-approved collapses to approved,
// all-rejected to rejected, and partially_approved is reserved for genuinely
// mixed component decisions.
func (s *Service) resolveOutcome(p models.Proposal, req DecideRequest, now time.Time) (models.DecisionOutcome, []models.ComponentDecision, error) {
	if !p.Bundled() {
		if len(req.ComponentDecisions) > 0 {
			return "", nil, fmt.Errorf("%w: proposal has no components", ErrInvalidArgument)
		}
		if req.Outcome == models.OutcomePartiallyApproved {
			return "", nil, fmt.Errorf("%w: partially_approved requires components", ErrInvalidArgument)
		}
		return req.Outcome, nil, nil
	}

	perKey := req.ComponentDecisions
	if len(perKey) == 0 {
		// Whole-bundle approve/reject applies the outcome to every component.
		if req.Outcome == models.OutcomePartiallyApproved {
			return "", nil, fmt.Errorf("%w: partially_approved requires component decisions", ErrInvalidArgument)
		}
		perKey = map[string]models.ComponentOutcome{}
		uniform := models.ComponentApproved
		if req.Outcome == models.OutcomeRejected {
			uniform = models.ComponentRejected
		}
		for _, key := range p.Components {
			perKey[key] = uniform
		}
	}

	known := map[string]bool{}
	for _, key := range p.Components {
		known[key] = true
	}
	for key := range perKey {
		if !known[key] {
			return "", nil, fmt.Errorf("%w: unknown component %q", ErrInvalidArgument, key)
		}
	}

	var (
		components []models.ComponentDecision
		approved   int
		rejected   int
	)
	for _, key := range p.Components {
		d, ok := perKey[key]
		if !ok {
			return "", nil, fmt.Errorf("%w: missing decision for component %q", ErrInvalidArgument, key)
		}
		switch d {
		case models.ComponentApproved:
			approved++
		case models.ComponentRejected:
			rejected++
		default:
			return "", nil, fmt.Errorf("%w: component %q must be approved or rejected", ErrInvalidArgument, key)
		}
		components = append(components, models.ComponentDecision{
			ProposalID:   p.ID,
			ComponentKey: key,
			Decision:     d,
			DecidedAt:    now,
		})
	}

	switch {
	case rejected == 0:
		return models.OutcomeApproved, components, nil
	case approved == 0:
		return models.OutcomeRejected, components, nil
	default:
		return models.OutcomePartiallyApproved, components, nil
	}
}

// ExpireStale transitions pending proposals past their SLA to expired and
// returns how many it moved. Safe to run concurrently with decide: the
// pending-only transition guard makes the race first-committed-wins.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := s.registry.ListExpiredPending(ctx, now, 500)
	if err != nil {
		return 0, fmt.Errorf("list stale proposals: %w", err)
	}

	count := 0
	for _, p := range stale {
		unlock := s.locks.Lock(p.WorkspaceID)
		current, err := s.getProposal(ctx, p.ID)
		if err != nil {
			unlock()
			// One bad proposal must not stall the rest of the sweep.
			log.Printf("[governance] expiry sweep read %s: %v", p.ID, err)
			continue
		}
		if current.Status.Terminal() {
			unlock()
			continue
		}
		expired, err := s.expireLocked(ctx, current, now)
		unlock()
		if err != nil {
			log.Printf("[governance] expiry sweep %s: %v", p.ID, err)
			continue
		}
		if expired {
			count++
		}
	}
	return count, nil
}

// expireLocked writes the expiry audit entry and transitions the proposal.
// Caller holds the workspace lock.
func (s *Service) expireLocked(ctx context.Context, p models.Proposal, now time.Time) (bool, error) {
	entry := audit.Entry{
		ProposalID:  p.ID,
		WorkspaceID: p.WorkspaceID,
		Event:       audit.EventExpired,
		Actor:       audit.ActorSystem,
		Detail:      mustDetail(map[string]interface{}{"expiresAt": p.ExpiresAt.Format(time.RFC3339)}),
		Ts:          now,
	}
	if err := s.audit.Append(ctx, &entry); err != nil {
		return false, fmt.Errorf("%w: %v", ErrAuditWriteFailed, err)
	}
	if _, err := s.registry.TransitionStatus(ctx, p.ID, models.StatusExpired); err != nil {
		if errors.Is(err, registry.ErrNotPending) {
			return false, nil
		}
		return false, fmt.Errorf("expire proposal: %w", err)
	}
	return true, nil
}

// GetProposal returns a proposal by ID.
func (s *Service) GetProposal(ctx context.Context, id uuid.UUID) (models.Proposal, error) {
	return s.getProposal(ctx, id)
}

// ListProposals returns proposals for the presentation layer.
func (s *Service) ListProposals(ctx context.Context, filter registry.ListFilter) ([]models.Proposal, error) {
	return s.registry.ListProposals(ctx, filter)
}

// ComponentDecisions returns the recorded sub-decisions for a bundle.
func (s *Service) ComponentDecisions(ctx context.Context, proposalID uuid.UUID) ([]models.ComponentDecision, error) {
	if _, err := s.getProposal(ctx, proposalID); err != nil {
		return nil, err
	}
	return s.registry.ListComponentDecisions(ctx, proposalID)
}

// AuditTrail returns the ordered audit entries for a proposal. The chain is
// re-verified on every read; a broken link means the trail was tampered with
// and is surfaced as an error rather than served.
func (s *Service) AuditTrail(ctx context.Context, proposalID uuid.UUID) ([]audit.Entry, error) {
	if _, err := s.getProposal(ctx, proposalID); err != nil {
		return nil, err
	}
	entries, err := s.audit.Query(ctx, proposalID.String())
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	if err := audit.VerifyChain(entries); err != nil {
		return nil, fmt.Errorf("audit chain verification: %w", err)
	}
	return entries, nil
}

// GetPolicy returns the workspace's autopilot policy (defaults if unset).
func (s *Service) GetPolicy(ctx context.Context, workspaceID uuid.UUID) (models.AutopilotPolicy, error) {
	if workspaceID == uuid.Nil {
		return models.AutopilotPolicy{}, fmt.Errorf("%w: workspace", ErrNotFound)
	}
	return s.policies.Get(ctx, workspaceID)
}

// PolicyPatch carries the updatable policy fields; nil means unchanged.
type PolicyPatch struct {
	AllowedActionTypes  *[]string `json:"allowedActionTypes"`
	MaxActionsPerWeek   *int      `json:"maxActionsPerWeek"`
	MaxDailyBudgetCents *int64    `json:"maxDailyBudgetCents"`
}

// UpdatePolicy validates and applies a policy patch. Removing an action type
// is prospective only: proposals already pending keep the eligibility answer
// computed at submit time. Critical-tier action types can never be
// allow-listed, regardless of what the caller sends.
func (s *Service) UpdatePolicy(ctx context.Context, workspaceID uuid.UUID, patch PolicyPatch) (models.AutopilotPolicy, error) {
	if workspaceID == uuid.Nil {
		return models.AutopilotPolicy{}, fmt.Errorf("%w: workspace", ErrNotFound)
	}

	unlock := s.locks.Lock(workspaceID)
	defer unlock()

	pol, err := s.policies.Get(ctx, workspaceID)
	if err != nil {
		return models.AutopilotPolicy{}, fmt.Errorf("get policy: %w", err)
	}

	if patch.MaxActionsPerWeek != nil {
		if *patch.MaxActionsPerWeek < 0 {
			return models.AutopilotPolicy{}, fmt.Errorf("%w: maxActionsPerWeek must be >= 0", ErrInvalidArgument)
		}
		pol.MaxActionsPerWeek = *patch.MaxActionsPerWeek
	}
	if patch.MaxDailyBudgetCents != nil {
		if *patch.MaxDailyBudgetCents < 0 {
			return models.AutopilotPolicy{}, fmt.Errorf("%w: maxDailyBudgetCents must be >= 0", ErrInvalidArgument)
		}
		pol.MaxDailyBudgetCents = *patch.MaxDailyBudgetCents
	}
	if patch.AllowedActionTypes != nil {
		var allowed []string
		seen := map[string]bool{}
		for _, t := range *patch.AllowedActionTypes {
			if t == "" {
				return models.AutopilotPolicy{}, fmt.Errorf("%w: empty action type", ErrInvalidArgument)
			}
			if seen[t] {
				continue
			}
			if s.classifier.Classify(t) == models.RiskTierCritical {
				return models.AutopilotPolicy{}, fmt.Errorf("%w: action type %q is critical tier", ErrPolicyViolation, t)
			}
			seen[t] = true
			allowed = append(allowed, t)
		}
		pol.AllowedActionTypes = allowed
	}

	updated, err := s.policies.Put(ctx, pol)
	if err != nil {
		return models.AutopilotPolicy{}, fmt.Errorf("update policy: %w", err)
	}
	return updated, nil
}

func (s *Service) getProposal(ctx context.Context, id uuid.UUID) (models.Proposal, error) {
	p, err := s.registry.GetProposal(ctx, id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return models.Proposal{}, fmt.Errorf("%w: proposal %s", ErrNotFound, id)
		}
		return models.Proposal{}, err
	}
	return p, nil
}

func outcomeEvent(o models.DecisionOutcome) string {
	switch o {
	case models.OutcomeApproved:
		return audit.EventApproved
	case models.OutcomeRejected:
		return audit.EventRejected
	default:
		return audit.EventPartial
	}
}

func mustDetail(v map[string]interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
