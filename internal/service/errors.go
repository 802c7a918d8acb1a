package service

import "errors"

// Error taxonomy surfaced to callers. The HTTP layer maps these to status
// codes; autopilot declines (budget exhausted, policy miss) are deliberately
// absent — they leave the proposal pending rather than failing the call.
var (
	// ErrNotFound: unknown workspace or proposal.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument: malformed request; not retriable without change.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict: decision attempted on a proposal that already left
	// pending with a different outcome.
	ErrConflict = errors.New("proposal already decided")

	// ErrExpired: decision attempted after the proposal's SLA window.
	ErrExpired = errors.New("proposal expired")

	// ErrPolicyViolation: policy update would allow a critical-tier action.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrAuditWriteFailed: the audit sink rejected the write; the whole
	// operation aborts because governance state must never diverge from its
	// audit trail.
	ErrAuditWriteFailed = errors.New("audit write failed")
)
