// package audit is the append-only record of every governance state
// transition. Entries are hash-chained per proposal so the trail for a
// proposal is tamper-evident; no update or delete operation exists.
package audit

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event names match the proposal state transitions one to one.
const (
	EventCreated      = "created"
	EventAutoApproved = "auto_approved"
	EventApproved     = "approved"
	EventRejected     = "rejected"
	EventPartial      = "partial"
	EventExpired      = "expired"
)

// ActorSystem identifies transitions performed by the engine itself
// (autopilot, expiry sweep).
const ActorSystem = "system"

// ActorUser formats the actor string for a human reviewer.
func ActorUser(reviewerID string) string {
	return "user:" + reviewerID
}

// Entry is one audit record. PrevHash/Hash are computed at append time over
// the canonical JSON of the entry body chained to the proposal's previous
// entry.
type Entry struct {
	ID          uuid.UUID       `json:"id"`
	ProposalID  uuid.UUID       `json:"proposalId"`
	WorkspaceID uuid.UUID       `json:"workspaceId"`
	Event       string          `json:"event"`
	Actor       string          `json:"actor"`
	Detail      json.RawMessage `json:"detail,omitempty"`
	PrevHash    string          `json:"prevHash,omitempty"`
	Hash        string          `json:"hash,omitempty"`
	Ts          time.Time       `json:"ts"`
}

// ErrNotFound is returned when a requested audit resource cannot be located.
var ErrNotFound = errors.New("not found")
