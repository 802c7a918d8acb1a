package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pilotdesk/governance/internal/canonical"
)

// Sink is the audit persistence abstraction. Append must either durably
// persist the entry or return an error; the engine treats any append failure
// as fatal to the surrounding governance operation.
type Sink interface {
	// Append computes the entry's hash chain and persists it. The entry's
	// ID, PrevHash, Hash, and Ts fields are populated on success.
	Append(ctx context.Context, e *Entry) error

	// Query returns the entries for a proposal in append order.
	Query(ctx context.Context, proposalID string) ([]Entry, error)

	Ping(ctx context.Context) error
}

// HashBytes computes the SHA-256 digest bytes for input data.
func HashBytes(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}

// chainHash computes hex(sha256(canonical(body) || prevHashBytes)) for an
// entry whose ID and Ts are already set.
func chainHash(e *Entry, prevHash string) (string, error) {
	body := map[string]interface{}{
		"id":          e.ID.String(),
		"proposalId":  e.ProposalID.String(),
		"workspaceId": e.WorkspaceID.String(),
		"event":       e.Event,
		"actor":       e.Actor,
		"ts":          e.Ts.UTC().Format(time.RFC3339Nano),
	}
	if len(e.Detail) > 0 {
		body["detail"] = e.Detail
	}
	canon, err := canonical.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("canonicalize entry: %w", err)
	}
	concat := append([]byte(nil), canon...)
	if prevHash != "" {
		prevBytes, err := hex.DecodeString(prevHash)
		if err != nil {
			return "", fmt.Errorf("decode prev hash: %w", err)
		}
		concat = append(concat, prevBytes...)
	}
	return hex.EncodeToString(HashBytes(concat)), nil
}
