package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestVerifyChain(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()
	proposalID := uuid.New()
	ws := uuid.New()

	for _, event := range []string{EventCreated, EventApproved} {
		e := Entry{ProposalID: proposalID, WorkspaceID: ws, Event: event, Actor: ActorSystem}
		require.NoError(t, sink.Append(ctx, &e))
	}

	entries, err := sink.Query(ctx, proposalID.String())
	require.NoError(t, err)
	require.NoError(t, VerifyChain(entries))
	require.NoError(t, VerifyChain(nil))
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()
	proposalID := uuid.New()
	ws := uuid.New()

	for _, event := range []string{EventCreated, EventRejected} {
		e := Entry{
			ProposalID:  proposalID,
			WorkspaceID: ws,
			Event:       event,
			Actor:       ActorUser("u-1"),
			Detail:      json.RawMessage(`{"reason":"spam"}`),
		}
		require.NoError(t, sink.Append(ctx, &e))
	}
	entries, err := sink.Query(ctx, proposalID.String())
	require.NoError(t, err)

	// Rewriting a field invalidates that entry's hash.
	tampered := append([]Entry(nil), entries...)
	tampered[0].Actor = ActorUser("u-2")
	require.Error(t, VerifyChain(tampered))

	// Dropping an entry breaks the next link.
	require.Error(t, VerifyChain(entries[1:]))

	// Swapping a hash breaks the recomputation.
	tampered = append([]Entry(nil), entries...)
	tampered[1].Hash = tampered[0].Hash
	require.Error(t, VerifyChain(tampered))
}
