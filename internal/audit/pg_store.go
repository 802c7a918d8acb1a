package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PGStore persists audit entries in Postgres and tracks their streaming
// state for the Kafka/S3 pipeline.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (p *PGStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// lastHash returns the newest hash for the proposal's chain, or "" if the
// proposal has no entries yet.
func (p *PGStore) lastHash(ctx context.Context, proposalID uuid.UUID) (string, error) {
	const query = `
		SELECT hash FROM audit_entries
		WHERE proposal_id = $1
		ORDER BY ts DESC, id DESC
		LIMIT 1
	`
	var h sql.NullString
	if err := p.db.QueryRowContext(ctx, query, proposalID).Scan(&h); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	if !h.Valid {
		return "", nil
	}
	return h.String, nil
}

// Append computes the per-proposal hash chain and inserts the entry with
// stream_status pending so the streamer picks it up.
func (p *PGStore) Append(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Ts.IsZero() {
		e.Ts = time.Now().UTC()
	}
	prev, err := p.lastHash(ctx, e.ProposalID)
	if err != nil {
		return fmt.Errorf("fetch last hash: %w", err)
	}
	hash, err := chainHash(e, prev)
	if err != nil {
		return err
	}
	e.PrevHash = prev
	e.Hash = hash

	const query = `
		INSERT INTO audit_entries
		  (id, proposal_id, workspace_id, event, actor, detail, prev_hash, hash, ts, stream_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,'pending')
	`
	detail := e.Detail
	if len(detail) == 0 {
		detail = json.RawMessage("null")
	}
	if _, err := p.db.ExecContext(ctx, query,
		e.ID, e.ProposalID, e.WorkspaceID, e.Event, e.Actor, detail, e.PrevHash, e.Hash, e.Ts,
	); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Query returns the audit trail for a proposal in chain order.
func (p *PGStore) Query(ctx context.Context, proposalID string) ([]Entry, error) {
	id, err := uuid.Parse(proposalID)
	if err != nil {
		return nil, ErrNotFound
	}
	const query = `
		SELECT id, proposal_id, workspace_id, event, actor, detail, prev_hash, hash, ts
		FROM audit_entries
		WHERE proposal_id = $1
		ORDER BY ts, id
	`
	rows, err := p.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

type entryScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row entryScanner) (Entry, error) {
	var (
		e      Entry
		detail []byte
	)
	if err := row.Scan(&e.ID, &e.ProposalID, &e.WorkspaceID, &e.Event, &e.Actor, &detail, &e.PrevHash, &e.Hash, &e.Ts); err != nil {
		return Entry{}, fmt.Errorf("scan audit entry: %w", err)
	}
	if len(detail) > 0 && string(detail) != "null" {
		e.Detail = append(json.RawMessage(nil), detail...)
	}
	return e, nil
}

// FetchPendingEntriesForStreaming claims up to limit unstreamed entries.
// SKIP LOCKED keeps multiple streamer instances from fighting over rows; the
// claim flips stream_status to in_progress and bumps attempts so a crashed
// worker's rows are visible for later recovery.
func (p *PGStore) FetchPendingEntriesForStreaming(ctx context.Context, limit int) ([]Entry, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const selectQuery = `
		SELECT id FROM audit_entries
		WHERE stream_status = 'pending'
		ORDER BY ts
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`
	rows, err := tx.QueryContext(ctx, selectQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending entries: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan entry id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate entry ids: %w", err)
	}
	rows.Close()

	var claimed []Entry
	const claimQuery = `
		UPDATE audit_entries
		SET stream_status = 'in_progress', stream_attempts = stream_attempts + 1
		WHERE id = $1
		RETURNING id, proposal_id, workspace_id, event, actor, detail, prev_hash, hash, ts
	`
	for _, id := range ids {
		e, err := scanEntry(tx.QueryRowContext(ctx, claimQuery, id))
		if err != nil {
			return nil, fmt.Errorf("claim entry: %w", err)
		}
		claimed = append(claimed, e)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return claimed, nil
}

// MarkEntryStreamResult records the produce/archive outcome for a claimed
// entry: done with the archived object key on success, back to pending with
// the error text on failure so it retries.
func (p *PGStore) MarkEntryStreamResult(ctx context.Context, id uuid.UUID, archivedKey sql.NullString, ok bool, streamErr sql.NullString) error {
	if ok {
		const query = `
			UPDATE audit_entries
			SET stream_status = 'done', archived_key = $1, streamed_at = NOW(), last_stream_error = NULL
			WHERE id = $2
		`
		if _, err := p.db.ExecContext(ctx, query, archivedKey, id); err != nil {
			return fmt.Errorf("mark entry streamed: %w", err)
		}
		return nil
	}
	const query = `
		UPDATE audit_entries
		SET stream_status = 'pending', last_stream_error = $1
		WHERE id = $2
	`
	if _, err := p.db.ExecContext(ctx, query, streamErr, id); err != nil {
		return fmt.Errorf("mark entry stream failure: %w", err)
	}
	return nil
}
