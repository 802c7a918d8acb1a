package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// PGLedger persists consumption counters in Postgres. Each reservation is a
// single guarded upsert, so concurrent callers for the same bucket serialize
// on the row and at most one wins the last unit of budget.
type PGLedger struct {
	db *sql.DB
}

func NewPGLedger(db *sql.DB) *PGLedger {
	return &PGLedger{db: db}
}

func (l *PGLedger) ReserveAction(ctx context.Context, workspaceID uuid.UUID, weekBucket string, cap int) (Reservation, error) {
	if cap <= 0 {
		return Reservation{Granted: false, Remaining: 0}, nil
	}
	const query = `
		INSERT INTO autopilot_week_usage (workspace_id, week_bucket, actions_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (workspace_id, week_bucket)
		DO UPDATE SET actions_count = autopilot_week_usage.actions_count + 1
		WHERE autopilot_week_usage.actions_count < $3
		RETURNING actions_count
	`
	var count int64
	err := l.db.QueryRowContext(ctx, query, workspaceID, weekBucket, cap).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		used, rerr := l.weekUsed(ctx, workspaceID, weekBucket)
		if rerr != nil {
			return Reservation{}, rerr
		}
		return Reservation{Granted: false, Remaining: remaining(int64(cap), used)}, nil
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve weekly action: %w", err)
	}
	return Reservation{Granted: true, Remaining: int64(cap) - count}, nil
}

func (l *PGLedger) ReleaseAction(ctx context.Context, workspaceID uuid.UUID, weekBucket string) error {
	const query = `
		UPDATE autopilot_week_usage
		SET actions_count = GREATEST(actions_count - 1, 0)
		WHERE workspace_id = $1 AND week_bucket = $2
	`
	if _, err := l.db.ExecContext(ctx, query, workspaceID, weekBucket); err != nil {
		return fmt.Errorf("release weekly action: %w", err)
	}
	return nil
}

func (l *PGLedger) ReserveSpend(ctx context.Context, workspaceID uuid.UUID, dayBucket string, amountCents, capCents int64) (Reservation, error) {
	if amountCents <= 0 {
		return Reservation{}, fmt.Errorf("reserve spend: amount must be positive")
	}
	if amountCents > capCents {
		used, err := l.daySpent(ctx, workspaceID, dayBucket)
		if err != nil {
			return Reservation{}, err
		}
		return Reservation{Granted: false, Remaining: remaining(capCents, used)}, nil
	}
	const query = `
		INSERT INTO autopilot_day_spend (workspace_id, day_bucket, spent_cents)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, day_bucket)
		DO UPDATE SET spent_cents = autopilot_day_spend.spent_cents + $3
		WHERE autopilot_day_spend.spent_cents + $3 <= $4
		RETURNING spent_cents
	`
	var spent int64
	err := l.db.QueryRowContext(ctx, query, workspaceID, dayBucket, amountCents, capCents).Scan(&spent)
	if errors.Is(err, sql.ErrNoRows) {
		used, rerr := l.daySpent(ctx, workspaceID, dayBucket)
		if rerr != nil {
			return Reservation{}, rerr
		}
		return Reservation{Granted: false, Remaining: remaining(capCents, used)}, nil
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve daily spend: %w", err)
	}
	return Reservation{Granted: true, Remaining: capCents - spent}, nil
}

func (l *PGLedger) ReleaseSpend(ctx context.Context, workspaceID uuid.UUID, dayBucket string, amountCents int64) error {
	const query = `
		UPDATE autopilot_day_spend
		SET spent_cents = GREATEST(spent_cents - $3, 0)
		WHERE workspace_id = $1 AND day_bucket = $2
	`
	if _, err := l.db.ExecContext(ctx, query, workspaceID, dayBucket, amountCents); err != nil {
		return fmt.Errorf("release daily spend: %w", err)
	}
	return nil
}

func (l *PGLedger) weekUsed(ctx context.Context, workspaceID uuid.UUID, weekBucket string) (int64, error) {
	const query = `SELECT actions_count FROM autopilot_week_usage WHERE workspace_id = $1 AND week_bucket = $2`
	var used int64
	err := l.db.QueryRowContext(ctx, query, workspaceID, weekBucket).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read weekly usage: %w", err)
	}
	return used, nil
}

func (l *PGLedger) daySpent(ctx context.Context, workspaceID uuid.UUID, dayBucket string) (int64, error) {
	const query = `SELECT spent_cents FROM autopilot_day_spend WHERE workspace_id = $1 AND day_bucket = $2`
	var spent int64
	err := l.db.QueryRowContext(ctx, query, workspaceID, dayBucket).Scan(&spent)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daily spend: %w", err)
	}
	return spent, nil
}
