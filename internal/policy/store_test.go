package policy

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pilotdesk/governance/internal/models"
)

func TestMemoryStoreDefaultsWhenUnset(t *testing.T) {
	store := NewMemoryStore()
	ws := uuid.New()

	p, err := store.Get(context.Background(), ws)
	require.NoError(t, err)
	require.Equal(t, ws, p.WorkspaceID)
	require.Empty(t, p.AllowedActionTypes)
	require.Equal(t, models.DefaultMaxActionsPerWeek, p.MaxActionsPerWeek)
	require.Zero(t, p.MaxDailyBudgetCents)
}

func TestMemoryStorePutGetRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	ws := uuid.New()

	stored, err := store.Put(ctx, models.AutopilotPolicy{
		WorkspaceID:         ws,
		AllowedActionTypes:  []string{"seo_fix"},
		MaxActionsPerWeek:   4,
		MaxDailyBudgetCents: 2500,
	})
	require.NoError(t, err)
	require.False(t, stored.UpdatedAt.IsZero())

	got, err := store.Get(ctx, ws)
	require.NoError(t, err)
	require.Equal(t, []string{"seo_fix"}, got.AllowedActionTypes)
	require.Equal(t, 4, got.MaxActionsPerWeek)

	// The store hands out copies; callers cannot mutate stored state.
	got.AllowedActionTypes[0] = "delete_content"
	again, err := store.Get(ctx, ws)
	require.NoError(t, err)
	require.Equal(t, []string{"seo_fix"}, again.AllowedActionTypes)
}

func TestPGStoreGetReturnsDefaultWhenMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ws := uuid.New()
	mock.ExpectQuery("SELECT workspace_id, allowed_action_types").
		WithArgs(ws).
		WillReturnError(sql.ErrNoRows)

	p, err := NewPGStore(db).Get(context.Background(), ws)
	require.NoError(t, err)
	require.Equal(t, ws, p.WorkspaceID)
	require.Equal(t, models.DefaultMaxActionsPerWeek, p.MaxActionsPerWeek)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ws := uuid.New()
	mock.ExpectQuery("SELECT workspace_id, allowed_action_types").
		WithArgs(ws).
		WillReturnRows(sqlmock.NewRows([]string{"workspace_id", "allowed_action_types", "max_actions_per_week", "max_daily_budget_cents", "updated_at"}).
			AddRow(ws.String(), []byte(`["seo_fix","publish_blog_post"]`), 3, int64(5000), time.Now().UTC()))

	p, err := NewPGStore(db).Get(context.Background(), ws)
	require.NoError(t, err)
	require.Equal(t, []string{"seo_fix", "publish_blog_post"}, p.AllowedActionTypes)
	require.Equal(t, 3, p.MaxActionsPerWeek)
	require.Equal(t, int64(5000), p.MaxDailyBudgetCents)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStorePutUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ws := uuid.New()
	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO autopilot_policies").
		WithArgs(ws, []byte(`["seo_fix"]`), 4, int64(2500)).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))

	p, err := NewPGStore(db).Put(context.Background(), models.AutopilotPolicy{
		WorkspaceID:         ws,
		AllowedActionTypes:  []string{"seo_fix"},
		MaxActionsPerWeek:   4,
		MaxDailyBudgetCents: 2500,
	})
	require.NoError(t, err)
	require.Equal(t, now, p.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
