package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func createCompany(t *testing.T, st store.Store, name, intakeStatus string) *model.Entity {
	t.Helper()
	e := &model.Entity{Kind: model.KindCompany, Name: name, IntakeStatus: intakeStatus}
	require.NoError(t, st.CreateEntity(context.Background(), e))
	return e
}

func TestSetPhase_RejectsNonCompany(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sys := &model.Entity{Kind: model.KindHealthSystem, Name: "Mercy System"}
	require.NoError(t, st.CreateEntity(ctx, sys))

	err := SetPhase(ctx, st, sys.ID, model.PhaseScreening)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "phases apply to companies")
}

func TestSetPhase_Validation(t *testing.T) {
	st := newTestStore(t)

	err := SetPhase(context.Background(), st, "any", model.Phase("limbo"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid phase")
}

func TestSetAndGetPhase(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	c := createCompany(t, st, "Acme Health", "accepted")

	// Before any explicit set the phase is inferred.
	phase, err := GetPhase(ctx, st, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseScreening, phase)

	// Any phase is reachable from any phase.
	require.NoError(t, SetPhase(ctx, st, c.ID, model.PhasePortfolioGrowth))
	require.NoError(t, SetPhase(ctx, st, c.ID, model.PhaseIntake))
	require.NoError(t, SetPhase(ctx, st, c.ID, model.PhaseCommercialNegotiation))

	phase, err = GetPhase(ctx, st, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCommercialNegotiation, phase)
}

func TestBuildBoard(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	fresh := createCompany(t, st, "Fresh Co", "")
	declined := createCompany(t, st, "Declined Co", "rejected")
	moved := createCompany(t, st, "Moved Co", "")
	require.NoError(t, SetPhase(ctx, st, moved.ID, model.PhaseLOICollection))

	// Non-companies never appear on the board.
	sys := &model.Entity{Kind: model.KindHealthSystem, Name: "Mercy System"}
	require.NoError(t, st.CreateEntity(ctx, sys))

	board, err := BuildBoard(ctx, st)
	require.NoError(t, err)

	require.Len(t, board.Columns[ColumnIntake], 1)
	assert.Equal(t, fresh.ID, board.Columns[ColumnIntake][0].CompanyID)
	assert.True(t, board.Columns[ColumnIntake][0].Inferred)

	require.Len(t, board.Columns[ColumnDeclined], 1)
	assert.Equal(t, declined.ID, board.Columns[ColumnDeclined][0].CompanyID)

	require.Len(t, board.Columns[ColumnEvaluation], 1)
	card := board.Columns[ColumnEvaluation][0]
	assert.Equal(t, moved.ID, card.CompanyID)
	assert.False(t, card.Inferred)
	assert.True(t, card.Screening)

	assert.Empty(t, board.Columns[ColumnNegotiation])
	assert.Empty(t, board.Columns[ColumnPortfolio])

	total := 0
	for _, cards := range board.Columns {
		total += len(cards)
	}
	assert.Equal(t, 3, total)
}
