package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/dealflow/internal/model"
)

func TestDefaultPhase(t *testing.T) {
	tests := []struct {
		name          string
		intakeStatus  string
		declineReason string
		want          model.Phase
	}{
		{"empty fields", "", "", model.PhaseIntake},
		{"unknown status", "in review", "", model.PhaseIntake},
		{"declined status", "declined", "", model.PhaseDeclined},
		{"rejected status", "Rejected", "", model.PhaseDeclined},
		{"passed status", "passed", "", model.PhaseDeclined},
		{"accepted status", "accepted", "", model.PhaseScreening},
		{"screening status", "SCREENING", "", model.PhaseScreening},
		{"decline reason wins", "accepted", "not a fit", model.PhaseDeclined},
		{"whitespace reason ignored", "accepted", "   ", model.PhaseScreening},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultPhase(tt.intakeStatus, tt.declineReason))
		})
	}
}

func TestColumn_CoversAllPhases(t *testing.T) {
	for _, p := range model.Phases {
		col := Column(p)
		assert.Contains(t, Columns, col, "phase %s", p)
	}

	// Unknown phases stay visible in intake rather than vanishing.
	assert.Equal(t, ColumnIntake, Column(model.Phase("mystery")))
}

func TestColumn_Mapping(t *testing.T) {
	assert.Equal(t, ColumnEvaluation, Column(model.PhaseScreening))
	assert.Equal(t, ColumnEvaluation, Column(model.PhaseLOICollection))
	assert.Equal(t, ColumnNegotiation, Column(model.PhaseVentureStudioNegotiation))
	assert.Equal(t, ColumnNegotiation, Column(model.PhaseCommercialNegotiation))
	assert.Equal(t, ColumnPortfolio, Column(model.PhasePortfolioGrowth))
	assert.Equal(t, ColumnDeclined, Column(model.PhaseDeclined))
	assert.Equal(t, ColumnIntake, Column(model.PhaseIntake))
}

func TestIsScreeningPhase(t *testing.T) {
	assert.True(t, IsScreeningPhase(model.PhaseScreening))
	assert.True(t, IsScreeningPhase(model.PhaseLOICollection))
	assert.False(t, IsScreeningPhase(model.PhaseIntake))
	assert.False(t, IsScreeningPhase(model.PhasePortfolioGrowth))
}

func TestPhaseFor(t *testing.T) {
	c := &model.Entity{Kind: model.KindCompany, IntakeStatus: "accepted"}

	assert.Equal(t, model.PhaseScreening, PhaseFor(c, nil))

	rec := &model.CompanyPipeline{CompanyID: "x", Phase: model.PhasePortfolioGrowth}
	assert.Equal(t, model.PhasePortfolioGrowth, PhaseFor(c, rec))
}
