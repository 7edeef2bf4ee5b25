// Package pipeline owns the company phase lifecycle: default-phase inference
// from legacy intake fields, the fixed phase-to-board-column mapping, and the
// Kanban board projection. Phases are labels, not a guarded workflow — any
// phase may be set from any phase.
package pipeline

import (
	"strings"

	"github.com/sells-group/dealflow/internal/model"
)

// BoardColumn is the coarser presentation grouping of phases for the Kanban
// view. The mapping is fixed at build time.
type BoardColumn string

const (
	ColumnIntake      BoardColumn = "intake"
	ColumnDeclined    BoardColumn = "declined"
	ColumnEvaluation  BoardColumn = "evaluation"
	ColumnNegotiation BoardColumn = "negotiation"
	ColumnPortfolio   BoardColumn = "portfolio"
)

// Columns lists board columns in display order.
var Columns = []BoardColumn{
	ColumnIntake,
	ColumnEvaluation,
	ColumnNegotiation,
	ColumnPortfolio,
	ColumnDeclined,
}

var phaseColumns = map[model.Phase]BoardColumn{
	model.PhaseIntake:                   ColumnIntake,
	model.PhaseDeclined:                 ColumnDeclined,
	model.PhaseScreening:                ColumnEvaluation,
	model.PhaseLOICollection:            ColumnEvaluation,
	model.PhaseVentureStudioNegotiation: ColumnNegotiation,
	model.PhaseCommercialNegotiation:    ColumnNegotiation,
	model.PhasePortfolioGrowth:          ColumnPortfolio,
}

// Column maps a phase to its board column. Unknown phases land in intake so
// a bad value is still visible on the board.
func Column(p model.Phase) BoardColumn {
	if c, ok := phaseColumns[p]; ok {
		return c
	}
	return ColumnIntake
}

// IsScreeningPhase reports whether the phase makes a company eligible for a
// screening survey. Derived, never stored.
func IsScreeningPhase(p model.Phase) bool {
	return p == model.PhaseScreening || p == model.PhaseLOICollection
}

// DefaultPhase infers a company's phase from legacy intake fields when no
// explicit pipeline record exists. Pure; every read path that needs a
// default goes through here.
func DefaultPhase(intakeStatus, declineReason string) model.Phase {
	if strings.TrimSpace(declineReason) != "" {
		return model.PhaseDeclined
	}
	switch strings.ToLower(strings.TrimSpace(intakeStatus)) {
	case "declined", "rejected", "passed":
		return model.PhaseDeclined
	case "accepted", "screening":
		return model.PhaseScreening
	default:
		return model.PhaseIntake
	}
}

// PhaseFor resolves a company's effective phase: the explicit record when
// present, otherwise the inferred default.
func PhaseFor(c *model.Entity, rec *model.CompanyPipeline) model.Phase {
	if rec != nil {
		return rec.Phase
	}
	return DefaultPhase(c.IntakeStatus, c.DeclineReason)
}
