package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Phase is the pipeline lifecycle label attached to a company. Any phase is
// reachable from any phase via an explicit set; there is no transition table.
type Phase string

const (
	PhaseIntake                   Phase = "intake"
	PhaseDeclined                 Phase = "declined"
	PhaseVentureStudioNegotiation Phase = "venture_studio_negotiation"
	PhaseScreening                Phase = "screening"
	PhaseLOICollection            Phase = "loi_collection"
	PhaseCommercialNegotiation    Phase = "commercial_negotiation"
	PhasePortfolioGrowth          Phase = "portfolio_growth"
)

// Phases lists all pipeline phases in board order.
var Phases = []Phase{
	PhaseIntake,
	PhaseDeclined,
	PhaseVentureStudioNegotiation,
	PhaseScreening,
	PhaseLOICollection,
	PhaseCommercialNegotiation,
	PhasePortfolioGrowth,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	for _, ph := range Phases {
		if p == ph {
			return true
		}
	}
	return false
}

// ParsePhase converts a wire-form string into a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", eris.Errorf("model: unknown pipeline phase %q", s)
	}
	return p, nil
}

// CompanyPipeline is the lazily-created record holding a company's explicit
// phase. Companies without one fall back to inferred defaults.
type CompanyPipeline struct {
	CompanyID string    `json:"company_id" db:"company_id"`
	Phase     Phase     `json:"phase" db:"phase"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
