package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/store"
)

// Card is one company's position on the board.
type Card struct {
	CompanyID string      `json:"company_id"`
	Name      string      `json:"name"`
	Phase     model.Phase `json:"phase"`
	Inferred  bool        `json:"inferred"` // true when no explicit pipeline record exists
	Screening bool        `json:"screening"`
}

// Board groups company cards by board column, in fixed column order.
type Board struct {
	Columns map[BoardColumn][]Card `json:"columns"`
}

// SetPhase records a company's phase, creating the pipeline record lazily on
// first set. Transitions are unconstrained; humans drive them from the board.
func SetPhase(ctx context.Context, st store.Store, companyID string, phase model.Phase) error {
	if !phase.Valid() {
		return eris.Errorf("pipeline: invalid phase %q", phase)
	}

	company, err := st.GetEntity(ctx, companyID)
	if err != nil {
		return eris.Wrap(err, "pipeline: set phase")
	}
	if company.Kind != model.KindCompany {
		return eris.Errorf("pipeline: entity %s is a %s, phases apply to companies", companyID, company.Kind)
	}

	if err := st.UpsertPipeline(ctx, companyID, phase); err != nil {
		return eris.Wrap(err, "pipeline: set phase")
	}
	zap.L().Info("pipeline phase set",
		zap.String("company_id", companyID),
		zap.String("phase", string(phase)),
	)
	return nil
}

// GetPhase resolves a company's effective phase, applying default inference
// when no explicit record exists.
func GetPhase(ctx context.Context, st store.Store, companyID string) (model.Phase, error) {
	company, err := st.GetEntity(ctx, companyID)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: get phase")
	}
	rec, err := st.GetPipeline(ctx, companyID)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: get phase")
	}
	return PhaseFor(company, rec), nil
}

// BuildBoard projects all companies into board columns. Companies without an
// explicit pipeline record appear under their inferred default phase.
func BuildBoard(ctx context.Context, st store.Store) (*Board, error) {
	companies, err := st.ListEntities(ctx, store.EntityFilter{Kind: model.KindCompany})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list companies")
	}
	records, err := st.ListPipelines(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list pipeline records")
	}

	byCompany := make(map[string]*model.CompanyPipeline, len(records))
	for i := range records {
		byCompany[records[i].CompanyID] = &records[i]
	}

	board := &Board{Columns: make(map[BoardColumn][]Card, len(Columns))}
	for _, col := range Columns {
		board.Columns[col] = nil
	}

	for i := range companies {
		c := &companies[i]
		rec := byCompany[c.ID]
		phase := PhaseFor(c, rec)
		col := Column(phase)
		board.Columns[col] = append(board.Columns[col], Card{
			CompanyID: c.ID,
			Name:      c.Name,
			Phase:     phase,
			Inferred:  rec == nil,
			Screening: IsScreeningPhase(phase),
		})
	}
	return board, nil
}
