// Package verify gates the promotion of unverified candidates into persisted
// entities. A candidate whose identity matches an existing entity is rejected
// outright; otherwise the entity and its first research job are created in a
// single transaction.
package verify

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/store"
)

// ErrDuplicateEntity marks a verification rejected because a matching entity
// already exists. Callers map it to a conflict response.
var ErrDuplicateEntity = eris.New("duplicate entity")

// Attributes carries kind-specific classification set at verification time.
type Attributes struct {
	LeadSource       string `json:"lead_source,omitempty"`
	IntakeStatus     string `json:"intake_status,omitempty"`
	DeclineReason    string `json:"decline_reason,omitempty"`
	IsAlliance       bool   `json:"is_alliance,omitempty"`
	IsLimitedPartner bool   `json:"is_limited_partner,omitempty"`
}

// FindDuplicate looks up an existing entity matching the candidate's
// normalized name or website domain. Existence alone matters; ties are not
// scored. Side-effect-free. Returns (nil, nil) when no match exists.
func FindDuplicate(ctx context.Context, st store.Store, kind model.Kind, cand model.Candidate) (*model.Entity, error) {
	normName := model.NormalizeName(cand.Name)
	domain := model.NormalizeDomain(cand.Website)
	if normName == "" && domain == "" {
		return nil, eris.New("verify: candidate has no identity fields")
	}
	return st.FindEntityByIdentity(ctx, kind, normName, domain)
}

// VerifyAndQueue promotes a candidate into a persisted entity and enqueues
// its first research job atomically. A duplicate match is a hard fail — the
// entity and job are never created.
func VerifyAndQueue(ctx context.Context, st store.Store, cand model.Candidate, kind model.Kind, attrs Attributes) (*model.Entity, *model.ResearchJob, error) {
	if !kind.Valid() {
		return nil, nil, eris.Errorf("verify: invalid entity kind %q", kind)
	}
	if strings.TrimSpace(cand.Name) == "" {
		return nil, nil, eris.New("verify: candidate name is required")
	}

	dup, err := FindDuplicate(ctx, st, kind, cand)
	if err != nil {
		return nil, nil, eris.Wrap(err, "verify: duplicate check")
	}
	if dup != nil {
		return nil, nil, eris.Wrapf(ErrDuplicateEntity, "%s %q matches existing entity %s (%s)",
			model.SpecFor(kind).Label, cand.Name, dup.ID, dup.Name)
	}

	now := nowFn()
	entity := &model.Entity{
		Kind:              kind,
		Name:              strings.TrimSpace(cand.Name),
		LegalName:         strings.TrimSpace(cand.LegalName),
		Website:           strings.TrimSpace(cand.Website),
		City:              cand.City,
		State:             cand.State,
		LeadSource:        attrs.LeadSource,
		IntakeStatus:      attrs.IntakeStatus,
		DeclineReason:     attrs.DeclineReason,
		IsAlliance:        attrs.IsAlliance,
		IsLimitedPartner:  attrs.IsLimitedPartner,
		ResearchUpdatedAt: &now,
	}

	job, err := st.CreateEntityWithJob(ctx, entity)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "verify: create %s %q", kind, entity.Name)
	}

	zap.L().Info("candidate verified",
		zap.String("kind", string(kind)),
		zap.String("entity_id", entity.ID),
		zap.String("name", entity.Name),
		zap.String("job_id", job.ID),
	)
	return entity, job, nil
}

// nowFn is swappable in tests.
var nowFn = func() time.Time { return time.Now().UTC() }
