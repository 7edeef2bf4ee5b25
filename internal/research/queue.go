// Package research owns the per-entity research job queue and the runner
// that drains it. The queue enforces at most one active job per entity and
// all state transitions are conditional updates in the store, so concurrent
// enqueuers and runners cannot duplicate work.
package research

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/store"
)

// Queue manages research job records for all entity kinds.
type Queue struct {
	st store.Store
}

// NewQueue creates a Queue backed by the given store.
func NewQueue(st store.Store) *Queue {
	return &Queue{st: st}
}

// Enqueue creates a queued research job for the entity, or returns the
// existing active job unchanged — rerun requests never pile up duplicate
// work.
func (q *Queue) Enqueue(ctx context.Context, kind model.Kind, entityID string) (*model.ResearchJob, error) {
	if !kind.Valid() {
		return nil, eris.Errorf("research: invalid entity kind %q", kind)
	}
	if entityID == "" {
		return nil, eris.New("research: entity id is required")
	}
	if _, err := q.st.GetEntity(ctx, entityID); err != nil {
		return nil, eris.Wrap(err, "research: enqueue")
	}

	job, created, err := q.st.EnqueueJob(ctx, kind, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "research: enqueue %s", entityID)
	}
	if created {
		zap.L().Info("research job queued",
			zap.String("job_id", job.ID),
			zap.String("kind", string(kind)),
			zap.String("entity_id", entityID),
		)
	} else {
		zap.L().Debug("research job already active",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
			zap.String("entity_id", entityID),
		)
	}
	return job, nil
}

// Claim atomically moves up to maxJobs queued jobs to running and returns
// them oldest-first. Losing a claim race yields fewer (possibly zero) jobs,
// never an error.
func (q *Queue) Claim(ctx context.Context, maxJobs int, filter store.JobFilter) ([]model.ResearchJob, error) {
	return q.st.ClaimQueuedJobs(ctx, maxJobs, filter)
}

// Complete transitions a running job to succeeded and applies the research
// result to the entity.
func (q *Queue) Complete(ctx context.Context, jobID string, res *model.ResearchResult) error {
	if res == nil {
		return eris.New("research: complete requires a result")
	}
	return q.st.CompleteJob(ctx, jobID, res.Summary, res.Notes)
}

// Fail transitions a running job to failed, recording the error message.
func (q *Queue) Fail(ctx context.Context, jobID string, cause error) error {
	msg := "research procedure failed"
	if cause != nil {
		msg = cause.Error()
	}
	return q.st.FailJob(ctx, jobID, msg)
}

// History returns the append-only job history for an entity, newest first.
func (q *Queue) History(ctx context.Context, entityID string, limit int) ([]model.ResearchJob, error) {
	return q.st.ListJobs(ctx, store.JobFilter{EntityID: entityID, Limit: limit})
}
