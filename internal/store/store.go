// Package store provides persistence for entities, research jobs, and
// company pipeline phases, with Postgres and SQLite backends behind one
// interface. Job-state transitions are conditional updates so the queue
// invariants hold under concurrent callers.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealflow/internal/model"
)

// ErrNotFound is wrapped by operations addressing a nonexistent entity or
// job id.
var ErrNotFound = eris.New("not found")

// ErrActiveJob is returned by DeleteEntity while a queued or running job
// still references the entity.
var ErrActiveJob = eris.New("entity has an active research job")

// EntityFilter restricts ListEntities.
type EntityFilter struct {
	Kind  model.Kind `json:"kind,omitempty"`
	Limit int        `json:"limit,omitempty"`
}

// JobFilter restricts job listing and claiming. EntityID takes precedence
// over EntityKind; the fire-and-forget path claims by EntityID so it never
// picks up unrelated queued work.
type JobFilter struct {
	EntityKind model.Kind      `json:"entity_kind,omitempty"`
	EntityID   string          `json:"entity_id,omitempty"`
	Status     model.JobStatus `json:"status,omitempty"`
	Limit      int             `json:"limit,omitempty"`
}

// Store defines persistence for the dealflow pipeline.
type Store interface {
	// Entities
	CreateEntity(ctx context.Context, e *model.Entity) error
	GetEntity(ctx context.Context, id string) (*model.Entity, error)
	ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error)
	// FindEntityByIdentity matches on pre-normalized name or website domain.
	// Returns (nil, nil) when nothing matches.
	FindEntityByIdentity(ctx context.Context, kind model.Kind, normName, domain string) (*model.Entity, error)
	// DeleteEntity removes an entity unless an active job references it.
	DeleteEntity(ctx context.Context, id string) error

	// Jobs. EnqueueJob is idempotent: if an active job exists for the entity
	// it returns that job unchanged with created=false. CreateEntityWithJob
	// persists the entity and its first queued job in one transaction.
	EnqueueJob(ctx context.Context, kind model.Kind, entityID string) (job *model.ResearchJob, created bool, err error)
	CreateEntityWithJob(ctx context.Context, e *model.Entity) (*model.ResearchJob, error)
	// ClaimQueuedJobs atomically transitions up to maxJobs queued jobs
	// (oldest first, optionally filtered) to running and returns them. No two
	// callers receive the same job.
	ClaimQueuedJobs(ctx context.Context, maxJobs int, filter JobFilter) ([]model.ResearchJob, error)
	// CompleteJob transitions running -> succeeded and applies the research
	// notes to the entity, bumping its research timestamp, atomically.
	CompleteJob(ctx context.Context, jobID, summary, notes string) error
	// FailJob transitions running -> failed and records the error message.
	FailJob(ctx context.Context, jobID, errMsg string) error
	GetJob(ctx context.Context, jobID string) (*model.ResearchJob, error)
	// ListJobs returns jobs newest-first.
	ListJobs(ctx context.Context, filter JobFilter) ([]model.ResearchJob, error)

	// Pipeline phases
	GetPipeline(ctx context.Context, companyID string) (*model.CompanyPipeline, error)
	UpsertPipeline(ctx context.Context, companyID string, phase model.Phase) error
	ListPipelines(ctx context.Context) ([]model.CompanyPipeline, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// nowUTC is the single clock used for store timestamps.
func nowUTC() time.Time {
	return time.Now().UTC()
}
