package research

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/store"
)

// defaultJobTimeout bounds one research procedure call so a stuck external
// call cannot wedge a batch run.
const defaultJobTimeout = 2 * time.Minute

// Filter scopes a batch run to one entity or one kind. The zero value runs
// anything queued.
type Filter struct {
	EntityID   string
	EntityKind model.Kind
}

// JobError records one failed job in a batch report.
type JobError struct {
	JobID    string `json:"job_id"`
	EntityID string `json:"entity_id"`
	Message  string `json:"message"`
}

// Report aggregates the outcome of one batch run. A procedure failure shows
// up here, never as an error from RunQueued.
type Report struct {
	Attempted int        `json:"attempted"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Errors    []JobError `json:"errors,omitempty"`
}

// Runner drains the job queue in bounded sequential batches. Sequential
// processing is deliberate: procedures are bound by external APIs and their
// rate limits, not CPU.
type Runner struct {
	queue      *Queue
	st         store.Store
	procs      *Registry
	jobTimeout time.Duration

	triggers sync.WaitGroup
}

// NewRunner creates a Runner. jobTimeout <= 0 selects the default.
func NewRunner(queue *Queue, st store.Store, procs *Registry, jobTimeout time.Duration) *Runner {
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	return &Runner{queue: queue, st: st, procs: procs, jobTimeout: jobTimeout}
}

// RunQueued claims up to maxJobs queued jobs (scoped by filter) and runs
// them one at a time. One job's failure is recorded and the batch moves on.
// Finding nothing to claim is a no-op report, not an error.
func (r *Runner) RunQueued(ctx context.Context, maxJobs int, filter Filter) (*Report, error) {
	if maxJobs <= 0 {
		return nil, eris.Errorf("research: max jobs must be positive, got %d", maxJobs)
	}

	jobs, err := r.queue.Claim(ctx, maxJobs, store.JobFilter{
		EntityID:   filter.EntityID,
		EntityKind: filter.EntityKind,
	})
	if err != nil {
		return nil, eris.Wrap(err, "research: claim batch")
	}

	report := &Report{}
	if len(jobs) == 0 {
		return report, nil
	}

	log := zap.L().With(zap.Int("claimed", len(jobs)))
	log.Info("running research batch")

	for _, job := range jobs {
		report.Attempted++
		if err := r.runOne(ctx, job); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, JobError{
				JobID:    job.ID,
				EntityID: job.EntityID,
				Message:  err.Error(),
			})
			continue
		}
		report.Succeeded++
	}

	log.Info("research batch complete",
		zap.Int("attempted", report.Attempted),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// runOne executes a single claimed job. The procedure call happens outside
// any store transaction; only the terminal transition is written back.
func (r *Runner) runOne(ctx context.Context, job model.ResearchJob) error {
	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.EntityKind)),
		zap.String("entity_id", job.EntityID),
	)

	result, procErr := r.execute(ctx, job)
	if procErr != nil {
		log.Warn("research procedure failed", zap.Error(procErr))
		if failErr := r.queue.Fail(ctx, job.ID, procErr); failErr != nil {
			log.Error("failed to record job failure", zap.Error(failErr))
		}
		return procErr
	}

	if err := r.queue.Complete(ctx, job.ID, result); err != nil {
		log.Error("failed to record job success", zap.Error(err))
		return err
	}
	log.Info("research job succeeded", zap.String("summary", result.Summary))
	return nil
}

func (r *Runner) execute(ctx context.Context, job model.ResearchJob) (*model.ResearchResult, error) {
	proc, err := r.procs.Lookup(job.EntityKind)
	if err != nil {
		return nil, err
	}

	entity, err := r.st.GetEntity(ctx, job.EntityID)
	if err != nil {
		return nil, eris.Wrapf(err, "research: load entity %s", job.EntityID)
	}

	// Per-job deadline; deadline exceeded counts as a procedure failure.
	jobCtx, cancel := context.WithTimeout(ctx, r.jobTimeout)
	defer cancel()

	result, err := proc.Enrich(jobCtx, entity)
	if err != nil {
		return nil, eris.Wrapf(err, "research: enrich %s", entity.Name)
	}
	if result == nil {
		return nil, eris.Errorf("research: procedure for %s returned no result", job.EntityKind)
	}
	return result, nil
}

// TriggerAsync kicks off a detached single-job run scoped to one entity,
// typically right after a successful enqueue. The caller's request never
// waits on it and never sees its errors; they are logged only. A scheduled
// batch that already claimed the job makes this a clean no-op.
func (r *Runner) TriggerAsync(kind model.Kind, entityID string) {
	r.triggers.Add(1)
	go func() {
		defer r.triggers.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.jobTimeout+30*time.Second)
		defer cancel()

		report, err := r.RunQueued(ctx, 1, Filter{EntityID: entityID})
		log := zap.L().With(
			zap.String("kind", string(kind)),
			zap.String("entity_id", entityID),
		)
		switch {
		case err != nil:
			log.Warn("background research trigger failed", zap.Error(err))
		case report.Attempted == 0:
			log.Debug("background research trigger found no queued job")
		case report.Failed > 0:
			log.Warn("background research job failed", zap.String("error", report.Errors[0].Message))
		default:
			log.Info("background research job complete")
		}
	}()
}

// DrainTriggers blocks until all in-flight background triggers finish. Used
// during graceful shutdown and in tests.
func (r *Runner) DrainTriggers() {
	r.triggers.Wait()
}
