package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dealflow/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id                  TEXT PRIMARY KEY,
	kind                TEXT NOT NULL,
	name                TEXT NOT NULL,
	norm_name           TEXT NOT NULL,
	legal_name          TEXT NOT NULL DEFAULT '',
	website             TEXT NOT NULL DEFAULT '',
	domain              TEXT NOT NULL DEFAULT '',
	city                TEXT NOT NULL DEFAULT '',
	state               TEXT NOT NULL DEFAULT '',
	lead_source         TEXT NOT NULL DEFAULT '',
	intake_status       TEXT NOT NULL DEFAULT '',
	decline_reason      TEXT NOT NULL DEFAULT '',
	is_alliance         BOOLEAN NOT NULL DEFAULT false,
	is_limited_partner  BOOLEAN NOT NULL DEFAULT false,
	research_notes      TEXT NOT NULL DEFAULT '',
	research_updated_at TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entities_kind_norm_name ON entities(kind, norm_name);
CREATE INDEX IF NOT EXISTS idx_entities_kind_domain ON entities(kind, domain) WHERE domain <> '';

CREATE TABLE IF NOT EXISTS research_jobs (
	id             TEXT PRIMARY KEY,
	entity_kind    TEXT NOT NULL,
	entity_id      TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	status         TEXT NOT NULL DEFAULT 'queued',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ,
	result_summary TEXT NOT NULL DEFAULT '',
	error_message  TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_one_active
	ON research_jobs(entity_kind, entity_id)
	WHERE status IN ('queued', 'running');
CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON research_jobs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_entity ON research_jobs(entity_id, created_at DESC);

CREATE TABLE IF NOT EXISTS company_pipelines (
	company_id TEXT PRIMARY KEY REFERENCES entities(id) ON DELETE CASCADE,
	phase      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const entityColumns = `id, kind, name, legal_name, website, city, state,
	lead_source, intake_status, decline_reason, is_alliance, is_limited_partner,
	research_notes, research_updated_at, created_at, updated_at`

func scanEntity(row pgx.Row) (*model.Entity, error) {
	var e model.Entity
	err := row.Scan(&e.ID, &e.Kind, &e.Name, &e.LegalName, &e.Website, &e.City,
		&e.State, &e.LeadSource, &e.IntakeStatus, &e.DeclineReason,
		&e.IsAlliance, &e.IsLimitedPartner, &e.ResearchNotes,
		&e.ResearchUpdatedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) CreateEntity(ctx context.Context, e *model.Entity) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	now := nowUTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := s.pool.Exec(ctx, insertEntitySQL, entityArgs(e)...)
	return eris.Wrapf(err, "postgres: insert entity %s", e.Name)
}

const insertEntitySQL = `INSERT INTO entities
	(id, kind, name, norm_name, legal_name, website, domain, city, state,
	 lead_source, intake_status, decline_reason, is_alliance, is_limited_partner,
	 research_notes, research_updated_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

func entityArgs(e *model.Entity) []any {
	return []any{
		e.ID, string(e.Kind), e.Name, model.NormalizeName(e.Name), e.LegalName,
		e.Website, model.NormalizeDomain(e.Website), e.City, e.State,
		e.LeadSource, e.IntakeStatus, e.DeclineReason, e.IsAlliance,
		e.IsLimitedPartner, e.ResearchNotes, e.ResearchUpdatedAt,
		e.CreatedAt, e.UpdatedAt,
	}
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	e, err := scanEntity(s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: entity %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get entity %s", id)
	}
	return e, nil
}

func (s *PostgresStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}
	query += ` ORDER BY name ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list entities iterate")
}

func (s *PostgresStore) FindEntityByIdentity(ctx context.Context, kind model.Kind, normName, domain string) (*model.Entity, error) {
	e, err := scanEntity(s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities
		 WHERE kind = $1 AND (norm_name = $2 OR ($3 <> '' AND domain = $3))
		 ORDER BY created_at ASC LIMIT 1`,
		string(kind), normName, domain))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: find entity by identity")
	}
	return e, nil
}

func (s *PostgresStore) DeleteEntity(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM entities WHERE id = $1 AND NOT EXISTS (
		   SELECT 1 FROM research_jobs
		   WHERE entity_id = $1 AND status IN ('queued', 'running'))`,
		id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete entity %s", id)
	}
	if tag.RowsAffected() == 0 {
		var active bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM research_jobs
			 WHERE entity_id = $1 AND status IN ('queued', 'running'))`, id,
		).Scan(&active)
		if err != nil {
			return eris.Wrapf(err, "postgres: delete entity %s", id)
		}
		if active {
			return eris.Wrapf(ErrActiveJob, "postgres: entity %s", id)
		}
		return eris.Wrapf(ErrNotFound, "postgres: entity %s", id)
	}
	return nil
}

const jobColumns = `id, entity_kind, entity_id, status, created_at, started_at, completed_at, result_summary, error_message`

func scanJob(row pgx.Row) (*model.ResearchJob, error) {
	var j model.ResearchJob
	err := row.Scan(&j.ID, &j.EntityKind, &j.EntityID, &j.Status, &j.CreatedAt,
		&j.StartedAt, &j.CompletedAt, &j.ResultSummary, &j.ErrorMessage)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// insertJobSQL creates a queued job only when the entity has no active one.
// The partial unique index idx_jobs_one_active backstops the guard under
// concurrent inserts; ON CONFLICT DO NOTHING turns the lost race into zero
// rows affected.
const insertJobSQL = `INSERT INTO research_jobs (id, entity_kind, entity_id, status, created_at)
	SELECT $1, $2, $3, 'queued', $4
	WHERE NOT EXISTS (
		SELECT 1 FROM research_jobs
		WHERE entity_kind = $2 AND entity_id = $3 AND status IN ('queued', 'running'))
	ON CONFLICT DO NOTHING`

func (s *PostgresStore) EnqueueJob(ctx context.Context, kind model.Kind, entityID string) (*model.ResearchJob, bool, error) {
	// The blocking job can reach a terminal state between the conditional
	// insert and the follow-up select; retry the insert once when that
	// window is hit.
	for attempt := 0; ; attempt++ {
		id := uuid.New().String()
		now := nowUTC()

		tag, err := s.pool.Exec(ctx, insertJobSQL, id, string(kind), entityID, now)
		if err != nil {
			return nil, false, eris.Wrapf(err, "postgres: enqueue job for %s", entityID)
		}
		if tag.RowsAffected() == 1 {
			return &model.ResearchJob{
				ID:         id,
				EntityKind: kind,
				EntityID:   entityID,
				Status:     model.JobStatusQueued,
				CreatedAt:  now,
			}, true, nil
		}

		// An active job already exists; return it unchanged.
		job, err := scanJob(s.pool.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM research_jobs
			 WHERE entity_kind = $1 AND entity_id = $2 AND status IN ('queued', 'running')
			 LIMIT 1`,
			string(kind), entityID))
		if err == nil {
			return job, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) || attempt > 0 {
			return nil, false, eris.Wrapf(err, "postgres: get active job for %s", entityID)
		}
	}
}

func (s *PostgresStore) CreateEntityWithJob(ctx context.Context, e *model.Entity) (*model.ResearchJob, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	now := nowUTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin create entity with job")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, insertEntitySQL, entityArgs(e)...); err != nil {
		return nil, eris.Wrapf(err, "postgres: insert entity %s", e.Name)
	}

	job := &model.ResearchJob{
		ID:         uuid.New().String(),
		EntityKind: e.Kind,
		EntityID:   e.ID,
		Status:     model.JobStatusQueued,
		CreatedAt:  now,
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO research_jobs (id, entity_kind, entity_id, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		job.ID, string(job.EntityKind), job.EntityID, string(job.Status), job.CreatedAt,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: insert first job for %s", e.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit create entity with job")
	}
	return job, nil
}

func (s *PostgresStore) ClaimQueuedJobs(ctx context.Context, maxJobs int, filter JobFilter) ([]model.ResearchJob, error) {
	if maxJobs <= 0 {
		return nil, eris.Errorf("postgres: claim batch size must be positive, got %d", maxJobs)
	}

	sub := `SELECT id FROM research_jobs WHERE status = 'queued'`
	args := []any{nowUTC()}
	argIdx := 2

	if filter.EntityID != "" {
		sub += fmt.Sprintf(` AND entity_id = $%d`, argIdx)
		args = append(args, filter.EntityID)
		argIdx++
	} else if filter.EntityKind != "" {
		sub += fmt.Sprintf(` AND entity_kind = $%d`, argIdx)
		args = append(args, string(filter.EntityKind))
		argIdx++
	}
	sub += fmt.Sprintf(` ORDER BY created_at ASC LIMIT $%d FOR UPDATE SKIP LOCKED`, argIdx)
	args = append(args, maxJobs)

	query := `UPDATE research_jobs SET status = 'running', started_at = $1
		WHERE id IN (` + sub + `)
		RETURNING ` + jobColumns

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim queued jobs")
	}
	defer rows.Close()

	var claimed []model.ResearchJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan claimed job")
		}
		claimed = append(claimed, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: claim iterate")
	}
	// RETURNING does not preserve the subquery's order.
	sort.Slice(claimed, func(i, j int) bool {
		return claimed[i].CreatedAt.Before(claimed[j].CreatedAt)
	})
	return claimed, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, jobID, summary, notes string) error {
	now := nowUTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin complete job")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var entityID string
	err = tx.QueryRow(ctx,
		`UPDATE research_jobs SET status = 'succeeded', completed_at = $1, result_summary = $2
		 WHERE id = $3 AND status = 'running'
		 RETURNING entity_id`,
		now, summary, jobID,
	).Scan(&entityID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.jobTransitionError(ctx, jobID, "complete")
		}
		return eris.Wrapf(err, "postgres: complete job %s", jobID)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE entities SET research_notes = $1, research_updated_at = $2, updated_at = $2 WHERE id = $3`,
		notes, now, entityID,
	); err != nil {
		return eris.Wrapf(err, "postgres: apply research to entity %s", entityID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit complete job")
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_jobs SET status = 'failed', completed_at = $1, error_message = $2
		 WHERE id = $3 AND status = 'running'`,
		nowUTC(), errMsg, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return s.jobTransitionError(ctx, jobID, "fail")
	}
	return nil
}

// jobTransitionError distinguishes a missing job from an invalid transition
// after a guarded update matched zero rows.
func (s *PostgresStore) jobTransitionError(ctx context.Context, jobID, op string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return eris.Errorf("postgres: cannot %s job %s in status %s", op, jobID, job.Status)
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.ResearchJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM research_jobs WHERE id = $1`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: job %s", jobID)
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ResearchJob, error) {
	query := `SELECT ` + jobColumns + ` FROM research_jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.EntityID != "" {
		query += fmt.Sprintf(` AND entity_id = $%d`, argIdx)
		args = append(args, filter.EntityID)
		argIdx++
	}
	if filter.EntityKind != "" {
		query += fmt.Sprintf(` AND entity_kind = $%d`, argIdx)
		args = append(args, string(filter.EntityKind))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.ResearchJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) GetPipeline(ctx context.Context, companyID string) (*model.CompanyPipeline, error) {
	var p model.CompanyPipeline
	err := s.pool.QueryRow(ctx,
		`SELECT company_id, phase, updated_at FROM company_pipelines WHERE company_id = $1`,
		companyID,
	).Scan(&p.CompanyID, &p.Phase, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get pipeline %s", companyID)
	}
	return &p, nil
}

func (s *PostgresStore) UpsertPipeline(ctx context.Context, companyID string, phase model.Phase) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO company_pipelines (company_id, phase, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (company_id) DO UPDATE SET phase = $2, updated_at = $3`,
		companyID, string(phase), nowUTC(),
	)
	return eris.Wrapf(err, "postgres: upsert pipeline %s", companyID)
}

func (s *PostgresStore) ListPipelines(ctx context.Context) ([]model.CompanyPipeline, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT company_id, phase, updated_at FROM company_pipelines`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pipelines")
	}
	defer rows.Close()

	var out []model.CompanyPipeline
	for rows.Next() {
		var p model.CompanyPipeline
		if err := rows.Scan(&p.CompanyID, &p.Phase, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pipeline")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list pipelines iterate")
}
