package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/dealflow/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for local
// and dev use; claims rely on status-guarded conditional updates rather than
// row locks.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	is_alliance         INTEGER NOT NULL DEFAULT 0,
	is_limited_partner  INTEGER NOT NULL DEFAULT 0,
	research_notes      TEXT NOT NULL DEFAULT '',
	research_updated_at DATETIME,
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_kind_norm_name ON entities(kind, norm_name);
CREATE INDEX IF NOT EXISTS idx_entities_kind_domain ON entities(kind, domain);

CREATE TABLE IF NOT EXISTS research_jobs (
	id             TEXT PRIMARY KEY,
	entity_kind    TEXT NOT NULL,
	entity_id      TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	status         TEXT NOT NULL DEFAULT 'queued',
	created_at     DATETIME NOT NULL,
	started_at     DATETIME,
	completed_at   DATETIME,
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
	updated_at DATETIME NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntityRow(row rowScanner) (*model.Entity, error) {
	var e model.Entity
	var researchAt sql.NullTime
	err := row.Scan(&e.ID, &e.Kind, &e.Name, &e.LegalName, &e.Website, &e.City,
		&e.State, &e.LeadSource, &e.IntakeStatus, &e.DeclineReason,
		&e.IsAlliance, &e.IsLimitedPartner, &e.ResearchNotes,
		&researchAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if researchAt.Valid {
		t := researchAt.Time
		e.ResearchUpdatedAt = &t
	}
	return &e, nil
}

func scanJobRow(row rowScanner) (*model.ResearchJob, error) {
	var j model.ResearchJob
	var started, completed sql.NullTime
	err := row.Scan(&j.ID, &j.EntityKind, &j.EntityID, &j.Status, &j.CreatedAt,
		&started, &completed, &j.ResultSummary, &j.ErrorMessage)
	if err != nil {
		return nil, err
	}
	if started.Valid {
		t := started.Time
		j.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

const sqliteInsertEntity = `INSERT INTO entities
	(id, kind, name, norm_name, legal_name, website, domain, city, state,
	 lead_source, intake_status, decline_reason, is_alliance, is_limited_partner,
	 research_notes, research_updated_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func sqliteEntityArgs(e *model.Entity) []any {
	var researchAt any
	if e.ResearchUpdatedAt != nil {
		researchAt = e.ResearchUpdatedAt.UTC()
	}
	return []any{
		e.ID, string(e.Kind), e.Name, model.NormalizeName(e.Name), e.LegalName,
		e.Website, model.NormalizeDomain(e.Website), e.City, e.State,
		e.LeadSource, e.IntakeStatus, e.DeclineReason, e.IsAlliance,
		e.IsLimitedPartner, e.ResearchNotes, researchAt, e.CreatedAt, e.UpdatedAt,
	}
}

func (s *SQLiteStore) CreateEntity(ctx context.Context, e *model.Entity) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	now := nowUTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, sqliteInsertEntity, sqliteEntityArgs(e)...)
	return eris.Wrapf(err, "sqlite: insert entity %s", e.Name)
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	e, err := scanEntityRow(s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: entity %s", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get entity %s", id)
	}
	return e, nil
}

func (s *SQLiteStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE 1=1`
	args := []any{}

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	query += ` ORDER BY name ASC LIMIT ?`
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		e, err := scanEntityRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list entities iterate")
}

func (s *SQLiteStore) FindEntityByIdentity(ctx context.Context, kind model.Kind, normName, domain string) (*model.Entity, error) {
	e, err := scanEntityRow(s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities
		 WHERE kind = ? AND (norm_name = ? OR (? <> '' AND domain = ?))
		 ORDER BY created_at ASC LIMIT 1`,
		string(kind), normName, domain, domain))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: find entity by identity")
	}
	return e, nil
}

func (s *SQLiteStore) DeleteEntity(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE id = ? AND NOT EXISTS (
		   SELECT 1 FROM research_jobs
		   WHERE entity_id = entities.id AND status IN ('queued', 'running'))`,
		id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete entity %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		var active bool
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM research_jobs
			 WHERE entity_id = ? AND status IN ('queued', 'running'))`, id,
		).Scan(&active)
		if err != nil {
			return eris.Wrapf(err, "sqlite: delete entity %s", id)
		}
		if active {
			return eris.Wrapf(ErrActiveJob, "sqlite: entity %s", id)
		}
		return eris.Wrapf(ErrNotFound, "sqlite: entity %s", id)
	}
	return nil
}

func (s *SQLiteStore) EnqueueJob(ctx context.Context, kind model.Kind, entityID string) (*model.ResearchJob, bool, error) {
	// The blocking job can reach a terminal state between the conditional
	// insert and the follow-up select; retry the insert once when that
	// window is hit.
	for attempt := 0; ; attempt++ {
		id := uuid.New().String()
		now := nowUTC()

		res, err := s.db.ExecContext(ctx,
			`INSERT INTO research_jobs (id, entity_kind, entity_id, status, created_at)
			 SELECT ?, ?, ?, 'queued', ?
			 WHERE NOT EXISTS (
				SELECT 1 FROM research_jobs
				WHERE entity_kind = ? AND entity_id = ? AND status IN ('queued', 'running'))
			 ON CONFLICT DO NOTHING`,
			id, string(kind), entityID, now, string(kind), entityID,
		)
		if err != nil {
			return nil, false, eris.Wrapf(err, "sqlite: enqueue job for %s", entityID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, false, eris.Wrap(err, "sqlite: rows affected")
		}
		if n == 1 {
			return &model.ResearchJob{
				ID:         id,
				EntityKind: kind,
				EntityID:   entityID,
				Status:     model.JobStatusQueued,
				CreatedAt:  now,
			}, true, nil
		}

		job, err := scanJobRow(s.db.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM research_jobs
			 WHERE entity_kind = ? AND entity_id = ? AND status IN ('queued', 'running')
			 LIMIT 1`,
			string(kind), entityID))
		if err == nil {
			return job, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) || attempt > 0 {
			return nil, false, eris.Wrapf(err, "sqlite: get active job for %s", entityID)
		}
	}
}

func (s *SQLiteStore) CreateEntityWithJob(ctx context.Context, e *model.Entity) (*model.ResearchJob, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	now := nowUTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin create entity with job")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, sqliteInsertEntity, sqliteEntityArgs(e)...); err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert entity %s", e.Name)
	}

	job := &model.ResearchJob{
		ID:         uuid.New().String(),
		EntityKind: e.Kind,
		EntityID:   e.ID,
		Status:     model.JobStatusQueued,
		CreatedAt:  now,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO research_jobs (id, entity_kind, entity_id, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		job.ID, string(job.EntityKind), job.EntityID, string(job.Status), job.CreatedAt,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert first job for %s", e.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit create entity with job")
	}
	return job, nil
}

func (s *SQLiteStore) ClaimQueuedJobs(ctx context.Context, maxJobs int, filter JobFilter) ([]model.ResearchJob, error) {
	if maxJobs <= 0 {
		return nil, eris.Errorf("sqlite: claim batch size must be positive, got %d", maxJobs)
	}

	query := `SELECT id FROM research_jobs WHERE status = 'queued'`
	args := []any{}
	if filter.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, filter.EntityID)
	} else if filter.EntityKind != "" {
		query += ` AND entity_kind = ?`
		args = append(args, string(filter.EntityKind))
	}
	query += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, maxJobs)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select queued jobs")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan job id")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: select queued jobs iterate")
	}

	// The status guard on each update is the claim: a concurrent caller that
	// already moved the job to running makes this a zero-row no-op.
	now := nowUTC()
	var claimed []model.ResearchJob
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx,
			`UPDATE research_jobs SET status = 'running', started_at = ?
			 WHERE id = ? AND status = 'queued'`,
			now, id,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: claim job %s", id)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: rows affected")
		}
		if n == 0 {
			continue // lost the race, not an error
		}
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, *job)
	}
	return claimed, nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID, summary, notes string) error {
	now := nowUTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin complete job")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE research_jobs SET status = 'succeeded', completed_at = ?, result_summary = ?
		 WHERE id = ? AND status = 'running'`,
		now, summary, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return s.jobTransitionError(ctx, jobID, "complete")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET research_notes = ?, research_updated_at = ?, updated_at = ?
		 WHERE id = (SELECT entity_id FROM research_jobs WHERE id = ?)`,
		notes, now, now, jobID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: apply research for job %s", jobID)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit complete job")
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_jobs SET status = 'failed', completed_at = ?, error_message = ?
		 WHERE id = ? AND status = 'running'`,
		nowUTC(), errMsg, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return s.jobTransitionError(ctx, jobID, "fail")
	}
	return nil
}

func (s *SQLiteStore) jobTransitionError(ctx context.Context, jobID, op string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return eris.Errorf("sqlite: cannot %s job %s in status %s", op, jobID, job.Status)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.ResearchJob, error) {
	j, err := scanJobRow(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM research_jobs WHERE id = ?`, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: job %s", jobID)
		}
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ResearchJob, error) {
	query := `SELECT ` + jobColumns + ` FROM research_jobs WHERE 1=1`
	args := []any{}

	if filter.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, filter.EntityID)
	}
	if filter.EntityKind != "" {
		query += ` AND entity_kind = ?`
		args = append(args, string(filter.EntityKind))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.ResearchJob
	for rows.Next() {
		j, err := scanJobRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) GetPipeline(ctx context.Context, companyID string) (*model.CompanyPipeline, error) {
	var p model.CompanyPipeline
	err := s.db.QueryRowContext(ctx,
		`SELECT company_id, phase, updated_at FROM company_pipelines WHERE company_id = ?`,
		companyID,
	).Scan(&p.CompanyID, &p.Phase, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get pipeline %s", companyID)
	}
	return &p, nil
}

func (s *SQLiteStore) UpsertPipeline(ctx context.Context, companyID string, phase model.Phase) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO company_pipelines (company_id, phase, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (company_id) DO UPDATE SET phase = excluded.phase, updated_at = excluded.updated_at`,
		companyID, string(phase), nowUTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert pipeline %s", companyID)
}

func (s *SQLiteStore) ListPipelines(ctx context.Context) ([]model.CompanyPipeline, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT company_id, phase, updated_at FROM company_pipelines`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pipelines")
	}
	defer rows.Close()

	var out []model.CompanyPipeline
	for rows.Next() {
		var p model.CompanyPipeline
		if err := rows.Scan(&p.CompanyID, &p.Phase, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pipeline")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list pipelines iterate")
}
