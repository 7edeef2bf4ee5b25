package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealflow/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func jobRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "entity_kind", "entity_id", "status", "created_at",
		"started_at", "completed_at", "result_summary", "error_message",
	})
}

func TestPostgresStore_GetEntity_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)SELECT .+ FROM entities WHERE id`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetEntity(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindEntityByIdentity_NoMatch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)SELECT .+ FROM entities\s+WHERE kind`).
		WithArgs("company", "acme health", "acme.com").
		WillReturnError(pgx.ErrNoRows)

	e, err := s.FindEntityByIdentity(context.Background(), model.KindCompany, "acme health", "acme.com")
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnqueueJob_New(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO research_jobs`).
		WithArgs(pgxmock.AnyArg(), "company", "ent-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, created, err := s.EnqueueJob(context.Background(), model.KindCompany, "ent-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.Equal(t, "ent-1", job.EntityID)
	assert.NotEmpty(t, job.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnqueueJob_AlreadyActive(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// Conditional insert matches nothing when an active job exists.
	mock.ExpectExec(`INSERT INTO research_jobs`).
		WithArgs(pgxmock.AnyArg(), "company", "ent-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	mock.ExpectQuery(`SELECT .+ FROM research_jobs\s+WHERE entity_kind`).
		WithArgs("company", "ent-1").
		WillReturnRows(jobRows().AddRow(
			"job-1", "company", "ent-1", "running", time.Now().UTC(),
			nil, nil, "", "",
		))

	job, created, err := s.EnqueueJob(context.Background(), model.KindCompany, "ent-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, model.JobStatusRunning, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnqueueJob_RetriesWhenActiveJobFinishes(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// The blocking job finishes between the conditional insert and the
	// follow-up select; the second insert succeeds.
	mock.ExpectExec(`INSERT INTO research_jobs`).
		WithArgs(pgxmock.AnyArg(), "company", "ent-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`SELECT .+ FROM research_jobs\s+WHERE entity_kind`).
		WithArgs("company", "ent-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO research_jobs`).
		WithArgs(pgxmock.AnyArg(), "company", "ent-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, created, err := s.EnqueueJob(context.Background(), model.KindCompany, "ent-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimQueuedJobs(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)UPDATE research_jobs SET status = 'running'.+FOR UPDATE SKIP LOCKED.+RETURNING`).
		WithArgs(pgxmock.AnyArg(), 5).
		WillReturnRows(jobRows().
			AddRow("job-1", "company", "ent-1", "running", time.Now().UTC(), nil, nil, "", "").
			AddRow("job-2", "health_system", "ent-2", "running", time.Now().UTC(), nil, nil, "", ""))

	jobs, err := s.ClaimQueuedJobs(context.Background(), 5, JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-1", jobs[0].ID)
	assert.Equal(t, model.JobStatusRunning, jobs[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimQueuedJobs_OrdersOldestFirst(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	older := time.Now().UTC().Add(-time.Minute)
	newer := time.Now().UTC()

	// RETURNING rows arrive newest-first regardless of the subquery order.
	mock.ExpectQuery(`(?s)UPDATE research_jobs SET status = 'running'.+FOR UPDATE SKIP LOCKED.+RETURNING`).
		WithArgs(pgxmock.AnyArg(), 5).
		WillReturnRows(jobRows().
			AddRow("job-new", "company", "ent-2", "running", newer, nil, nil, "", "").
			AddRow("job-old", "company", "ent-1", "running", older, nil, nil, "", ""))

	jobs, err := s.ClaimQueuedJobs(context.Background(), 5, JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-old", jobs[0].ID)
	assert.Equal(t, "job-new", jobs[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimQueuedJobs_EntityFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)UPDATE research_jobs SET status = 'running'.+AND entity_id`).
		WithArgs(pgxmock.AnyArg(), "ent-1", 1).
		WillReturnRows(jobRows())

	jobs, err := s.ClaimQueuedJobs(context.Background(), 1, JobFilter{EntityID: "ent-1"})
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE research_jobs SET status = 'succeeded'`).
		WithArgs(pgxmock.AnyArg(), "all good", "job-1").
		WillReturnRows(pgxmock.NewRows([]string{"entity_id"}).AddRow("ent-1"))
	mock.ExpectExec(`UPDATE entities SET research_notes`).
		WithArgs("notes body", pgxmock.AnyArg(), "ent-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := s.CompleteJob(context.Background(), "job-1", "all good", "notes body")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteJob_NotRunning(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE research_jobs SET status = 'succeeded'`).
		WithArgs(pgxmock.AnyArg(), "", "job-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT .+ FROM research_jobs WHERE id`).
		WithArgs("job-1").
		WillReturnRows(jobRows().AddRow(
			"job-1", "company", "ent-1", "succeeded", time.Now().UTC(),
			nil, nil, "done", "",
		))
	mock.ExpectRollback()

	err := s.CompleteJob(context.Background(), "job-1", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot complete")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailJob_NotRunning(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE research_jobs SET status = 'failed'`).
		WithArgs(pgxmock.AnyArg(), "boom", "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT .+ FROM research_jobs WHERE id`).
		WithArgs("job-1").
		WillReturnRows(jobRows().AddRow(
			"job-1", "company", "ent-1", "failed", time.Now().UTC(),
			nil, nil, "", "earlier failure",
		))

	err := s.FailJob(context.Background(), "job-1", "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot fail")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailJob_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE research_jobs SET status = 'failed'`).
		WithArgs(pgxmock.AnyArg(), "boom", "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT .+ FROM research_jobs WHERE id`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	err := s.FailJob(context.Background(), "ghost", "boom")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteEntity_ActiveJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM entities`).
		WithArgs("ent-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("ent-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	err := s.DeleteEntity(context.Background(), "ent-1")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrActiveJob))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateEntityWithJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	entityAnyArgs := make([]any, 18)
	for i := range entityAnyArgs {
		entityAnyArgs[i] = pgxmock.AnyArg()
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO entities`).
		WithArgs(entityAnyArgs...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO research_jobs`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	e := &model.Entity{Kind: model.KindCompany, Name: "Acme Health"}
	job, err := s.CreateEntityWithJob(context.Background(), e)
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, e.ID, job.EntityID)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertPipeline(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`(?s)INSERT INTO company_pipelines .+ON CONFLICT`).
		WithArgs("ent-1", "screening", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertPipeline(context.Background(), "ent-1", model.PhaseScreening)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPipeline_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT company_id, phase, updated_at FROM company_pipelines`).
		WithArgs("ent-1").
		WillReturnError(pgx.ErrNoRows)

	p, err := s.GetPipeline(context.Background(), "ent-1")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}
