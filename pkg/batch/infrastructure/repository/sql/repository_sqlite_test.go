package sql_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"

	gormadapter "github.com/tigerroll/batchmig/pkg/batch/adapter/database/gorm"
	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchmig/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/batchmig/pkg/batch/core/tx"
	sqlrepo "github.com/tigerroll/batchmig/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
	testutil "github.com/tigerroll/batchmig/pkg/batch/test"
)

func setupSQLiteRepository(t *testing.T) (*sqlrepo.SQLMigrationRepository, tx.TransactionManager) {
	conn := testutil.NewSQLiteTestConnection(t)
	resolver := testutil.NewTestSingleConnectionResolver(conn)
	return sqlrepo.NewSQLMigrationRepository(resolver, "metadata"), gormadapter.NewGormTransactionManager(resolver, "metadata")
}

func registerTestMigration(t *testing.T, repo *sqlrepo.SQLMigrationRepository, filename string, max *int64) *model.Migration {
	t.Helper()
	m, inserted, err := repo.RegisterMigration(context.Background(), testutil.NewTestMigration("app", filename, 0, max, 100))
	require.NoError(t, err)
	require.True(t, inserted)
	return m
}

func TestSQLiteRepository_RegisterMigrationIsIdempotent(t *testing.T) {
	repo, _ := setupSQLiteRepository(t)
	ctx := context.Background()

	first, inserted, err := repo.RegisterMigration(ctx, testutil.NewTestMigration("app", "20240101000000_backfill", 1, testutil.Int64(500), 50))
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, first.ID)
	assert.Equal(t, model.MigrationStatusPending, first.Status)
	assert.Equal(t, "20240101000000", first.Timestamp)
	require.NotNil(t, first.MaxValue)
	assert.Equal(t, int64(500), *first.MaxValue)
	assert.Nil(t, first.StartedAt)

	// Same (project, timestamp) with different parameters keeps the original record.
	second, inserted, err := repo.RegisterMigration(ctx, testutil.NewTestMigration("app", "20240101000000_backfill", 7, testutil.Int64(9), 3))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(50), second.BatchSize)

	// Another project may reuse the timestamp.
	other, inserted, err := repo.RegisterMigration(ctx, testutil.NewTestMigration("other", "20240101000000_backfill", 1, nil, 50))
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotEqual(t, first.ID, other.ID)
	assert.Nil(t, other.MaxValue)
}

func TestSQLiteRepository_RegisterMigrationRejectsInvalidRecord(t *testing.T) {
	repo, _ := setupSQLiteRepository(t)

	m := testutil.NewTestMigration("app", "20240101000000_backfill", 10, testutil.Int64(5), 50)
	_, _, err := repo.RegisterMigration(context.Background(), m)
	require.Error(t, err)
	assert.True(t, exception.IsBatchError(err))
}

func TestSQLiteRepository_FindMigrations(t *testing.T) {
	repo, _ := setupSQLiteRepository(t)
	ctx := context.Background()

	later := registerTestMigration(t, repo, "20240301000000_later", testutil.Int64(10))
	earlier := registerTestMigration(t, repo, "20240201000000_earlier", testutil.Int64(10))

	all, err := repo.FindMigrations(ctx, "app")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, earlier.ID, all[0].ID)
	assert.Equal(t, later.ID, all[1].ID)

	none, err := repo.FindMigrations(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = repo.FindMigrationByID(ctx, 9999)
	assert.ErrorIs(t, err, repository.ErrMigrationNotFound)

	found, err := repo.FindMigrationByIdentity(ctx, "app", "20240301000000")
	require.NoError(t, err)
	assert.Equal(t, later.ID, found.ID)

	next, err := repo.FindNextRunnableMigration(ctx, "app", []model.MigrationStatus{model.MigrationStatusPending})
	require.NoError(t, err)
	assert.Equal(t, earlier.ID, next.ID)

	_, err = repo.FindNextRunnableMigration(ctx, "app", []model.MigrationStatus{model.MigrationStatusRunning})
	assert.ErrorIs(t, err, repository.ErrMigrationNotFound)
}

func TestSQLiteRepository_UpdateMigrationStatus(t *testing.T) {
	repo, _ := setupSQLiteRepository(t)
	ctx := context.Background()
	m := registerTestMigration(t, repo, "20240101000000_backfill", testutil.Int64(10))

	// Source status does not match: nothing happens.
	ok, err := repo.UpdateMigrationStatus(ctx, m.ID, []model.MigrationStatus{model.MigrationStatusPaused}, model.MigrationStatusRunning)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.UpdateMigrationStatus(ctx, m.ID, model.SourcesFor(model.MigrationStatusRunning), model.MigrationStatusRunning)
	require.NoError(t, err)
	assert.True(t, ok)

	running, err := repo.FindMigrationByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MigrationStatusRunning, running.Status)
	require.NotNil(t, running.StartedAt)

	// Pausing and resuming keeps the first started_at.
	ok, err = repo.UpdateMigrationStatus(ctx, m.ID, model.SourcesFor(model.MigrationStatusPaused), model.MigrationStatusPaused)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.UpdateMigrationStatus(ctx, m.ID, model.SourcesFor(model.MigrationStatusRunning), model.MigrationStatusRunning)
	require.NoError(t, err)
	assert.True(t, ok)

	resumed, err := repo.FindMigrationByID(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, resumed.StartedAt)
	assert.True(t, running.StartedAt.Equal(*resumed.StartedAt))
}

func TestSQLiteRepository_JobLifecycle(t *testing.T) {
	repo, _ := setupSQLiteRepository(t)
	ctx := context.Background()
	m := registerTestMigration(t, repo, "20240101000000_backfill", testutil.Int64(199))

	_, err := repo.FindLatestJob(ctx, m.ID)
	assert.ErrorIs(t, err, repository.ErrJobNotFound)

	job := &model.Job{BatchedMigrationID: m.ID, MinValue: 0, MaxValue: 99}
	require.NoError(t, repo.CreateJob(ctx, job))
	assert.NotZero(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)

	latest, err := repo.FindLatestJob(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, latest.ID)

	unstarted, err := repo.FindFirstUnstartedJob(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, unstarted.ID)
	assert.Nil(t, unstarted.StartedAt)

	// Two workers race for the same job; only one claim wins.
	rival := *unstarted
	claimed, err := repo.StartJob(ctx, unstarted)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, 1, unstarted.Attempts)
	assert.NotNil(t, unstarted.StartedAt)

	claimed, err = repo.StartJob(ctx, &rival)
	require.NoError(t, err)
	assert.False(t, claimed)

	_, err = repo.FindFirstUnstartedJob(ctx, m.ID)
	assert.ErrorIs(t, err, repository.ErrJobNotFound)

	pending, err := repo.CountJobs(ctx, m.ID, model.JobStatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	unstarted.Status = model.JobStatusFailed
	unstarted.Data = model.JobData{"name": "Error", "message": "boom"}
	require.NoError(t, repo.FinishJob(ctx, unstarted))

	// A second finish no longer matches a pending row.
	err = repo.FinishJob(ctx, unstarted)
	assert.True(t, exception.IsOptimisticLockingFailure(err))

	failed, err := repo.FindJobs(ctx, m.ID, repository.JobFilter{Status: model.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].Data["message"])
	assert.NotNil(t, failed[0].FinishedAt)
	assert.Equal(t, 1, failed[0].Attempts)

	second := &model.Job{BatchedMigrationID: m.ID, MinValue: 100, MaxValue: 199}
	require.NoError(t, repo.CreateJob(ctx, second))
	latest, err = repo.FindLatestJob(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	all, err := repo.FindJobs(ctx, m.ID, repository.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, job.ID, all[0].ID)

	limited, err := repo.FindJobs(ctx, m.ID, repository.JobFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteRepository_FinishJobRequiresTerminalStatus(t *testing.T) {
	repo, _ := setupSQLiteRepository(t)
	ctx := context.Background()
	m := registerTestMigration(t, repo, "20240101000000_backfill", testutil.Int64(9))

	job := &model.Job{BatchedMigrationID: m.ID, MinValue: 0, MaxValue: 9}
	require.NoError(t, repo.CreateJob(ctx, job))

	err := repo.FinishJob(ctx, job)
	require.Error(t, err)
	assert.True(t, exception.IsBatchError(err))
}

func TestSQLiteRepository_ResetFailedJobsInTransaction(t *testing.T) {
	repo, tm := setupSQLiteRepository(t)
	ctx := context.Background()
	m := registerTestMigration(t, repo, "20240101000000_backfill", testutil.Int64(19))

	for _, r := range []model.Range{{Min: 0, Max: 9}, {Min: 10, Max: 19}} {
		job := &model.Job{BatchedMigrationID: m.ID, MinValue: r.Min, MaxValue: r.Max}
		require.NoError(t, repo.CreateJob(ctx, job))
		claimed, err := repo.StartJob(ctx, job)
		require.NoError(t, err)
		require.True(t, claimed)
		job.Status = model.JobStatusFailed
		if r.Min == 10 {
			job.Status = model.JobStatusSucceeded
		}
		job.Data = model.JobData{"message": "x"}
		require.NoError(t, repo.FinishJob(ctx, job))
	}

	var reset int64
	err := tx.RunInTx(ctx, tm, func(txCtx context.Context) error {
		var err error
		reset, err = repo.ResetFailedJobs(txCtx, m.ID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	unstarted, err := repo.FindFirstUnstartedJob(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), unstarted.MinValue)
	assert.Nil(t, unstarted.StartedAt)
	assert.Nil(t, unstarted.FinishedAt)
	assert.Nil(t, unstarted.Data)
	assert.Equal(t, 1, unstarted.Attempts)

	failed, err := repo.CountJobs(ctx, m.ID, model.JobStatusFailed)
	require.NoError(t, err)
	assert.Zero(t, failed)
}

func TestSQLiteRepository_RollbackDiscardsWrites(t *testing.T) {
	repo, tm := setupSQLiteRepository(t)
	ctx := context.Background()
	m := registerTestMigration(t, repo, "20240101000000_backfill", testutil.Int64(9))

	err := tx.RunInTx(ctx, tm, func(txCtx context.Context) error {
		if _, err := repo.UpdateMigrationStatus(txCtx, m.ID, model.SourcesFor(model.MigrationStatusPaused), model.MigrationStatusPaused); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	stored, err := repo.FindMigrationByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MigrationStatusPending, stored.Status)
}

func TestSQLiteRepository_ReclaimJob(t *testing.T) {
	repo, tm := setupSQLiteRepository(t)
	ctx := context.Background()
	m := registerTestMigration(t, repo, "20240101000000_backfill", testutil.Int64(99))

	job := &model.Job{BatchedMigrationID: m.ID, MinValue: 0, MaxValue: 99}
	require.NoError(t, repo.CreateJob(ctx, job))

	reclaimed, err := repo.ReclaimJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, reclaimed, "an unstarted job is not in flight")

	claimed, err := repo.StartJob(ctx, job)
	require.NoError(t, err)
	require.True(t, claimed)

	err = tx.RunInTx(ctx, tm, func(txCtx context.Context) error {
		var err error
		reclaimed, err = repo.ReclaimJob(txCtx, job.ID)
		return err
	})
	require.NoError(t, err)
	assert.True(t, reclaimed)

	unstarted, err := repo.FindFirstUnstartedJob(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, unstarted.ID)
	assert.Nil(t, unstarted.StartedAt)
	assert.Equal(t, 1, unstarted.Attempts)

	all, err := repo.FindJobs(ctx, m.ID, repository.JobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// The reclaimed job can be claimed again, and a finished one is left alone.
	claimed, err = repo.StartJob(ctx, unstarted)
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Equal(t, 2, unstarted.Attempts)
	unstarted.Status = model.JobStatusSucceeded
	require.NoError(t, repo.FinishJob(ctx, unstarted))

	reclaimed, err = repo.ReclaimJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, reclaimed)

	reclaimed, err = repo.ReclaimJob(ctx, 999)
	require.NoError(t, err)
	assert.False(t, reclaimed)
}

type capturedLog struct {
	mu    sync.Mutex
	lines []string
}

func (c *capturedLog) Printf(format string, v ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, fmt.Sprintf(format, v...))
}

func (c *capturedLog) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestSQLiteRepository_JobQueriesLogNoErrors(t *testing.T) {
	captured := &capturedLog{}
	conn := testutil.NewSQLiteTestConnectionWithLogger(t, gormlogger.New(captured, gormlogger.Config{
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	}))
	repo := sqlrepo.NewSQLMigrationRepository(testutil.NewTestSingleConnectionResolver(conn), "metadata")
	ctx := context.Background()
	m := registerTestMigration(t, repo, "20240101000000_backfill", testutil.Int64(99))

	count, err := repo.CountJobs(ctx, m.ID, model.JobStatusPending)
	require.NoError(t, err)
	assert.Zero(t, count)

	job := &model.Job{BatchedMigrationID: m.ID, MinValue: 0, MaxValue: 99}
	require.NoError(t, repo.CreateJob(ctx, job))
	_, err = repo.StartJob(ctx, job)
	require.NoError(t, err)
	job.Status = model.JobStatusSucceeded
	job.Data = model.JobData{"rows": 100}
	require.NoError(t, repo.FinishJob(ctx, job))

	count, err = repo.CountJobs(ctx, m.ID, model.JobStatusSucceeded)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	jobs, err := repo.FindJobs(ctx, m.ID, repository.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.EqualValues(t, 100, jobs[0].Data["rows"])

	assert.Empty(t, captured.Lines(), "GORM logged warnings or errors")
}
