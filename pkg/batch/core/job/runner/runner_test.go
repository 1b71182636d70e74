package runner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	testify_mock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchmig/pkg/batch/core/domain/repository"
	"github.com/tigerroll/batchmig/pkg/batch/core/job/planner"
	"github.com/tigerroll/batchmig/pkg/batch/core/job/runner"
	"github.com/tigerroll/batchmig/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
	testutil "github.com/tigerroll/batchmig/pkg/batch/test"
)

func register(t *testing.T, repo repository.MigrationRepository, min int64, max *int64, batch int64) *model.Migration {
	t.Helper()
	m, inserted, err := repo.RegisterMigration(context.Background(), testutil.NewTestMigration("app", "20240101000000_backfill", min, max, batch))
	require.NoError(t, err)
	require.True(t, inserted)
	return m
}

func jobs(t *testing.T, repo repository.MigrationRepository, id int64) []*model.Job {
	t.Helper()
	out, err := repo.FindJobs(context.Background(), id, repository.JobFilter{})
	require.NoError(t, err)
	return out
}

func TestRunner_FullRunTilesRange(t *testing.T) {
	repo := inmemory.NewInMemoryMigrationRepository()
	m := register(t, repo, 0, testutil.Int64(10000), 1000)
	def := &testutil.RecordingDefinition{}

	result, err := runner.NewRunner(m, def, repo, nil, nil).Run(context.Background(), runner.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, runner.StopReasonFinished, result.StopReason)
	assert.Equal(t, model.MigrationStatusSucceeded, result.Status)
	assert.Equal(t, 11, result.JobsSucceeded)
	assert.Zero(t, result.JobsFailed)
	// One iteration per job plus the finish check.
	assert.Equal(t, 12, result.Iterations)

	all := jobs(t, repo, m.ID)
	require.Len(t, all, 11)
	for i, j := range all {
		assert.Equal(t, model.JobStatusSucceeded, j.Status)
		assert.Equal(t, 1, j.Attempts)
		assert.NotNil(t, j.StartedAt)
		assert.NotNil(t, j.FinishedAt)
		if i < 10 {
			assert.Equal(t, model.Range{Min: int64(i) * 1000, Max: int64(i)*1000 + 999}, j.Range())
		}
	}
	assert.Equal(t, model.Range{Min: 10000, Max: 10000}, all[10].Range())
	assert.Equal(t, int64(1000), all[0].Data["rows"])

	assert.Len(t, def.Ranges(), 11)

	stored, err := repo.FindMigrationByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MigrationStatusSucceeded, stored.Status)
	assert.NotNil(t, stored.StartedAt)

	progress, err := planner.NewPlanner(repo).Progress(context.Background(), stored)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), progress.Current)
	assert.True(t, progress.Done)
}

func TestRunner_SingleIteration(t *testing.T) {
	repo := inmemory.NewInMemoryMigrationRepository()
	m := register(t, repo, 0, testutil.Int64(10000), 1000)

	result, err := runner.NewRunner(m, &testutil.RecordingDefinition{}, repo, nil, nil).Run(context.Background(), runner.RunOptions{Iterations: 1})
	require.NoError(t, err)

	assert.Equal(t, runner.StopReasonIterations, result.StopReason)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, model.MigrationStatusRunning, result.Status)

	all := jobs(t, repo, m.ID)
	require.Len(t, all, 1)
	assert.Equal(t, model.Range{Min: 0, Max: 999}, all[0].Range())

	progress, err := planner.NewPlanner(repo).Progress(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), progress.Current)
	assert.Equal(t, int64(9000), progress.Remaining)
}

func TestRunner_NoRows(t *testing.T) {
	repo := inmemory.NewInMemoryMigrationRepository()
	m := register(t, repo, 0, nil, 1000)
	def := &testutil.RecordingDefinition{}

	result, err := runner.NewRunner(m, def, repo, nil, nil).Run(context.Background(), runner.RunOptions{Iterations: 1})
	require.NoError(t, err)

	assert.Equal(t, runner.StopReasonFinished, result.StopReason)
	assert.Equal(t, model.MigrationStatusSucceeded, result.Status)
	assert.Empty(t, jobs(t, repo, m.ID))
	assert.Empty(t, def.Ranges())
}

func TestRunner_PartialFailure(t *testing.T) {
	repo := inmemory.NewInMemoryMigrationRepository()
	m := register(t, repo, 0, testutil.Int64(10000), 1000)
	def := &testutil.RecordingDefinition{FailAt: map[int64]bool{2000: true}, PanicAt: map[int64]bool{5000: true}}

	result, err := runner.NewRunner(m, def, repo, nil, nil).Run(context.Background(), runner.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, model.MigrationStatusFailed, result.Status)
	assert.Equal(t, runner.StopReasonFinished, result.StopReason)
	assert.Equal(t, 9, result.JobsSucceeded)
	assert.Equal(t, 2, result.JobsFailed)

	// A failure does not stop later ranges from being planned.
	all := jobs(t, repo, m.ID)
	require.Len(t, all, 11)

	failed, err := repo.FindJobs(context.Background(), m.ID, repository.JobFilter{Status: model.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "Error", failed[0].Data["name"])
	assert.Equal(t, "range [2000, 2999] failed", failed[0].Data["message"])
	assert.Equal(t, "exception.BatchError", failed[1].Data["name"])
	assert.Contains(t, failed[1].Data["message"], "panic while executing range [5000, 5999]")
	assert.NotNil(t, failed[1].FinishedAt)
}

func TestRunner_RetryFailedJobsReusesRows(t *testing.T) {
	repo := inmemory.NewInMemoryMigrationRepository()
	ctx := context.Background()
	m := register(t, repo, 0, testutil.Int64(99), 10)
	def := &testutil.RecordingDefinition{FailAt: map[int64]bool{30: true}}

	result, err := runner.NewRunner(m, def, repo, nil, nil).Run(ctx, runner.RunOptions{})
	require.NoError(t, err)
	require.Equal(t, model.MigrationStatusFailed, result.Status)

	reset, err := repo.ResetFailedJobs(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), reset)
	ok, err := repo.UpdateMigrationStatus(ctx, m.ID, []model.MigrationStatus{model.MigrationStatusFailed}, model.MigrationStatusRunning)
	require.NoError(t, err)
	require.True(t, ok)

	def.FailAt = nil
	result, err = runner.NewRunner(m, def, repo, nil, nil).Run(ctx, runner.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, model.MigrationStatusSucceeded, result.Status)
	assert.Equal(t, 1, result.JobsSucceeded)

	all := jobs(t, repo, m.ID)
	require.Len(t, all, 10)
	assert.Equal(t, 2, all[3].Attempts)
	assert.Equal(t, model.JobStatusSucceeded, all[3].Status)
}

func TestRunner_PausedMigrationDoesNotRun(t *testing.T) {
	repo := inmemory.NewInMemoryMigrationRepository()
	ctx := context.Background()
	m := register(t, repo, 0, testutil.Int64(99), 10)
	_, err := repo.UpdateMigrationStatus(ctx, m.ID, model.SourcesFor(model.MigrationStatusPaused), model.MigrationStatusPaused)
	require.NoError(t, err)

	result, err := runner.NewRunner(m, &testutil.RecordingDefinition{}, repo, nil, nil).Run(ctx, runner.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, runner.StopReasonNotRunnable, result.StopReason)
	assert.Equal(t, model.MigrationStatusPaused, result.Status)
	assert.Zero(t, result.Iterations)
	assert.Empty(t, jobs(t, repo, m.ID))
}

func TestRunner_PauseFromAnotherProcessStopsLoop(t *testing.T) {
	repo := inmemory.NewInMemoryMigrationRepository()
	m := register(t, repo, 0, testutil.Int64(99), 10)
	def := &testutil.RecordingDefinition{}
	def.OnExecute = func(ctx context.Context, min, max int64) {
		_, err := repo.UpdateMigrationStatus(ctx, m.ID, model.SourcesFor(model.MigrationStatusPaused), model.MigrationStatusPaused)
		assert.NoError(t, err)
	}

	result, err := runner.NewRunner(m, def, repo, nil, nil).Run(context.Background(), runner.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, runner.StopReasonNotRunnable, result.StopReason)
	assert.Equal(t, model.MigrationStatusPaused, result.Status)
	assert.Equal(t, 1, result.Iterations)
	// The in-flight job still completed.
	all := jobs(t, repo, m.ID)
	require.Len(t, all, 1)
	assert.Equal(t, model.JobStatusSucceeded, all[0].Status)
}

func TestRunner_CancellationWaitsForInFlightJob(t *testing.T) {
	repo := inmemory.NewInMemoryMigrationRepository()
	m := register(t, repo, 0, testutil.Int64(99), 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	def := &testutil.RecordingDefinition{}
	def.OnExecute = func(jobCtx context.Context, min, max int64) {
		cancel()
		assert.NoError(t, jobCtx.Err())
	}

	result, err := runner.NewRunner(m, def, repo, nil, nil).Run(ctx, runner.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, runner.StopReasonCancelled, result.StopReason)
	assert.Equal(t, 1, result.JobsSucceeded)
	all := jobs(t, repo, m.ID)
	require.Len(t, all, 1)
	assert.Equal(t, model.JobStatusSucceeded, all[0].Status)
}

func TestRunner_DurationBudget(t *testing.T) {
	repo := inmemory.NewInMemoryMigrationRepository()
	m := register(t, repo, 0, testutil.Int64(99), 10)
	def := &testutil.RecordingDefinition{}
	def.OnExecute = func(ctx context.Context, min, max int64) { time.Sleep(30 * time.Millisecond) }

	result, err := runner.NewRunner(m, def, repo, nil, nil).Run(context.Background(), runner.RunOptions{Duration: 20 * time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, runner.StopReasonDuration, result.StopReason)
	assert.Equal(t, 1, result.Iterations)
}

func TestRunner_InFlightJobDefersFinish(t *testing.T) {
	repo := inmemory.NewInMemoryMigrationRepository()
	ctx := context.Background()
	m := register(t, repo, 0, testutil.Int64(9), 10)

	// Another worker created and claimed the only range.
	elsewhere := &model.Job{BatchedMigrationID: m.ID, MinValue: 0, MaxValue: 9}
	require.NoError(t, repo.CreateJob(ctx, elsewhere))
	claimed, err := repo.StartJob(ctx, elsewhere)
	require.NoError(t, err)
	require.True(t, claimed)

	def := &testutil.RecordingDefinition{}
	result, err := runner.NewRunner(m, def, repo, nil, nil).Run(ctx, runner.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, runner.StopReasonInFlight, result.StopReason)
	assert.Equal(t, model.MigrationStatusFinalizing, result.Status)
	assert.Empty(t, def.Ranges())

	elsewhere.Status = model.JobStatusSucceeded
	require.NoError(t, repo.FinishJob(ctx, elsewhere))

	result, err = runner.NewRunner(m, def, repo, nil, nil).Run(ctx, runner.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, runner.StopReasonFinished, result.StopReason)
	assert.Equal(t, model.MigrationStatusSucceeded, result.Status)
}

func runningMigration() *model.Migration {
	m := testutil.NewTestMigration("app", "20240101000000_backfill", 0, testutil.Int64(99), 10)
	m.ID = 1
	m.Status = model.MigrationStatusRunning
	return m
}

func TestRunner_StorageErrorPropagates(t *testing.T) {
	repo := new(testutil.MockMigrationRepository)
	m := runningMigration()
	repo.On("FindMigrationByID", testify_mock.Anything, int64(1)).Return(runningMigration(), nil)
	repo.On("FindFirstUnstartedJob", testify_mock.Anything, int64(1)).Return(nil, repository.ErrJobNotFound)
	repo.On("FindLatestJob", testify_mock.Anything, int64(1)).Return(nil, repository.ErrJobNotFound)
	repo.On("CreateJob", testify_mock.Anything, testify_mock.AnythingOfType("*model.Job")).Return(errors.New("disk full"))

	def := &testutil.RecordingDefinition{}
	_, err := runner.NewRunner(m, def, repo, nil, nil).Run(context.Background(), runner.RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, def.Ranges())
	repo.AssertExpectations(t)
}

func TestRunner_FinalizationErrorLeavesStatus(t *testing.T) {
	repo := new(testutil.MockMigrationRepository)
	m := runningMigration()
	m.MaxValue = nil
	repo.On("FindMigrationByID", testify_mock.Anything, int64(1)).Return(runningMigration(), nil)
	repo.On("FindFirstUnstartedJob", testify_mock.Anything, int64(1)).Return(nil, repository.ErrJobNotFound)
	repo.On("FindLatestJob", testify_mock.Anything, int64(1)).Return(nil, repository.ErrJobNotFound)
	repo.On("CountJobs", testify_mock.Anything, int64(1), model.JobStatusPending).Return(int64(0), errors.New("connection refused"))

	result, err := runner.NewRunner(m, &testutil.RecordingDefinition{}, repo, nil, nil).Run(context.Background(), runner.RunOptions{})
	require.Error(t, err)
	assert.True(t, exception.IsBatchError(err))
	assert.Equal(t, model.MigrationStatusRunning, result.Status)
	repo.AssertNotCalled(t, "UpdateMigrationStatus", testify_mock.Anything, testify_mock.Anything, testify_mock.Anything, testify_mock.Anything)
}

func TestRunner_LostClaimIsSkipped(t *testing.T) {
	repo := new(testutil.MockMigrationRepository)
	m := runningMigration()
	pending := &model.Job{ID: 5, BatchedMigrationID: 1, MinValue: 0, MaxValue: 9, Status: model.JobStatusPending}
	repo.On("FindMigrationByID", testify_mock.Anything, int64(1)).Return(runningMigration(), nil)
	repo.On("FindFirstUnstartedJob", testify_mock.Anything, int64(1)).Return(pending, nil)
	repo.On("StartJob", testify_mock.Anything, pending).Return(false, nil)

	def := &testutil.RecordingDefinition{}
	result, err := runner.NewRunner(m, def, repo, nil, nil).Run(context.Background(), runner.RunOptions{Iterations: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, result.JobsSkipped)
	assert.Empty(t, def.Ranges())
	repo.AssertNotCalled(t, "FinishJob", testify_mock.Anything, testify_mock.Anything)
}

func TestDecide(t *testing.T) {
	assert.Equal(t, model.MigrationStatusFinalizing, runner.Decide(1, 0))
	assert.Equal(t, model.MigrationStatusFinalizing, runner.Decide(1, 3))
	assert.Equal(t, model.MigrationStatusFailed, runner.Decide(0, 1))
	assert.Equal(t, model.MigrationStatusSucceeded, runner.Decide(0, 0))
}

func TestReconciler_AdoptsConcurrentPause(t *testing.T) {
	repo := inmemory.NewInMemoryMigrationRepository()
	ctx := context.Background()
	m := register(t, repo, 0, nil, 10)
	_, err := repo.UpdateMigrationStatus(ctx, m.ID, model.SourcesFor(model.MigrationStatusPaused), model.MigrationStatusPaused)
	require.NoError(t, err)

	// The caller still believes the migration is running.
	m.Status = model.MigrationStatusRunning
	status, err := runner.NewReconciler(repo, nil).Reconcile(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, model.MigrationStatusPaused, status)
}
