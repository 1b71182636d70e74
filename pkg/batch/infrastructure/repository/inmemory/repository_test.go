package inmemory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchmig/pkg/batch/core/domain/repository"
	"github.com/tigerroll/batchmig/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
	testutil "github.com/tigerroll/batchmig/pkg/batch/test"
)

func TestInMemoryRepository_RegisterMigration(t *testing.T) {
	repo := inmemory.NewInMemoryMigrationRepository()
	ctx := context.Background()

	m, inserted, err := repo.RegisterMigration(ctx, testutil.NewTestMigration("app", "20240101000000_backfill", 0, testutil.Int64(10), 5))
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(1), m.ID)

	again, inserted, err := repo.RegisterMigration(ctx, testutil.NewTestMigration("app", "20240101000000_backfill", 3, testutil.Int64(4), 1))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, m.ID, again.ID)
	assert.Equal(t, int64(5), again.BatchSize)

	// Returned records are copies.
	again.Status = model.MigrationStatusSucceeded
	stored, err := repo.FindMigrationByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MigrationStatusPending, stored.Status)
}

func TestInMemoryRepository_StatusCompareAndSet(t *testing.T) {
	repo := inmemory.NewInMemoryMigrationRepository()
	ctx := context.Background()
	m, _, err := repo.RegisterMigration(ctx, testutil.NewTestMigration("app", "20240101000000_backfill", 0, testutil.Int64(10), 5))
	require.NoError(t, err)

	ok, err := repo.UpdateMigrationStatus(ctx, m.ID, []model.MigrationStatus{model.MigrationStatusRunning}, model.MigrationStatusPaused)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.UpdateMigrationStatus(ctx, m.ID, model.SourcesFor(model.MigrationStatusRunning), model.MigrationStatusRunning)
	require.NoError(t, err)
	assert.True(t, ok)

	running, err := repo.FindNextRunnableMigration(ctx, "app", []model.MigrationStatus{model.MigrationStatusRunning})
	require.NoError(t, err)
	assert.Equal(t, m.ID, running.ID)
	assert.NotNil(t, running.StartedAt)

	_, err = repo.FindMigrationByIdentity(ctx, "app", "20990101000000")
	assert.ErrorIs(t, err, repository.ErrMigrationNotFound)
}

func TestInMemoryRepository_ConcurrentClaims(t *testing.T) {
	repo := inmemory.NewInMemoryMigrationRepository()
	ctx := context.Background()
	m, _, err := repo.RegisterMigration(ctx, testutil.NewTestMigration("app", "20240101000000_backfill", 0, testutil.Int64(10), 5))
	require.NoError(t, err)

	job := &model.Job{BatchedMigrationID: m.ID, MinValue: 0, MaxValue: 4}
	require.NoError(t, repo.CreateJob(ctx, job))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			candidate := *job
			claimed, err := repo.StartJob(ctx, &candidate)
			assert.NoError(t, err)
			if claimed {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)

	_, err = repo.FindFirstUnstartedJob(ctx, m.ID)
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
}

func TestInMemoryRepository_FinishAndReset(t *testing.T) {
	repo := inmemory.NewInMemoryMigrationRepository()
	ctx := context.Background()
	m, _, err := repo.RegisterMigration(ctx, testutil.NewTestMigration("app", "20240101000000_backfill", 0, testutil.Int64(9), 5))
	require.NoError(t, err)

	first := &model.Job{BatchedMigrationID: m.ID, MinValue: 0, MaxValue: 4}
	second := &model.Job{BatchedMigrationID: m.ID, MinValue: 5, MaxValue: 9}
	require.NoError(t, repo.CreateJob(ctx, first))
	require.NoError(t, repo.CreateJob(ctx, second))

	for _, j := range []*model.Job{first, second} {
		claimed, err := repo.StartJob(ctx, j)
		require.NoError(t, err)
		require.True(t, claimed)
	}

	first.Status = model.JobStatusFailed
	first.Data = model.JobData{"message": "boom"}
	require.NoError(t, repo.FinishJob(ctx, first))
	second.Status = model.JobStatusSucceeded
	require.NoError(t, repo.FinishJob(ctx, second))

	err = repo.FinishJob(ctx, second)
	assert.True(t, exception.IsOptimisticLockingFailure(err))

	latest, err := repo.FindLatestJob(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	failed, err := repo.CountJobs(ctx, m.ID, model.JobStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), failed)

	reset, err := repo.ResetFailedJobs(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	unstarted, err := repo.FindFirstUnstartedJob(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, unstarted.ID)
	assert.Nil(t, unstarted.Data)
	assert.Equal(t, 1, unstarted.Attempts)

	succeeded, err := repo.FindJobs(ctx, m.ID, repository.JobFilter{Status: model.JobStatusSucceeded})
	require.NoError(t, err)
	require.Len(t, succeeded, 1)
	assert.Equal(t, second.ID, succeeded[0].ID)
}

func TestInMemoryRepository_CreateJobUnknownMigration(t *testing.T) {
	repo := inmemory.NewInMemoryMigrationRepository()

	err := repo.CreateJob(context.Background(), &model.Job{BatchedMigrationID: 42, MinValue: 0, MaxValue: 1})
	assert.ErrorIs(t, err, repository.ErrMigrationNotFound)
}
