package test

import (
	"context"

	"github.com/stretchr/testify/mock"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchmig/pkg/batch/core/domain/repository"
)

// MockMigrationRepository is a testify mock of repository.MigrationRepository.
type MockMigrationRepository struct {
	mock.Mock
}

func (m *MockMigrationRepository) RegisterMigration(ctx context.Context, mig *model.Migration) (*model.Migration, bool, error) {
	args := m.Called(ctx, mig)
	out, _ := args.Get(0).(*model.Migration)
	return out, args.Bool(1), args.Error(2)
}

func (m *MockMigrationRepository) FindMigrationByID(ctx context.Context, id int64) (*model.Migration, error) {
	args := m.Called(ctx, id)
	out, _ := args.Get(0).(*model.Migration)
	return out, args.Error(1)
}

func (m *MockMigrationRepository) FindMigrationByIdentity(ctx context.Context, project, timestamp string) (*model.Migration, error) {
	args := m.Called(ctx, project, timestamp)
	out, _ := args.Get(0).(*model.Migration)
	return out, args.Error(1)
}

func (m *MockMigrationRepository) FindMigrations(ctx context.Context, project string) ([]*model.Migration, error) {
	args := m.Called(ctx, project)
	out, _ := args.Get(0).([]*model.Migration)
	return out, args.Error(1)
}

func (m *MockMigrationRepository) FindNextRunnableMigration(ctx context.Context, project string, statuses []model.MigrationStatus) (*model.Migration, error) {
	args := m.Called(ctx, project, statuses)
	out, _ := args.Get(0).(*model.Migration)
	return out, args.Error(1)
}

func (m *MockMigrationRepository) UpdateMigrationStatus(ctx context.Context, id int64, from []model.MigrationStatus, next model.MigrationStatus) (bool, error) {
	args := m.Called(ctx, id, from, next)
	return args.Bool(0), args.Error(1)
}

func (m *MockMigrationRepository) FindLatestJob(ctx context.Context, migrationID int64) (*model.Job, error) {
	args := m.Called(ctx, migrationID)
	out, _ := args.Get(0).(*model.Job)
	return out, args.Error(1)
}

func (m *MockMigrationRepository) FindFirstUnstartedJob(ctx context.Context, migrationID int64) (*model.Job, error) {
	args := m.Called(ctx, migrationID)
	out, _ := args.Get(0).(*model.Job)
	return out, args.Error(1)
}

func (m *MockMigrationRepository) CreateJob(ctx context.Context, job *model.Job) error {
	return m.Called(ctx, job).Error(0)
}

func (m *MockMigrationRepository) StartJob(ctx context.Context, job *model.Job) (bool, error) {
	args := m.Called(ctx, job)
	return args.Bool(0), args.Error(1)
}

func (m *MockMigrationRepository) FinishJob(ctx context.Context, job *model.Job) error {
	return m.Called(ctx, job).Error(0)
}

func (m *MockMigrationRepository) CountJobs(ctx context.Context, migrationID int64, status model.JobStatus) (int64, error) {
	args := m.Called(ctx, migrationID, status)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMigrationRepository) FindJobs(ctx context.Context, migrationID int64, filter repository.JobFilter) ([]*model.Job, error) {
	args := m.Called(ctx, migrationID, filter)
	out, _ := args.Get(0).([]*model.Job)
	return out, args.Error(1)
}

func (m *MockMigrationRepository) ResetFailedJobs(ctx context.Context, migrationID int64) (int64, error) {
	args := m.Called(ctx, migrationID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMigrationRepository) ReclaimJob(ctx context.Context, jobID int64) (bool, error) {
	args := m.Called(ctx, jobID)
	return args.Bool(0), args.Error(1)
}

var _ repository.MigrationRepository = (*MockMigrationRepository)(nil)
