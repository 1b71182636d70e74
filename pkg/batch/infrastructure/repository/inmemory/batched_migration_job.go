package inmemory

import (
	"context"
	"fmt"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchmig/pkg/batch/core/domain/repository"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
)

// FindLatestJob implements repository.BatchedMigrationJob.
func (r *InMemoryMigrationRepository) FindLatestJob(ctx context.Context, migrationID int64) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.jobsByMigration[migrationID]
	if len(ids) == 0 {
		return nil, repository.ErrJobNotFound
	}
	return cloneJob(r.jobs[ids[len(ids)-1]]), nil
}

// FindFirstUnstartedJob implements repository.BatchedMigrationJob.
func (r *InMemoryMigrationRepository) FindFirstUnstartedJob(ctx context.Context, migrationID int64) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.jobsByMigration[migrationID] {
		j := r.jobs[id]
		if j.Status == model.JobStatusPending && j.StartedAt == nil {
			return cloneJob(j), nil
		}
	}
	return nil, repository.ErrJobNotFound
}

// CreateJob implements repository.BatchedMigrationJob.
func (r *InMemoryMigrationRepository) CreateJob(ctx context.Context, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.migrations[job.BatchedMigrationID]; !ok {
		return exception.NewBatchError("InMemoryMigrationRepository.CreateJob",
			fmt.Sprintf("migration %d does not exist", job.BatchedMigrationID), repository.ErrMigrationNotFound, false, false)
	}

	r.nextJobID++
	now := r.now()
	job.ID = r.nextJobID
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	r.jobs[job.ID] = cloneJob(job)
	r.jobsByMigration[job.BatchedMigrationID] = append(r.jobsByMigration[job.BatchedMigrationID], job.ID)
	return nil
}

// StartJob implements repository.BatchedMigrationJob.
func (r *InMemoryMigrationRepository) StartJob(ctx context.Context, job *model.Job) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobs[job.ID]
	if !ok || stored.Status != model.JobStatusPending || stored.StartedAt != nil {
		return false, nil
	}
	now := r.now()
	stored.StartedAt = &now
	stored.Attempts++
	stored.UpdatedAt = now

	started := now
	job.StartedAt = &started
	job.Attempts = stored.Attempts
	job.UpdatedAt = now
	return true, nil
}

// FinishJob implements repository.BatchedMigrationJob.
func (r *InMemoryMigrationRepository) FinishJob(ctx context.Context, job *model.Job) error {
	const op = "InMemoryMigrationRepository.FinishJob"

	if !job.Status.IsFinished() {
		return exception.NewBatchErrorf(op, "job %d cannot finish with status %s", job.ID, job.Status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobs[job.ID]
	if !ok || stored.Status != model.JobStatusPending {
		return exception.NewOptimisticLockingFailureException(op, fmt.Sprintf("job %d is no longer pending", job.ID), nil)
	}
	now := r.now()
	stored.Status = job.Status
	stored.FinishedAt = &now
	stored.UpdatedAt = now
	stored.Data = job.Data.Clone()

	finished := now
	job.FinishedAt = &finished
	job.UpdatedAt = now
	return nil
}

// CountJobs implements repository.BatchedMigrationJob.
func (r *InMemoryMigrationRepository) CountJobs(ctx context.Context, migrationID int64, status model.JobStatus) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, id := range r.jobsByMigration[migrationID] {
		if r.jobs[id].Status == status {
			n++
		}
	}
	return n, nil
}

// FindJobs implements repository.BatchedMigrationJob.
func (r *InMemoryMigrationRepository) FindJobs(ctx context.Context, migrationID int64, filter repository.JobFilter) ([]*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Job, 0)
	for _, id := range r.jobsByMigration[migrationID] {
		j := r.jobs[id]
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		out = append(out, cloneJob(j))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// ResetFailedJobs implements repository.BatchedMigrationJob.
func (r *InMemoryMigrationRepository) ResetFailedJobs(ctx context.Context, migrationID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var n int64
	for _, id := range r.jobsByMigration[migrationID] {
		j := r.jobs[id]
		if j.Status != model.JobStatusFailed {
			continue
		}
		j.Status = model.JobStatusPending
		j.StartedAt = nil
		j.FinishedAt = nil
		j.Data = nil
		j.UpdatedAt = now
		n++
	}
	return n, nil
}

// ReclaimJob implements repository.BatchedMigrationJob.
func (r *InMemoryMigrationRepository) ReclaimJob(ctx context.Context, jobID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[jobID]
	if !ok || j.Status != model.JobStatusPending || j.StartedAt == nil {
		return false, nil
	}
	j.StartedAt = nil
	j.UpdatedAt = r.now()
	return true, nil
}

var _ repository.MigrationRepository = (*InMemoryMigrationRepository)(nil)
