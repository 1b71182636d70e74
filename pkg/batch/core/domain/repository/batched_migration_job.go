package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
)

// ErrJobNotFound is returned when no job matches a lookup.
var ErrJobNotFound = errors.New("batched migration job not found")

func init() {
	exception.RegisterErrorType("ErrJobNotFound", ErrJobNotFound)
}

// JobFilter narrows FindJobs. Zero values mean no filtering.
type JobFilter struct {
	Status model.JobStatus
	Limit  int
}

// BatchedMigrationJob persists batch jobs.
type BatchedMigrationJob interface {
	// FindLatestJob returns the job with the highest id for the migration, or ErrJobNotFound.
	FindLatestJob(ctx context.Context, migrationID int64) (*model.Job, error)

	// FindFirstUnstartedJob returns the lowest-id pending job that has not been claimed, or ErrJobNotFound.
	FindFirstUnstartedJob(ctx context.Context, migrationID int64) (*model.Job, error)

	// CreateJob inserts job and fills in its id and timestamps.
	CreateJob(ctx context.Context, job *model.Job) error

	// StartJob claims an unstarted pending job: it stamps started_at and increments attempts.
	// It reports false if another worker claimed the job first.
	StartJob(ctx context.Context, job *model.Job) (bool, error)

	// FinishJob records the outcome (status, finished_at, data) of a pending job.
	FinishJob(ctx context.Context, job *model.Job) error

	// CountJobs counts the migration's jobs in status.
	CountJobs(ctx context.Context, migrationID int64, status model.JobStatus) (int64, error)

	// FindJobs lists the migration's jobs ordered by id.
	FindJobs(ctx context.Context, migrationID int64, filter JobFilter) ([]*model.Job, error)

	// ResetFailedJobs moves every failed job back to unstarted pending and returns how many moved.
	ResetFailedJobs(ctx context.Context, migrationID int64) (int64, error)

	// ReclaimJob clears started_at of a job that was claimed but never finished, so it can
	// be claimed again. It reports false when the job is not pending with started_at set.
	ReclaimJob(ctx context.Context, jobID int64) (bool, error)
}
