// Package runner drives a batched migration: it plans ranges, records them as jobs,
// executes them one at a time and finally reconciles the migration status.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchmig/pkg/batch/core/domain/repository"
	"github.com/tigerroll/batchmig/pkg/batch/core/job/planner"
	metrics "github.com/tigerroll/batchmig/pkg/batch/core/metrics"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/logger"
)

// StopReason says why Run returned.
type StopReason string

const (
	// StopReasonFinished means the migration reached a terminal status.
	StopReasonFinished StopReason = "finished"
	// StopReasonInFlight means nothing is left to plan but jobs are still running elsewhere.
	StopReasonInFlight StopReason = "in_flight"
	// StopReasonIterations means the iteration budget was spent.
	StopReasonIterations StopReason = "iterations"
	// StopReasonDuration means the time budget was spent.
	StopReasonDuration StopReason = "duration"
	// StopReasonCancelled means the context was cancelled.
	StopReasonCancelled StopReason = "cancelled"
	// StopReasonNotRunnable means the migration is paused or already terminal.
	StopReasonNotRunnable StopReason = "not_runnable"
)

// RunOptions bounds a single Run. Zero values mean unbounded.
type RunOptions struct {
	Iterations int
	Duration   time.Duration
}

// RunResult summarizes a single Run.
type RunResult struct {
	Iterations    int
	JobsSucceeded int
	JobsFailed    int
	// JobsSkipped counts jobs another worker claimed first.
	JobsSkipped int
	StopReason  StopReason
	Status      model.MigrationStatus
}

// Runner executes one migration. It keeps no cursor of its own: the next range is
// always planned from storage and the cached status is refreshed every iteration.
// A Runner is not safe for concurrent use; run one per migration per process.
type Runner struct {
	migration  *model.Migration
	definition model.Definition
	repo       repository.MigrationRepository
	planner    *planner.Planner
	reconciler *Reconciler
	recorder   metrics.MetricRecorder
	tracer     metrics.Tracer
	log        *logger.MigrationLogger
	now        func() time.Time
}

// NewRunner creates a Runner for m backed by def. Nil recorder or tracer fall back to no-ops.
func NewRunner(
	m *model.Migration,
	def model.Definition,
	repo repository.MigrationRepository,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *Runner {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &Runner{
		migration:  m,
		definition: def,
		repo:       repo,
		planner:    planner.NewPlanner(repo),
		reconciler: NewReconciler(repo, recorder),
		recorder:   recorder,
		tracer:     tracer,
		log: logger.NewMigrationLogger(logger.MigrationIdentity{
			ID:        m.ID,
			Project:   m.Project,
			Timestamp: m.Timestamp,
			Filename:  m.Filename,
		}),
		now: time.Now,
	}
}

// Migration returns the runner's view of the migration.
func (r *Runner) Migration() *model.Migration {
	return r.migration
}

// Run drives the migration until it finishes, is paused, ctx is cancelled or a
// budget in opts is spent. Cancellation is honored between jobs only; an executing
// job always runs to completion and is recorded.
//
// Errors returned by the definition are stored on the failed job and never returned.
// Storage errors are returned and leave the current iteration unrecorded.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (result RunResult, err error) {
	started := r.now()
	ctx, endSpan := r.tracer.StartRunSpan(ctx, r.migration)
	defer endSpan()

	r.recorder.RecordRunStart(ctx, r.migration)
	defer func() {
		outcome := metrics.RunOutcomeStopped
		switch {
		case err != nil:
			outcome = metrics.RunOutcomeError
			r.tracer.RecordError(ctx, "runner", err)
		case result.StopReason == StopReasonFinished:
			outcome = metrics.RunOutcomeCompleted
		}
		r.recorder.RecordRunEnd(ctx, r.migration, outcome, result.Iterations, r.now().Sub(started))
		result.Status = r.migration.Status
	}()

	if err = r.refreshStatus(ctx); err != nil {
		return result, err
	}
	if err = r.start(ctx); err != nil {
		return result, err
	}

	var deadline time.Time
	if opts.Duration > 0 {
		deadline = started.Add(opts.Duration)
	}

	for {
		if ctx.Err() != nil {
			result.StopReason = StopReasonCancelled
			break
		}
		if opts.Iterations > 0 && result.Iterations >= opts.Iterations {
			result.StopReason = StopReasonIterations
			break
		}
		if !deadline.IsZero() && !r.now().Before(deadline) {
			result.StopReason = StopReasonDuration
			break
		}
		if !r.migration.Status.IsRunnable() {
			result.StopReason = StopReasonNotRunnable
			break
		}

		result.Iterations++
		done, stepErr := r.step(ctx, &result)
		if stepErr != nil {
			r.log.Error("Iteration failed", "iteration", result.Iterations, "error", stepErr)
			return result, stepErr
		}
		if done {
			if r.migration.Status.IsTerminal() {
				result.StopReason = StopReasonFinished
			} else {
				result.StopReason = StopReasonInFlight
			}
			break
		}

		if err = r.refreshStatus(ctx); err != nil {
			return result, err
		}
	}

	r.log.Info("Run stopped",
		"reason", result.StopReason,
		"iterations", result.Iterations,
		"succeeded", result.JobsSucceeded,
		"failed", result.JobsFailed,
		"status", r.migration.Status,
	)
	return result, nil
}

// start moves a pending migration to running.
func (r *Runner) start(ctx context.Context) error {
	if r.migration.Status != model.MigrationStatusPending {
		return nil
	}
	updated, err := r.repo.UpdateMigrationStatus(ctx, r.migration.ID,
		[]model.MigrationStatus{model.MigrationStatusPending}, model.MigrationStatusRunning)
	if err != nil {
		return err
	}
	if updated {
		r.recorder.RecordStatusTransition(ctx, r.migration, model.MigrationStatusPending, model.MigrationStatusRunning)
		r.log.Info("Migration started")
	}
	return r.refreshStatus(ctx)
}

// refreshStatus re-reads the migration; another process may have paused it.
func (r *Runner) refreshStatus(ctx context.Context) error {
	fresh, err := r.repo.FindMigrationByID(ctx, r.migration.ID)
	if err != nil {
		return exception.NewBatchError("runner", fmt.Sprintf("failed to refresh status of %s", r.migration.Identity()), err, false, true)
	}
	r.migration.Status = fresh.Status
	r.migration.StartedAt = fresh.StartedAt
	r.migration.UpdatedAt = fresh.UpdatedAt
	return nil
}

// step runs one iteration. It reports true when there was nothing to execute and the
// finish transition has been evaluated.
func (r *Runner) step(ctx context.Context, result *RunResult) (bool, error) {
	job, err := r.nextJob(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		status, err := r.reconciler.Reconcile(ctx, r.migration)
		if err != nil {
			return false, err
		}
		r.log.Info("Nothing left to plan", "status", status)
		return true, nil
	}

	claimed, err := r.repo.StartJob(ctx, job)
	if err != nil {
		return false, err
	}
	if !claimed {
		r.log.Warn("Job claimed by another worker, skipping", "job_id", job.ID, "range", job.Range())
		result.JobsSkipped++
		return false, nil
	}

	if err := r.executeJob(ctx, job); err != nil {
		return false, err
	}
	if job.Status == model.JobStatusSucceeded {
		result.JobsSucceeded++
	} else {
		result.JobsFailed++
	}
	return false, nil
}

// nextJob prefers a previously created job that was never started (e.g. one reset by
// a retry) over planning a new range. It returns nil when there is nothing to do.
func (r *Runner) nextJob(ctx context.Context) (*model.Job, error) {
	job, err := r.repo.FindFirstUnstartedJob(ctx, r.migration.ID)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, repository.ErrJobNotFound) {
		return nil, err
	}

	bounds, ok, err := r.planner.NextBatch(ctx, r.migration)
	if err != nil || !ok {
		return nil, err
	}
	job = &model.Job{
		BatchedMigrationID: r.migration.ID,
		MinValue:           bounds.Min,
		MaxValue:           bounds.Max,
		Status:             model.JobStatusPending,
	}
	if err := r.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	r.log.Debug("Planned job", "job_id", job.ID, "range", bounds)
	return job, nil
}

// executeJob runs the definition on a claimed job and records the outcome.
// Execution and the final write are detached from ctx's cancellation.
func (r *Runner) executeJob(ctx context.Context, job *model.Job) error {
	jobCtx, endSpan := r.tracer.StartJobSpan(context.WithoutCancel(ctx), r.migration, job)
	defer endSpan()

	r.recorder.RecordJobStart(jobCtx, r.migration, job)
	started := r.now()

	data, execErr := r.execute(jobCtx, job)
	if execErr != nil {
		job.Status = model.JobStatusFailed
		job.Data = exception.SerializeError(execErr)
		r.tracer.RecordError(jobCtx, "definition", execErr)
		r.log.Error("Job failed", "job_id", job.ID, "range", job.Range(), "attempts", job.Attempts, "error", execErr)
	} else {
		job.Status = model.JobStatusSucceeded
		job.Data = data
		r.log.Info("Job succeeded", "job_id", job.ID, "range", job.Range())
	}

	if err := r.repo.FinishJob(jobCtx, job); err != nil {
		return err
	}
	r.recorder.RecordJobEnd(jobCtx, r.migration, job, r.now().Sub(started))
	r.tracer.RecordEvent(jobCtx, "job_finished", map[string]interface{}{
		"job.id":     job.ID,
		"job.status": job.Status.String(),
		"job.min":    job.MinValue,
		"job.max":    job.MaxValue,
	})
	return nil
}

// execute calls the definition, turning a panic into an error.
func (r *Runner) execute(ctx context.Context, job *model.Job) (data model.JobData, err error) {
	defer func() {
		if p := recover(); p != nil {
			data = nil
			cause, ok := p.(error)
			if !ok {
				cause = fmt.Errorf("%v", p)
			}
			err = exception.NewBatchError("runner", fmt.Sprintf("panic while executing range %s", job.Range()), cause, false, false)
		}
	}()
	return r.definition.Execute(ctx, job.MinValue, job.MaxValue)
}
