// Package usecase implements the operations exposed to operators and the CLI:
// registering, inspecting, pausing, resuming, retrying and running batched migrations.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"

	config "github.com/tigerroll/batchmig/pkg/batch/core/config"
	support "github.com/tigerroll/batchmig/pkg/batch/core/config/support"
	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchmig/pkg/batch/core/domain/repository"
	"github.com/tigerroll/batchmig/pkg/batch/core/job/planner"
	metrics "github.com/tigerroll/batchmig/pkg/batch/core/metrics"
	"github.com/tigerroll/batchmig/pkg/batch/core/tx"
	exception "github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchmig/pkg/batch/support/util/logger"
)

// RegisterResult reports the outcome of registering one migration.
type RegisterResult struct {
	Migration *model.Migration
	// Registered is false when the migration already existed.
	Registered bool
}

// MigrationOperator manages migration records.
type MigrationOperator struct {
	repo             repository.MigrationRepository
	txManager        tx.TransactionManager
	registry         *support.MigrationRegistry
	planner          *planner.Planner
	recorder         metrics.MetricRecorder
	defaultBatchSize int64
}

// OperatorParams defines the dependencies of NewMigrationOperator.
type OperatorParams struct {
	fx.In
	Repo     repository.MigrationRepository
	Registry *support.MigrationRegistry
	Recorder metrics.MetricRecorder
	Cfg      *config.Config
	// TxManager is absent with the memory repository; writes then run without a transaction.
	TxManager tx.TransactionManager `optional:"true"`
}

// NewMigrationOperator creates a MigrationOperator.
func NewMigrationOperator(p OperatorParams) *MigrationOperator {
	return &MigrationOperator{
		repo:             p.Repo,
		txManager:        p.TxManager,
		registry:         p.Registry,
		planner:          planner.NewPlanner(p.Repo),
		recorder:         p.Recorder,
		defaultBatchSize: p.Cfg.BatchMig.Migration.DefaultBatchSize,
	}
}

func (o *MigrationOperator) observe(ctx context.Context, op string, started time.Time) {
	o.recorder.RecordDuration(ctx, "operator."+op, time.Since(started), nil)
}

// Register records def under (project, filename). The key range is computed now, from
// def.Parameters. Registering an existing migration returns the stored record unchanged.
func (o *MigrationOperator) Register(ctx context.Context, project, filename string, def model.Definition) (*model.Migration, bool, error) {
	const op = "operator.register"
	defer o.observe(ctx, "register", time.Now())

	timestamp, err := model.ParseMigrationFilename(filename)
	if err != nil {
		return nil, false, exception.NewBatchError(op, "invalid migration filename", err, false, false)
	}
	if existing, err := o.repo.FindMigrationByIdentity(ctx, project, timestamp); err == nil {
		logger.Debugf("Migration %s is already registered (id %d).", existing.Identity(), existing.ID)
		return existing, false, nil
	} else if !errors.Is(err, repository.ErrMigrationNotFound) {
		return nil, false, err
	}

	params, err := def.Parameters(ctx)
	if err != nil {
		return nil, false, exception.NewBatchError(op, fmt.Sprintf("failed to compute parameters of %s/%s", project, filename), err, false, false)
	}
	batchSize := params.BatchSize
	if batchSize == 0 {
		batchSize = o.defaultBatchSize
	}

	m := &model.Migration{
		Project:   project,
		Filename:  filename,
		Timestamp: timestamp,
		BatchSize: batchSize,
		MinValue:  params.Min,
		MaxValue:  params.Max,
		Status:    model.MigrationStatusPending,
	}
	if err := m.Validate(); err != nil {
		return nil, false, exception.NewBatchError(op, fmt.Sprintf("invalid parameters for %s", m.Identity()), err, false, false)
	}

	stored, inserted, err := o.repo.RegisterMigration(ctx, m)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		max := "none"
		if stored.MaxValue != nil {
			max = fmt.Sprint(*stored.MaxValue)
		}
		logger.Infof("Registered migration %s (id %d): min=%d max=%s batch_size=%d.",
			stored.Identity(), stored.ID, stored.MinValue, max, stored.BatchSize)
	}
	return stored, inserted, nil
}

// RegisterAll registers every Definition of project known to the registry, in
// timestamp order. It stops at the first failure.
func (o *MigrationOperator) RegisterAll(ctx context.Context, project string) ([]RegisterResult, error) {
	entries := o.registry.Entries(project)
	results := make([]RegisterResult, 0, len(entries))
	for _, e := range entries {
		m, registered, err := o.Register(ctx, e.Project, e.Filename, e.Definition)
		if err != nil {
			return results, err
		}
		results = append(results, RegisterResult{Migration: m, Registered: registered})
	}
	return results, nil
}

// List returns the project's migrations ordered by timestamp.
func (o *MigrationOperator) List(ctx context.Context, project string) ([]*model.Migration, error) {
	return o.repo.FindMigrations(ctx, project)
}

// Get returns one migration.
func (o *MigrationOperator) Get(ctx context.Context, id int64) (*model.Migration, error) {
	return o.repo.FindMigrationByID(ctx, id)
}

// Find resolves a migration by project and either its filename or its timestamp.
func (o *MigrationOperator) Find(ctx context.Context, project, name string) (*model.Migration, error) {
	timestamp := name
	if ts, err := model.ParseMigrationFilename(name); err == nil {
		timestamp = ts
	}
	return o.repo.FindMigrationByIdentity(ctx, project, timestamp)
}

// Jobs lists the migration's jobs, optionally filtered by status.
func (o *MigrationOperator) Jobs(ctx context.Context, id int64, status model.JobStatus) ([]*model.Job, error) {
	if _, err := o.repo.FindMigrationByID(ctx, id); err != nil {
		return nil, err
	}
	return o.repo.FindJobs(ctx, id, repository.JobFilter{Status: status})
}

// Progress reports how far the migration's planner has advanced.
func (o *MigrationOperator) Progress(ctx context.Context, id int64) (model.Progress, error) {
	m, err := o.repo.FindMigrationByID(ctx, id)
	if err != nil {
		return model.Progress{}, err
	}
	return o.planner.Progress(ctx, m)
}

// Pause stops runners from picking the migration up. In-flight jobs still finish.
// Pausing a paused migration is a no-op.
func (o *MigrationOperator) Pause(ctx context.Context, id int64) (*model.Migration, error) {
	defer o.observe(ctx, "pause", time.Now())
	return o.transition(ctx, id, model.MigrationStatusPaused)
}

// Resume moves a paused migration back to running. Resuming a running migration is a no-op.
func (o *MigrationOperator) Resume(ctx context.Context, id int64) (*model.Migration, error) {
	defer o.observe(ctx, "resume", time.Now())

	m, err := o.repo.FindMigrationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status == model.MigrationStatusRunning {
		return m, nil
	}
	if m.Status != model.MigrationStatusPaused {
		return nil, exception.NewBatchError("operator.resume", m.Identity(),
			fmt.Errorf("%w: only paused migrations can be resumed, status is %s", model.ErrInvalidStatusTransition, m.Status), false, false)
	}
	return o.transition(ctx, id, model.MigrationStatusRunning)
}

// transition moves id to next with a conditional update over every valid source status.
func (o *MigrationOperator) transition(ctx context.Context, id int64, next model.MigrationStatus) (*model.Migration, error) {
	before, err := o.repo.FindMigrationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if before.Status == next {
		return before, nil
	}

	updated, err := o.repo.UpdateMigrationStatus(ctx, id, model.SourcesFor(next), next)
	if err != nil {
		return nil, err
	}
	after, err := o.repo.FindMigrationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !updated && after.Status != next {
		return nil, exception.NewBatchError("operator", after.Identity(),
			fmt.Errorf("%w: %s -> %s", model.ErrInvalidStatusTransition, after.Status, next), false, false)
	}
	if updated {
		o.recorder.RecordStatusTransition(ctx, after, before.Status, next)
		logger.Infof("Migration %s moved from %s to %s.", after.Identity(), before.Status, next)
	}
	return after, nil
}

// RetryFailedJobs resets the migration's failed jobs to unstarted and, if the migration
// itself had failed, moves it back to running. Both happen in one transaction.
// It returns the number of jobs reset.
func (o *MigrationOperator) RetryFailedJobs(ctx context.Context, id int64) (int64, error) {
	defer o.observe(ctx, "retry", time.Now())

	m, err := o.repo.FindMigrationByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if m.Status == model.MigrationStatusSucceeded {
		return 0, exception.NewBatchError("operator.retry", m.Identity(),
			fmt.Errorf("%w: migration already succeeded", model.ErrInvalidStatusTransition), false, false)
	}

	var reset int64
	var revived bool
	err = tx.RunInTx(ctx, o.txManager, func(ctx context.Context) error {
		n, err := o.repo.ResetFailedJobs(ctx, id)
		if err != nil {
			return err
		}
		reset = n
		if m.Status != model.MigrationStatusFailed {
			return nil
		}
		revived, err = o.repo.UpdateMigrationStatus(ctx, id,
			[]model.MigrationStatus{model.MigrationStatusFailed}, model.MigrationStatusRunning)
		return err
	})
	if err != nil {
		return 0, exception.NewBatchError("operator.retry", fmt.Sprintf("failed to retry jobs of %s", m.Identity()), err, false, true)
	}
	if revived {
		o.recorder.RecordStatusTransition(ctx, m, model.MigrationStatusFailed, model.MigrationStatusRunning)
	}
	logger.Infof("Reset %d failed job(s) of %s.", reset, m.Identity())
	return reset, nil
}

// ReclaimJob releases a job of migration id that was claimed by a worker which never
// finished it. The job keeps its row and attempt count and is picked up again by the
// next run. Only use it once the claiming worker is known to be gone.
func (o *MigrationOperator) ReclaimJob(ctx context.Context, id, jobID int64) (*model.Job, error) {
	defer o.observe(ctx, "reclaim", time.Now())

	m, err := o.repo.FindMigrationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	jobs, err := o.repo.FindJobs(ctx, id, repository.JobFilter{})
	if err != nil {
		return nil, exception.NewBatchError("operator.reclaim", fmt.Sprintf("failed to list jobs of %s", m.Identity()), err, false, true)
	}
	var job *model.Job
	for _, j := range jobs {
		if j.ID == jobID {
			job = j
			break
		}
	}
	subject := fmt.Sprintf("job %d of %s", jobID, m.Identity())
	switch {
	case job == nil:
		return nil, exception.NewBatchError("operator.reclaim", subject, repository.ErrJobNotFound, false, false)
	case job.Status != model.JobStatusPending:
		return nil, exception.NewBatchError("operator.reclaim", subject,
			fmt.Errorf("%w: status is %s", ErrJobNotInFlight, job.Status), false, false)
	case job.StartedAt == nil:
		return nil, exception.NewBatchError("operator.reclaim", subject,
			fmt.Errorf("%w: job was never started", ErrJobNotInFlight), false, false)
	}

	var reclaimed bool
	err = tx.RunInTx(ctx, o.txManager, func(ctx context.Context) error {
		reclaimed, err = o.repo.ReclaimJob(ctx, jobID)
		return err
	})
	if err != nil {
		return nil, exception.NewBatchError("operator.reclaim", fmt.Sprintf("failed to reclaim job %d of %s", jobID, m.Identity()), err, false, true)
	}
	if !reclaimed {
		return nil, exception.NewBatchError("operator.reclaim", subject,
			fmt.Errorf("%w: job finished or was reclaimed concurrently", ErrJobNotInFlight), false, false)
	}
	logger.Warnf("Reclaimed job %d %s of %s (claimed at %s, %d attempt(s)).",
		job.ID, job.Range(), m.Identity(), job.StartedAt.Format(time.RFC3339), job.Attempts)
	job.StartedAt = nil
	return job, nil
}
