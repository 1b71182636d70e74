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
	"github.com/tigerroll/batchmig/pkg/batch/core/job/runner"
	metrics "github.com/tigerroll/batchmig/pkg/batch/core/metrics"
	"github.com/tigerroll/batchmig/pkg/batch/infrastructure/lock"
	exception "github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchmig/pkg/batch/support/util/logger"
)

// runnableStatuses are the statuses RunNext picks from.
var runnableStatuses = []model.MigrationStatus{
	model.MigrationStatusPending,
	model.MigrationStatusRunning,
	model.MigrationStatusFinalizing,
}

// defaultFinalizePollInterval is how long Finalize waits for jobs in flight elsewhere.
const defaultFinalizePollInterval = time.Second

// MigrationExecutor runs migrations under the distributed lock.
type MigrationExecutor struct {
	repo         repository.MigrationRepository
	registry     *support.MigrationRegistry
	runners      *runner.Factory
	locker       lock.Locker
	operator     *MigrationOperator
	recorder     metrics.MetricRecorder
	lockName     string
	lockTTL      time.Duration
	pollInterval time.Duration
	// finalizeBudget bounds each pass of Finalize so the lock is released and taken
	// again well before its TTL runs out. Zero means unbounded.
	finalizeBudget time.Duration
}

// ExecutorParams defines the dependencies of NewMigrationExecutor.
type ExecutorParams struct {
	fx.In
	Repo     repository.MigrationRepository
	Registry *support.MigrationRegistry
	Runners  *runner.Factory
	Locker   lock.Locker
	Operator *MigrationOperator
	Recorder metrics.MetricRecorder
	Cfg      *config.Config
}

// NewMigrationExecutor creates a MigrationExecutor.
func NewMigrationExecutor(p ExecutorParams) *MigrationExecutor {
	lc := p.Cfg.BatchMig.Migration.Lock
	return &MigrationExecutor{
		repo:           p.Repo,
		registry:       p.Registry,
		runners:        p.Runners,
		locker:         p.Locker,
		operator:       p.Operator,
		recorder:       p.Recorder,
		lockName:       lc.Name,
		lockTTL:        lc.TTL(),
		pollInterval:   defaultFinalizePollInterval,
		finalizeBudget: lc.TTL() / 2,
	}
}

// SetPollInterval overrides how often Finalize re-checks a migration waiting on jobs
// in flight in another process.
func (e *MigrationExecutor) SetPollInterval(d time.Duration) {
	e.pollInterval = d
}

func (e *MigrationExecutor) migrationLock(m *model.Migration) string {
	return fmt.Sprintf("%s/migration/%s/%s", e.lockName, m.Project, m.Timestamp)
}

func (e *MigrationExecutor) projectLock(project string) string {
	return fmt.Sprintf("%s/project/%s", e.lockName, project)
}

func (e *MigrationExecutor) definition(m *model.Migration) (model.Definition, error) {
	def, ok := e.registry.Lookup(m.Project, m.Timestamp)
	if !ok {
		return nil, exception.NewBatchError("executor", m.Identity(), ErrDefinitionNotFound, false, false)
	}
	return def, nil
}

// Run executes migration id within opts while holding its lock. It returns an error
// wrapping lock.ErrLockUnavailable when another process is running it.
func (e *MigrationExecutor) Run(ctx context.Context, id int64, opts runner.RunOptions) (runner.RunResult, error) {
	m, err := e.repo.FindMigrationByID(ctx, id)
	if err != nil {
		return runner.RunResult{}, err
	}
	return e.run(ctx, m, opts)
}

func (e *MigrationExecutor) run(ctx context.Context, m *model.Migration, opts runner.RunOptions) (runner.RunResult, error) {
	started := time.Now()
	defer func() {
		e.recorder.RecordDuration(ctx, "executor.run", time.Since(started), map[string]string{"project": m.Project})
	}()

	def, err := e.definition(m)
	if err != nil {
		return runner.RunResult{Status: m.Status}, err
	}

	var result runner.RunResult
	err = lock.WithLock(ctx, e.locker, e.migrationLock(m), e.lockTTL, func(ctx context.Context) error {
		var runErr error
		result, runErr = e.runners.New(m, def).Run(ctx, opts)
		return runErr
	})
	if errors.Is(err, lock.ErrLockUnavailable) {
		logger.Infof("Migration %s is being run by another process.", m.Identity())
	}
	return result, err
}

// RunNext runs the project's oldest unfinished migration. It returns a nil migration
// when there is nothing to run.
func (e *MigrationExecutor) RunNext(ctx context.Context, project string, opts runner.RunOptions) (*model.Migration, runner.RunResult, error) {
	var (
		picked *model.Migration
		result runner.RunResult
	)
	err := lock.WithLock(ctx, e.locker, e.projectLock(project), e.lockTTL, func(ctx context.Context) error {
		m, err := e.repo.FindNextRunnableMigration(ctx, project, runnableStatuses)
		if errors.Is(err, repository.ErrMigrationNotFound) {
			logger.Debugf("No runnable migration in project '%s'.", project)
			return nil
		}
		if err != nil {
			return err
		}
		picked = m
		result, err = e.run(ctx, m, opts)
		return err
	})
	return picked, result, err
}

// Finalize runs the migration named by filename (or timestamp) to completion, waiting
// for jobs in flight elsewhere. It works in passes of at most half the lock TTL, each
// under a freshly acquired lock. A migration known to the registry but not yet stored is
// registered first. It returns ErrMigrationPaused for a paused migration and
// ErrMigrationFailed if the migration ends failed.
func (e *MigrationExecutor) Finalize(ctx context.Context, project, filename string) (*model.Migration, error) {
	m, err := e.operator.Find(ctx, project, filename)
	if errors.Is(err, repository.ErrMigrationNotFound) {
		entry, ok := e.registry.FindByFilename(project, filename)
		if !ok {
			return nil, exception.NewBatchError("executor.finalize", project+"/"+filename, ErrDefinitionNotFound, false, false)
		}
		m, _, err = e.operator.Register(ctx, entry.Project, entry.Filename, entry.Definition)
	}
	if err != nil {
		return nil, err
	}
	logger.Infof("Finalizing migration %s (status %s).", m.Identity(), m.Status)

	for {
		switch m.Status {
		case model.MigrationStatusSucceeded:
			logger.Infof("Migration %s is finalized.", m.Identity())
			return m, nil
		case model.MigrationStatusFailed:
			return m, exception.NewBatchError("executor.finalize", m.Identity(), ErrMigrationFailed, false, false)
		case model.MigrationStatusPaused:
			return m, exception.NewBatchError("executor.finalize", m.Identity(), ErrMigrationPaused, false, false)
		}

		result, err := e.run(ctx, m, runner.RunOptions{Duration: e.finalizeBudget})
		switch {
		case errors.Is(err, lock.ErrLockUnavailable):
			// Another process holds it; wait for it to make progress.
		case err != nil:
			return m, err
		default:
			m.Status = result.Status
			if result.StopReason != runner.StopReasonInFlight && m.Status.IsTerminal() {
				continue
			}
			if result.StopReason == runner.StopReasonDuration && result.Iterations > 0 {
				logger.Debugf("Finalize pass of %s spent its budget after %d iteration(s); taking the lock again.", m.Identity(), result.Iterations)
				if m, err = e.repo.FindMigrationByID(ctx, m.ID); err != nil {
					return nil, err
				}
				continue
			}
		}

		select {
		case <-ctx.Done():
			return m, ctx.Err()
		case <-time.After(e.pollInterval):
		}
		if m, err = e.repo.FindMigrationByID(ctx, m.ID); err != nil {
			return nil, err
		}
	}
}
