// Package scheduler triggers RunNext for the configured project on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"

	"github.com/tigerroll/batchmig/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/batchmig/pkg/batch/core/config"
	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchmig/pkg/batch/core/job/runner"
	"github.com/tigerroll/batchmig/pkg/batch/infrastructure/lock"
	exception "github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchmig/pkg/batch/support/util/logger"
)

// NextRunner runs the next unfinished migration of a project.
type NextRunner interface {
	RunNext(ctx context.Context, project string, opts runner.RunOptions) (*model.Migration, runner.RunResult, error)
}

// Scheduler calls NextRunner.RunNext on every tick. A tick is skipped while the
// previous one is still running.
type Scheduler struct {
	cron     *cron.Cron
	executor NextRunner
	project  string
	spec     string
	opts     runner.RunOptions

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a Scheduler from the migration settings.
func NewScheduler(executor NextRunner, cfg config.MigrationConfig) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		executor: executor,
		project:  cfg.Project,
		spec:     cfg.Schedule,
		opts: runner.RunOptions{
			Iterations: cfg.RunIterations,
			Duration:   cfg.RunDuration(),
		},
	}
}

// Start schedules the tick and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	if _, err := s.cron.AddFunc(s.spec, func() { s.Tick(s.runContext()) }); err != nil {
		return exception.NewBatchError("scheduler", "invalid schedule '"+s.spec+"'", err, false, false)
	}
	s.cron.Start()
	logger.Infof("Scheduler started for project '%s' (%s).", s.project, s.spec)
	return nil
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Stop cancels the running tick and waits for it, or for ctx, to finish. The runner
// honors cancellation between jobs, so a job in flight still completes.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		logger.Infof("Scheduler stopped.")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick runs one scheduled RunNext. Errors are logged; the next tick tries again.
func (s *Scheduler) Tick(ctx context.Context) {
	m, result, err := s.executor.RunNext(ctx, s.project, s.opts)
	switch {
	case errors.Is(err, lock.ErrLockUnavailable):
		logger.Debugf("Scheduler: project '%s' is being run elsewhere, skipping tick.", s.project)
	case exception.IsTemporary(err):
		logger.Warnf("Scheduler: run of project '%s' failed, retrying next tick: %v", s.project, err)
	case err != nil:
		logger.Errorf("Scheduler: run of project '%s' failed: %v", s.project, err)
	case m == nil:
		logger.Debugf("Scheduler: nothing to run in project '%s'.", s.project)
	default:
		logger.Infof("Scheduler: ran %s: %d iteration(s), stopped (%s), status %s.",
			m.Identity(), result.Iterations, result.StopReason, result.Status)
	}
}

// newScheduler binds the scheduler to the executor provided by the usecase module.
func newScheduler(executor *usecase.MigrationExecutor, cfg *config.MigrationConfig) *Scheduler {
	return NewScheduler(executor, *cfg)
}

// Module provides the Scheduler and ties it to the application lifecycle.
var Module = fx.Options(
	fx.Provide(newScheduler),
	fx.Invoke(func(lc fx.Lifecycle, s *Scheduler) {
		lc.Append(fx.Hook{OnStart: s.Start, OnStop: s.Stop})
	}),
)
