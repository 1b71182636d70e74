package runner

import (
	"context"
	"fmt"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchmig/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/batchmig/pkg/batch/core/metrics"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
)

// Reconciler derives the migration status from its job records once nothing is left
// to plan.
type Reconciler struct {
	repo     repository.MigrationRepository
	recorder metrics.MetricRecorder
}

// NewReconciler creates a Reconciler.
func NewReconciler(repo repository.MigrationRepository, recorder metrics.MetricRecorder) *Reconciler {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &Reconciler{repo: repo, recorder: recorder}
}

// Decide returns the status m should move to given its job counts.
// Pending jobs at this point are in flight on another worker, so the outcome is
// not known yet and the migration waits in finalizing.
func Decide(pendingJobs, failedJobs int64) model.MigrationStatus {
	switch {
	case pendingJobs > 0:
		return model.MigrationStatusFinalizing
	case failedJobs > 0:
		return model.MigrationStatusFailed
	default:
		return model.MigrationStatusSucceeded
	}
}

// Reconcile evaluates and persists the finish transition of m. It must only be called
// when the planner has no further range and no unstarted job remains.
// On storage errors m is left unchanged.
func (r *Reconciler) Reconcile(ctx context.Context, m *model.Migration) (model.MigrationStatus, error) {
	const op = "reconciler"

	pending, err := r.repo.CountJobs(ctx, m.ID, model.JobStatusPending)
	if err != nil {
		return m.Status, exception.NewBatchError(op, fmt.Sprintf("failed to count pending jobs of %s", m.Identity()), err, false, true)
	}
	var failed int64
	if pending == 0 {
		failed, err = r.repo.CountJobs(ctx, m.ID, model.JobStatusFailed)
		if err != nil {
			return m.Status, exception.NewBatchError(op, fmt.Sprintf("failed to count failed jobs of %s", m.Identity()), err, false, true)
		}
	}

	target := Decide(pending, failed)
	if target == m.Status {
		return m.Status, nil
	}
	if !m.Status.CanTransitionTo(target) {
		return m.Status, exception.NewBatchError(op, m.Identity(),
			fmt.Errorf("%w: %s -> %s", model.ErrInvalidStatusTransition, m.Status, target), false, false)
	}

	from := m.Status
	updated, err := r.repo.UpdateMigrationStatus(ctx, m.ID,
		[]model.MigrationStatus{model.MigrationStatusRunning, model.MigrationStatusFinalizing}, target)
	if err != nil {
		return m.Status, err
	}
	if !updated {
		// Someone else moved the migration (e.g. paused it); adopt what is stored.
		fresh, err := r.repo.FindMigrationByID(ctx, m.ID)
		if err != nil {
			return m.Status, err
		}
		m.Status = fresh.Status
		return m.Status, nil
	}

	m.Status = target
	r.recorder.RecordStatusTransition(ctx, m, from, target)
	return m.Status, nil
}
