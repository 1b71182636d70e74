// Package metrics defines the observability ports of the engine. Implementations live
// in infrastructure/metrics; the no-op versions here are used when telemetry is off.
package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
)

// Run outcomes reported to RecordRunEnd.
const (
	RunOutcomeCompleted = "completed"
	RunOutcomeStopped   = "stopped"
	RunOutcomeError     = "error"
)

// MetricRecorder records metrics about migration runs and batch jobs.
type MetricRecorder interface {
	// RecordRunStart records the start of a runner invocation for m.
	RecordRunStart(ctx context.Context, m *model.Migration)

	// RecordRunEnd records the end of a runner invocation.
	// outcome is one of the RunOutcome constants; iterations is the number of loop turns.
	RecordRunEnd(ctx context.Context, m *model.Migration, outcome string, iterations int, duration time.Duration)

	// RecordJobStart records that job was claimed for execution.
	RecordJobStart(ctx context.Context, m *model.Migration, job *model.Job)

	// RecordJobEnd records the outcome of job. job.Status holds the final status.
	RecordJobEnd(ctx context.Context, m *model.Migration, job *model.Job, duration time.Duration)

	// RecordStatusTransition records a migration status change.
	RecordStatusTransition(ctx context.Context, m *model.Migration, from, to model.MigrationStatus)

	// RecordDuration records the execution time of an arbitrary operation.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
