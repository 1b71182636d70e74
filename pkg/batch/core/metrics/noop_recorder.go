package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
)

// NoOpMetricRecorder is a MetricRecorder that does nothing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordRunStart(ctx context.Context, m *model.Migration) {}
func (r *NoOpMetricRecorder) RecordRunEnd(ctx context.Context, m *model.Migration, outcome string, iterations int, duration time.Duration) {
}
func (r *NoOpMetricRecorder) RecordJobStart(ctx context.Context, m *model.Migration, job *model.Job) {
}
func (r *NoOpMetricRecorder) RecordJobEnd(ctx context.Context, m *model.Migration, job *model.Job, duration time.Duration) {
}
func (r *NoOpMetricRecorder) RecordStatusTransition(ctx context.Context, m *model.Migration, from, to model.MigrationStatus) {
}
func (r *NoOpMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// --- NoOpTracer ---

// NoOpTracer is a Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

// StartRunSpan returns ctx unchanged.
func (t *NoOpTracer) StartRunSpan(ctx context.Context, m *model.Migration) (context.Context, func()) {
	return ctx, func() {}
}

// StartJobSpan returns ctx unchanged.
func (t *NoOpTracer) StartJobSpan(ctx context.Context, m *model.Migration, job *model.Job) (context.Context, func()) {
	return ctx, func() {}
}

// RecordError does nothing.
func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

// RecordEvent does nothing.
func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

var _ Tracer = (*NoOpTracer)(nil)
