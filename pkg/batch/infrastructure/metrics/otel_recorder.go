package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/batchmig/pkg/batch/core/metrics"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
)

// OTelMetricRecorder implements metrics.MetricRecorder with OpenTelemetry instruments.
type OTelMetricRecorder struct {
	runs              metric.Int64Counter
	runDuration       metric.Float64Histogram
	jobs              metric.Int64Counter
	jobDuration       metric.Float64Histogram
	jobsInFlight      metric.Int64UpDownCounter
	statusTransitions metric.Int64Counter
	opDuration        metric.Float64Histogram
}

// NewOTelMetricRecorder creates the instruments on meter.
func NewOTelMetricRecorder(meter metric.Meter) (*OTelMetricRecorder, error) {
	r := &OTelMetricRecorder{}
	var err error
	if r.runs, err = meter.Int64Counter("batchmig.run.count",
		metric.WithDescription("Runner invocations by outcome.")); err != nil {
		return nil, instrumentErr("batchmig.run.count", err)
	}
	if r.runDuration, err = meter.Float64Histogram("batchmig.run.duration",
		metric.WithDescription("Duration of runner invocations."), metric.WithUnit("s")); err != nil {
		return nil, instrumentErr("batchmig.run.duration", err)
	}
	if r.jobs, err = meter.Int64Counter("batchmig.job.count",
		metric.WithDescription("Finished batch jobs by status.")); err != nil {
		return nil, instrumentErr("batchmig.job.count", err)
	}
	if r.jobDuration, err = meter.Float64Histogram("batchmig.job.duration",
		metric.WithDescription("Duration of batch job executions."), metric.WithUnit("s")); err != nil {
		return nil, instrumentErr("batchmig.job.duration", err)
	}
	if r.jobsInFlight, err = meter.Int64UpDownCounter("batchmig.job.in_flight",
		metric.WithDescription("Batch jobs currently executing in this process.")); err != nil {
		return nil, instrumentErr("batchmig.job.in_flight", err)
	}
	if r.statusTransitions, err = meter.Int64Counter("batchmig.migration.status_transitions",
		metric.WithDescription("Migration status transitions performed by this process.")); err != nil {
		return nil, instrumentErr("batchmig.migration.status_transitions", err)
	}
	if r.opDuration, err = meter.Float64Histogram("batchmig.operation.duration",
		metric.WithDescription("Duration of operator and executor calls."), metric.WithUnit("s")); err != nil {
		return nil, instrumentErr("batchmig.operation.duration", err)
	}
	return r, nil
}

func instrumentErr(name string, err error) error {
	return exception.NewBatchError("metrics", "failed to create instrument "+name, err, false, false)
}

func migrationAttrs(m *model.Migration, extra ...attribute.KeyValue) metric.MeasurementOption {
	attrs := append([]attribute.KeyValue{
		attribute.String("migration.project", m.Project),
		attribute.String("migration.filename", m.Filename),
	}, extra...)
	return metric.WithAttributes(attrs...)
}

// RecordRunStart implements metrics.MetricRecorder.
func (r *OTelMetricRecorder) RecordRunStart(ctx context.Context, m *model.Migration) {}

// RecordRunEnd implements metrics.MetricRecorder.
func (r *OTelMetricRecorder) RecordRunEnd(ctx context.Context, m *model.Migration, outcome string, iterations int, duration time.Duration) {
	attrs := migrationAttrs(m, attribute.String("outcome", outcome))
	r.runs.Add(ctx, 1, attrs)
	r.runDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordJobStart implements metrics.MetricRecorder.
func (r *OTelMetricRecorder) RecordJobStart(ctx context.Context, m *model.Migration, job *model.Job) {
	r.jobsInFlight.Add(ctx, 1, migrationAttrs(m))
}

// RecordJobEnd implements metrics.MetricRecorder.
func (r *OTelMetricRecorder) RecordJobEnd(ctx context.Context, m *model.Migration, job *model.Job, duration time.Duration) {
	r.jobsInFlight.Add(ctx, -1, migrationAttrs(m))
	attrs := migrationAttrs(m, attribute.String("job.status", job.Status.String()))
	r.jobs.Add(ctx, 1, attrs)
	r.jobDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordStatusTransition implements metrics.MetricRecorder.
func (r *OTelMetricRecorder) RecordStatusTransition(ctx context.Context, m *model.Migration, from, to model.MigrationStatus) {
	r.statusTransitions.Add(ctx, 1, migrationAttrs(m,
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}

// RecordDuration implements metrics.MetricRecorder.
func (r *OTelMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(tags)+1)
	attrs = append(attrs, attribute.String("operation", name))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.opDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

var _ metrics.MetricRecorder = (*OTelMetricRecorder)(nil)
