package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/batchmig/pkg/batch/core/metrics"
)

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a new instance of OpenTelemetryTracer.
func NewOpenTelemetryTracer(tracer trace.Tracer) *OpenTelemetryTracer {
	return &OpenTelemetryTracer{tracer: tracer}
}

// StartRunSpan implements metrics.Tracer.
func (t *OpenTelemetryTracer) StartRunSpan(ctx context.Context, m *model.Migration) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "migration.run",
		trace.WithAttributes(
			attribute.Int64("migration.id", m.ID),
			attribute.String("migration.project", m.Project),
			attribute.String("migration.filename", m.Filename),
			attribute.String("migration.status", m.Status.String()),
		),
	)
	return ctx, func() { span.End() }
}

// StartJobSpan implements metrics.Tracer.
func (t *OpenTelemetryTracer) StartJobSpan(ctx context.Context, m *model.Migration, job *model.Job) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "migration.job",
		trace.WithAttributes(
			attribute.Int64("migration.id", m.ID),
			attribute.Int64("job.id", job.ID),
			attribute.Int64("job.min", job.MinValue),
			attribute.Int64("job.max", job.MaxValue),
			attribute.Int("job.attempts", job.Attempts),
		),
	)
	return ctx, func() {
		span.SetAttributes(attribute.String("job.status", job.Status.String()))
		span.End()
	}
}

// RecordError records an error in the current span and marks it failed.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("module", module)))
	span.SetStatus(codes.Error, err.Error())
}

// RecordEvent records an event in the current span.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
}

func toAttributes(in map[string]interface{}) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case int64:
			out = append(out, attribute.Int64(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		default:
			out = append(out, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return out
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
