package metrics

import (
	"context"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
)

// Tracer is the distributed tracing port.
type Tracer interface {
	// StartRunSpan starts a span covering one runner invocation for m.
	// The returned function ends the span and should be deferred.
	StartRunSpan(ctx context.Context, m *model.Migration) (context.Context, func())

	// StartJobSpan starts a child span covering the execution of job.
	StartJobSpan(ctx context.Context, m *model.Migration, job *model.Job) (context.Context, func())

	// RecordError records err on the current span.
	// module names the component where the error occurred (e.g. "runner").
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent adds an event with attributes to the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
