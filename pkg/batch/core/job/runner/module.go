package runner

import (
	"go.uber.org/fx"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchmig/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/batchmig/pkg/batch/core/metrics"
)

// Factory builds Runners sharing one repository and telemetry backend.
type Factory struct {
	repo     repository.MigrationRepository
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer
}

// FactoryParams defines the dependencies of NewFactory.
type FactoryParams struct {
	fx.In
	Repo     repository.MigrationRepository
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
}

// NewFactory creates a Factory.
func NewFactory(p FactoryParams) *Factory {
	return &Factory{repo: p.Repo, recorder: p.Recorder, tracer: p.Tracer}
}

// New creates a Runner for m executing def.
func (f *Factory) New(m *model.Migration, def model.Definition) *Runner {
	return NewRunner(m, def, f.repo, f.recorder, f.tracer)
}

// Module provides the runner Factory.
var Module = fx.Options(
	fx.Provide(NewFactory),
)
