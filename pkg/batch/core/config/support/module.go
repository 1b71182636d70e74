package support

import (
	"go.uber.org/fx"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
)

// ProvideMigration contributes a Definition to the registry, e.g.
//
//	support.ProvideMigration("billing", "20240101000000_backfill_totals", NewBackfillTotals)
//
// constructor is an fx constructor returning a model.Definition.
func ProvideMigration(project, filename string, constructor interface{}) fx.Option {
	return fx.Provide(
		fx.Annotate(
			func(def model.Definition) MigrationEntry {
				return MigrationEntry{Project: project, Filename: filename, Definition: def}
			},
			fx.ParamTags(`name:"`+project+"/"+filename+`"`),
			fx.ResultTags(`group:"`+MigrationDefinitionGroup+`"`),
		),
		fx.Annotate(
			constructor,
			fx.As(new(model.Definition)),
			fx.ResultTags(`name:"`+project+"/"+filename+`"`),
		),
	)
}

// Module provides the MigrationRegistry.
var Module = fx.Options(
	fx.Provide(NewMigrationRegistry),
)
