package usecase

import (
	"go.uber.org/fx"
)

// Module provides MigrationOperator and MigrationExecutor.
var Module = fx.Options(
	fx.Provide(NewMigrationOperator),
	fx.Provide(NewMigrationExecutor),
)
