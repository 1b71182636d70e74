package inmemory

import (
	"go.uber.org/fx"

	repository "github.com/tigerroll/batchmig/pkg/batch/core/domain/repository"
)

// Module provides InMemoryMigrationRepository as repository.MigrationRepository.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewInMemoryMigrationRepository,
			fx.As(new(repository.MigrationRepository)),
		),
	),
)
