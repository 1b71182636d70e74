package sql

import (
	"go.uber.org/fx"

	"github.com/tigerroll/batchmig/pkg/batch/adapter/database"
	config "github.com/tigerroll/batchmig/pkg/batch/core/config"
	repository "github.com/tigerroll/batchmig/pkg/batch/core/domain/repository"
)

// MigrationRepositoryParams defines the dependencies of NewMigrationRepository.
type MigrationRepositoryParams struct {
	fx.In
	DBResolver database.DBConnectionResolver
	Cfg        *config.Config
}

// NewMigrationRepository creates the repository on the configured connection,
// "metadata" unless Infrastructure.RepositoryDBRef says otherwise.
func NewMigrationRepository(p MigrationRepositoryParams) repository.MigrationRepository {
	dbName := p.Cfg.BatchMig.Infrastructure.RepositoryDBRef
	if dbName == "" {
		dbName = "metadata"
	}
	return NewSQLMigrationRepository(p.DBResolver, dbName)
}

// Module provides the SQL backed repository.MigrationRepository.
var Module = fx.Options(
	fx.Provide(NewMigrationRepository),
)
