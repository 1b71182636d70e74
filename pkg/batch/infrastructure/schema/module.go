package schema

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/batchmig/pkg/batch/adapter/database"
	config "github.com/tigerroll/batchmig/pkg/batch/core/config"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/logger"
)

// MigratorParams defines the dependencies of NewSchemaMigrator.
type MigratorParams struct {
	fx.In
	DBResolver database.DBConnectionResolver
	Cfg        *config.Config
}

// NewSchemaMigrator creates a Migrator for the repository connection.
func NewSchemaMigrator(p MigratorParams) *Migrator {
	infra := p.Cfg.BatchMig.Infrastructure
	dbName := infra.RepositoryDBRef
	if dbName == "" {
		dbName = "metadata"
	}
	return NewMigrator(p.DBResolver, dbName, infra.SchemaMigrationsTable)
}

// autoMigrateHook applies the schema on start when infrastructure.auto_migrate_schema is set.
func autoMigrateHook(lc fx.Lifecycle, cfg *config.Config, m *Migrator) {
	if !cfg.BatchMig.Infrastructure.AutoMigrateSchema {
		logger.Debugf("Schema auto-migration is disabled.")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return m.Up(ctx)
		},
	})
}

// Module provides the schema Migrator and the optional auto-migration hook.
var Module = fx.Options(
	fx.Provide(NewSchemaMigrator),
	fx.Invoke(autoMigrateHook),
)
