package gorm

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/batchmig/pkg/batch/adapter/database"
	config "github.com/tigerroll/batchmig/pkg/batch/core/config"
	"github.com/tigerroll/batchmig/pkg/batch/core/tx"
)

// newRepositoryTransactionManager binds a transaction manager to the repository connection.
func newRepositoryTransactionManager(resolver database.DBConnectionResolver, cfg *config.Config) tx.TransactionManager {
	return NewGormTransactionManager(resolver, cfg.BatchMig.Infrastructure.RepositoryDBRef)
}

// Module provides the resolver and transaction manager. Concrete providers come from
// the sqlite, postgres and mysql sub-packages.
var Module = fx.Options(
	fx.Provide(
		NewGormDBConnectionResolver,
		func(r *GormDBConnectionResolver) database.DBConnectionResolver { return r },
	),
	fx.Provide(newRepositoryTransactionManager),
	fx.Invoke(func(lc fx.Lifecycle, r *GormDBConnectionResolver) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return r.CloseAll()
			},
		})
	}),
)
