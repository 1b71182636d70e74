package lock

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/tigerroll/batchmig/pkg/batch/adapter/database"
	config "github.com/tigerroll/batchmig/pkg/batch/core/config"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/logger"
)

// LockerParams defines the dependencies of NewLocker.
type LockerParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Cfg       *config.Config
	// DBResolver is only needed by the postgres backend.
	DBResolver database.DBConnectionResolver `optional:"true"`
}

// NewLocker builds the Locker selected by batchmig.migration.lock.type.
func NewLocker(p LockerParams) (Locker, error) {
	lc := p.Cfg.BatchMig.Migration.Lock
	prefix := lc.Name
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}

	switch strings.ToLower(lc.Type) {
	case "", "memory":
		logger.Infof("Using in-process migration lock.")
		return NewMemoryLocker(), nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     lc.Redis.Addr,
			Password: lc.Redis.Password,
			DB:       lc.Redis.DB,
		})
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					return exception.NewBatchError("lock", fmt.Sprintf("redis at %s is unreachable", lc.Redis.Addr), err, false, true)
				}
				logger.Infof("Using redis migration lock at %s.", lc.Redis.Addr)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return client.Close()
			},
		})
		return NewRedisLocker(client, prefix), nil

	case "postgres":
		if p.DBResolver == nil {
			return nil, exception.NewBatchErrorf("lock", "postgres lock requires a database connection resolver")
		}
		dbName := p.Cfg.BatchMig.Infrastructure.RepositoryDBRef
		if dbName == "" {
			dbName = "metadata"
		}
		conn, err := p.DBResolver.ResolveDBConnection(context.Background(), dbName)
		if err != nil {
			return nil, exception.NewBatchError("lock", fmt.Sprintf("failed to resolve connection '%s' for advisory lock", dbName), err, false, false)
		}
		if conn.Type() != "postgres" {
			return nil, exception.NewBatchErrorf("lock", "advisory lock needs a postgres connection, '%s' is %s", dbName, conn.Type())
		}
		sqlDB, err := conn.GetSQLDB()
		if err != nil {
			return nil, exception.NewBatchError("lock", "failed to get *sql.DB for advisory lock", err, false, false)
		}
		logger.Infof("Using postgres advisory migration lock on connection '%s'.", dbName)
		return NewPostgresAdvisoryLocker(sqlDB, prefix), nil

	default:
		return nil, exception.NewBatchErrorf("lock", "unknown lock type '%s'", lc.Type)
	}
}

// Module provides the configured Locker.
var Module = fx.Options(
	fx.Provide(NewLocker),
)
