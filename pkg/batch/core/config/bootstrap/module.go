// Package bootstrap assembles the fx options of a batchmig application from its configuration.
package bootstrap

import (
	"strings"

	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/batchmig/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/batchmig/pkg/batch/adapter/database/gorm/mysql"
	"github.com/tigerroll/batchmig/pkg/batch/adapter/database/gorm/postgres"
	"github.com/tigerroll/batchmig/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/batchmig/pkg/batch/adapter/storage"
	"github.com/tigerroll/batchmig/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/batchmig/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/batchmig/pkg/batch/core/config"
	support "github.com/tigerroll/batchmig/pkg/batch/core/config/support"
	"github.com/tigerroll/batchmig/pkg/batch/core/job/runner"
	"github.com/tigerroll/batchmig/pkg/batch/infrastructure/lock"
	inframetrics "github.com/tigerroll/batchmig/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/batchmig/pkg/batch/infrastructure/report"
	"github.com/tigerroll/batchmig/pkg/batch/infrastructure/repository/inmemory"
	sqlrepo "github.com/tigerroll/batchmig/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/batchmig/pkg/batch/infrastructure/schema"
	logger "github.com/tigerroll/batchmig/pkg/batch/support/util/logger"
)

// ApplyLoggingConfig sets the engine log level from cfg.
func ApplyLoggingConfig(cfg *config.Config) {
	if level := cfg.BatchMig.System.Logging.Level; level != "" {
		logger.SetLogLevel(level)
		logger.Debugf("Log level set to: %s", level)
	}
}

// StorageModule returns the repository wiring selected by infrastructure.repository_type.
func StorageModule(cfg *config.Config) fx.Option {
	if strings.EqualFold(cfg.BatchMig.Infrastructure.RepositoryType, "memory") {
		logger.Warnf("Using the in-memory repository: migration state is lost on exit.")
		return inmemory.Module
	}
	return fx.Options(
		gormadapter.Module,
		sqlite.Module,
		postgres.Module,
		mysql.Module,
		sqlrepo.Module,
		schema.Module,
	)
}

// Options returns every fx option of the engine for an already loaded cfg. Application
// modules (migration definitions, the scheduler, populate targets) are passed as extra.
func Options(cfg *config.Config, extra ...fx.Option) []fx.Option {
	ApplyLoggingConfig(cfg)

	options := []fx.Option{
		fx.Supply(cfg),
		config.Module,
		logger.Module,

		StorageModule(cfg),
		inframetrics.Module,
		lock.Module,
		storage.Module,
		local.Module,
		report.Module,

		support.Module,
		runner.Module,
		usecase.Module,
	}
	return append(options, extra...)
}
