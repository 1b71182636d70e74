package cli

import (
	"context"
	"os"
	"strings"

	"go.uber.org/fx"

	"github.com/tigerroll/batchmig/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/batchmig/pkg/batch/core/config"
	"github.com/tigerroll/batchmig/pkg/batch/core/config/bootstrap"
	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchmig/pkg/batch/infrastructure/report"
	exception "github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
)

const moduleName = "cli"

// environment loads the configuration and starts a short-lived fx application per command.
type environment struct {
	app   App
	flags *globalFlags
}

// services are the engine components commands operate on.
type services struct {
	cfg      *config.Config
	project  string
	operator *usecase.MigrationOperator
	executor *usecase.MigrationExecutor
	exporter *report.JobExporter
}

func (e *environment) loadConfig() (*config.Config, error) {
	data := e.app.Config
	if e.flags.configFile != "" {
		b, err := os.ReadFile(e.flags.configFile)
		if err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to read config file", err, false, false)
		}
		data = b
	}
	cfg, err := config.LoadConfig(e.flags.envFile, data)
	if err != nil {
		return nil, err
	}
	if e.flags.project != "" {
		cfg.BatchMig.Migration.Project = e.flags.project
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (e *environment) options(cfg *config.Config, extra ...fx.Option) []fx.Option {
	return bootstrap.Options(cfg, append(append([]fx.Option{}, e.app.Migrations...), extra...)...)
}

// withServices starts the application, calls fn and stops the application again.
func (e *environment) withServices(ctx context.Context, fn func(ctx context.Context, s *services) error) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	s := &services{cfg: cfg, project: cfg.BatchMig.Migration.Project}
	app := fx.New(e.options(cfg, fx.Populate(&s.operator, &s.executor, &s.exporter))...)
	if err := app.Start(ctx); err != nil {
		return exception.NewBatchError(moduleName, "failed to start application", err, false, false)
	}
	defer func() {
		// ctx may already be cancelled; shutdown hooks still need to run.
		_ = app.Stop(context.WithoutCancel(ctx))
	}()
	return fn(ctx, s)
}

// find resolves a migration of the current project by filename or timestamp.
func (s *services) find(ctx context.Context, name string) (*model.Migration, error) {
	return s.operator.Find(ctx, s.project, strings.TrimSpace(name))
}
