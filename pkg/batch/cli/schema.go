package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/tigerroll/batchmig/pkg/batch/infrastructure/schema"
	exception "github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
)

func newMigrateSchemaCmd(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate-schema",
		Short: "Manage the tables the engine stores its state in",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Create or upgrade the engine tables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return env.withMigrator(cmd.Context(), func(ctx context.Context, m *schema.Migrator) error {
					if err := m.Up(ctx); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Drop the engine tables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return env.withMigrator(cmd.Context(), func(ctx context.Context, m *schema.Migrator) error {
					if err := m.Down(ctx); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "schema dropped")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return env.withMigrator(cmd.Context(), func(ctx context.Context, m *schema.Migrator) error {
					version, dirty, err := m.Version(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
					return nil
				})
			},
		},
	)
	return cmd
}

// withMigrator starts the application with SQL storage and passes its schema migrator to fn.
func (e *environment) withMigrator(ctx context.Context, fn func(ctx context.Context, m *schema.Migrator) error) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	if strings.EqualFold(cfg.BatchMig.Infrastructure.RepositoryType, "memory") {
		return exception.NewBatchError(moduleName, "migrate-schema requires infrastructure.repository_type 'sql'", nil, false, false)
	}
	// Schema commands manage the tables themselves.
	cfg.BatchMig.Infrastructure.AutoMigrateSchema = false

	var migrator *schema.Migrator
	app := fx.New(e.options(cfg, fx.Populate(&migrator))...)
	if err := app.Start(ctx); err != nil {
		return exception.NewBatchError(moduleName, "failed to start application", err, false, false)
	}
	defer func() {
		_ = app.Stop(context.WithoutCancel(ctx))
	}()
	return fn(ctx, migrator)
}
