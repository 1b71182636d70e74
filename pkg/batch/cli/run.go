package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/tigerroll/batchmig/pkg/batch/core/job/runner"
	"github.com/tigerroll/batchmig/pkg/batch/core/job/scheduler"
	exception "github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchmig/pkg/batch/support/util/logger"
)

func addBudgetFlags(cmd *cobra.Command, opts *runner.RunOptions) {
	cmd.Flags().IntVar(&opts.Iterations, "iterations", 0, "stop after this many iterations (0: unbounded)")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0: unbounded)")
}

func newRunCmd(env *environment) *cobra.Command {
	var opts runner.RunOptions
	cmd := &cobra.Command{
		Use:   "run <migration>",
		Short: "Run a migration until it finishes or its budget is spent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withServices(cmd.Context(), func(ctx context.Context, s *services) error {
				m, err := s.find(ctx, args[0])
				if err != nil {
					return err
				}
				result, err := s.executor.Run(ctx, m.ID, opts)
				if err != nil {
					return err
				}
				printRunResult(cmd.OutOrStdout(), m, result)
				return nil
			})
		},
	}
	addBudgetFlags(cmd, &opts)
	return cmd
}

func newRunNextCmd(env *environment) *cobra.Command {
	var opts runner.RunOptions
	cmd := &cobra.Command{
		Use:   "run-next",
		Short: "Run the oldest unfinished migration of the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withServices(cmd.Context(), func(ctx context.Context, s *services) error {
				m, result, err := s.executor.RunNext(ctx, s.project, opts)
				if err != nil {
					return err
				}
				if m == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to run")
					return nil
				}
				printRunResult(cmd.OutOrStdout(), m, result)
				return nil
			})
		},
	}
	addBudgetFlags(cmd, &opts)
	return cmd
}

func newFinalizeCmd(env *environment) *cobra.Command {
	var poll time.Duration
	cmd := &cobra.Command{
		Use:   "finalize <migration>",
		Short: "Run a migration to completion, registering it first if needed",
		Long: `Run a migration to completion in the foreground. Jobs in flight in other
processes are waited for. Fails if the migration ends failed or is paused.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withServices(cmd.Context(), func(ctx context.Context, s *services) error {
				if poll > 0 {
					s.executor.SetPollInterval(poll)
				}
				m, err := s.executor.Finalize(ctx, s.project, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", m.Identity(), m.Status)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&poll, "poll-interval", 0, "how often to check on jobs in flight elsewhere")
	return cmd
}

func newServeCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the project's migrations on the configured schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			app := fx.New(env.options(cfg, scheduler.Module)...)
			if err := app.Start(ctx); err != nil {
				return exception.NewBatchError(moduleName, "failed to start application", err, false, false)
			}
			logger.Infof("Serving project '%s' on schedule '%s'.", cfg.BatchMig.Migration.Project, cfg.BatchMig.Migration.Schedule)

			<-ctx.Done()
			logger.Infof("Shutting down.")
			return app.Stop(context.WithoutCancel(ctx))
		},
	}
}
