package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
)

func newRegisterCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register every migration of the project that is not stored yet",
		Long: `Register every migration compiled into the binary for the project.

Parameters (key range and batch size) are computed once, at registration time.
Migrations that already exist are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withServices(cmd.Context(), func(ctx context.Context, s *services) error {
				results, err := s.operator.RegisterAll(ctx, s.project)
				for _, r := range results {
					state := "exists"
					if r.Registered {
						state = "registered"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s (%s)\n", state, r.Migration.Filename, r.Migration.Status)
				}
				return err
			})
		},
	}
}

func newListCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the project's migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withServices(cmd.Context(), func(ctx context.Context, s *services) error {
				migrations, err := s.operator.List(ctx, s.project)
				if err != nil {
					return err
				}
				return printMigrations(cmd.OutOrStdout(), migrations)
			})
		},
	}
}

func newStatusCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "status <migration>",
		Short: "Show the status and progress of a migration",
		Long:  `Show the status and progress of a migration, named by filename or timestamp.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withServices(cmd.Context(), func(ctx context.Context, s *services) error {
				m, err := s.find(ctx, args[0])
				if err != nil {
					return err
				}
				p, err := s.operator.Progress(ctx, m.ID)
				if err != nil {
					return err
				}
				return printStatus(cmd.OutOrStdout(), m, p)
			})
		},
	}
}

func newJobsCmd(env *environment) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "jobs <migration>",
		Short: "List the jobs of a migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter model.JobStatus
			if status != "" {
				parsed, err := model.ParseJobStatus(status)
				if err != nil {
					return err
				}
				filter = parsed
			}
			return env.withServices(cmd.Context(), func(ctx context.Context, s *services) error {
				m, err := s.find(ctx, args[0])
				if err != nil {
					return err
				}
				jobs, err := s.operator.Jobs(ctx, m.ID, filter)
				if err != nil {
					return err
				}
				return printJobs(cmd.OutOrStdout(), jobs)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only list jobs with this status (pending, succeeded, failed)")
	return cmd
}

func newPauseCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <migration>",
		Short: "Pause a migration",
		Long:  `Pause a migration. Runners stop picking it up; jobs already in flight still finish.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withServices(cmd.Context(), func(ctx context.Context, s *services) error {
				m, err := s.find(ctx, args[0])
				if err != nil {
					return err
				}
				if m, err = s.operator.Pause(ctx, m.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", m.Identity(), m.Status)
				return nil
			})
		},
	}
}

func newResumeCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <migration>",
		Short: "Resume a paused migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withServices(cmd.Context(), func(ctx context.Context, s *services) error {
				m, err := s.find(ctx, args[0])
				if err != nil {
					return err
				}
				if m, err = s.operator.Resume(ctx, m.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", m.Identity(), m.Status)
				return nil
			})
		},
	}
}

func newRetryCmd(env *environment) *cobra.Command {
	var stuck int64
	cmd := &cobra.Command{
		Use:   "retry <migration>",
		Short: "Reset the failed jobs of a migration so they run again",
		Long: `Reset the failed jobs of a migration to pending. A failed migration is moved
back to running so the next run picks the jobs up again.

With --stuck, release a single job that was claimed by a worker which died before
finishing it. Runs do not advance past such a job until it is released.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withServices(cmd.Context(), func(ctx context.Context, s *services) error {
				m, err := s.find(ctx, args[0])
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("stuck") {
					job, err := s.operator.ReclaimJob(ctx, m.ID, stuck)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: job %d %s released\n", m.Identity(), job.ID, job.Range())
					return nil
				}
				n, err := s.operator.RetryFailedJobs(ctx, m.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d failed jobs reset\n", m.Identity(), n)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&stuck, "stuck", 0, "id of a claimed but unfinished job to release")
	return cmd
}
