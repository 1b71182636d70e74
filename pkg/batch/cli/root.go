// Package cli exposes the migration operations as a cobra command tree. Applications
// embed their configuration, contribute their Definitions as fx options and call Execute.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	config "github.com/tigerroll/batchmig/pkg/batch/core/config"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
)

// Exit codes of Execute. ExitFatal tells schedulers such as Kubernetes CronJobs that
// running the command again will not help without operator action.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitFatal   = 2
)

// ExitCode maps the error returned by a command to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case exception.IsFatal(err):
		return ExitFatal
	default:
		return ExitFailure
	}
}

// App describes the application a command tree operates on.
type App struct {
	// Name is the binary name shown in usage output.
	Name string
	// Config is the YAML configuration compiled into the binary. --config replaces it.
	Config config.EmbeddedConfig
	// Migrations contributes the application's Definitions, usually support.ProvideMigration options.
	Migrations []fx.Option
}

type globalFlags struct {
	envFile    string
	configFile string
	project    string
}

// NewRootCommand builds the command tree for app.
func NewRootCommand(app App) *cobra.Command {
	name := app.Name
	if name == "" {
		name = "batchmig"
	}
	flags := &globalFlags{}
	env := &environment{app: app, flags: flags}

	rootCmd := &cobra.Command{
		Use:           name,
		Short:         "Run and manage batched data migrations",
		Long:          `Register, run, pause, resume and retry batched data migrations that process a key range in fixed-size batches.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "path to a .env file (default: .env in the working directory)")
	rootCmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "path to a YAML configuration replacing the embedded one")
	rootCmd.PersistentFlags().StringVarP(&flags.project, "project", "p", "", "project to operate on (default: migration.project)")

	rootCmd.AddCommand(
		newRegisterCmd(env),
		newListCmd(env),
		newStatusCmd(env),
		newJobsCmd(env),
		newPauseCmd(env),
		newResumeCmd(env),
		newRetryCmd(env),
		newRunCmd(env),
		newRunNextCmd(env),
		newFinalizeCmd(env),
		newServeCmd(env),
		newMigrateSchemaCmd(env),
		newExportJobsCmd(env),
	)
	return rootCmd
}

// Execute runs the command tree until it returns or the process receives SIGINT or SIGTERM.
func Execute(app App) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCommand(app)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		rootCmd.PrintErrln("Error:", err)
		stop()
		os.Exit(ExitCode(err))
	}
}
