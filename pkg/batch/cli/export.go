package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchmig/pkg/batch/infrastructure/report"
)

func newExportJobsCmd(env *environment) *cobra.Command {
	var opts report.ExportOptions
	var status string
	cmd := &cobra.Command{
		Use:   "export-jobs <migration>",
		Short: "Export the jobs of a migration as a Parquet file",
		Long: `Export the jobs of a migration as a Parquet file to a storage connection
configured under adapter.storage.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				parsed, err := model.ParseJobStatus(status)
				if err != nil {
					return err
				}
				opts.Status = parsed
			}
			return env.withServices(cmd.Context(), func(ctx context.Context, s *services) error {
				m, err := s.find(ctx, args[0])
				if err != nil {
					return err
				}
				result, err := s.exporter.Export(ctx, m, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d jobs to %s:%s (%d bytes)\n", result.Records, opts.StorageRef, result.ObjectName, result.Bytes)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.StorageRef, "storage", "reports", "name of the adapter.storage connection")
	cmd.Flags().StringVar(&opts.Bucket, "bucket", "", "bucket to write to (default: the connection's bucket_name)")
	cmd.Flags().StringVar(&opts.ObjectName, "object", "", "object name (default: jobs/<project>/<filename>/jobs_<timestamp>.parquet)")
	cmd.Flags().StringVar(&opts.Compression, "compression", "SNAPPY", "SNAPPY, GZIP or NONE")
	cmd.Flags().StringVar(&status, "status", "", "only export jobs with this status")
	return cmd
}
