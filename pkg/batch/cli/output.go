package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchmig/pkg/batch/core/job/runner"
	exception "github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func formatMax(max *int64) string {
	if max == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *max)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func printMigrations(w io.Writer, migrations []*model.Migration) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tFILENAME\tSTATUS\tMIN\tMAX\tBATCH SIZE")
	for _, m := range migrations {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%d\n", m.ID, m.Filename, m.Status, m.MinValue, formatMax(m.MaxValue), m.BatchSize)
	}
	return tw.Flush()
}

func printStatus(w io.Writer, m *model.Migration, p model.Progress) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "Migration:\t%s\n", m.Identity())
	fmt.Fprintf(tw, "ID:\t%d\n", m.ID)
	fmt.Fprintf(tw, "Status:\t%s\n", m.Status)
	fmt.Fprintf(tw, "Range:\t%d..%s\n", m.MinValue, formatMax(m.MaxValue))
	fmt.Fprintf(tw, "Batch size:\t%d\n", m.BatchSize)
	fmt.Fprintf(tw, "Started at:\t%s\n", formatTime(m.StartedAt))
	fmt.Fprintf(tw, "Progress:\t%.1f%% (remaining %d)\n", p.Percent(), p.Remaining)
	return tw.Flush()
}

func printJobs(w io.Writer, jobs []*model.Job) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tRANGE\tSTATUS\tATTEMPTS\tSTARTED\tFINISHED\tERROR")
	for _, j := range jobs {
		detail := ""
		if j.Status == model.JobStatusFailed {
			detail = exception.DescribeError(j.Data)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n", j.ID, j.Range(), j.Status, j.Attempts, formatTime(j.StartedAt), formatTime(j.FinishedAt), detail)
	}
	return tw.Flush()
}

func printRunResult(w io.Writer, m *model.Migration, r runner.RunResult) {
	fmt.Fprintf(w, "%s: %s after %d iterations (succeeded %d, failed %d, skipped %d), stop reason %s\n",
		m.Identity(), r.Status, r.Iterations, r.JobsSucceeded, r.JobsFailed, r.JobsSkipped, r.StopReason)
}
