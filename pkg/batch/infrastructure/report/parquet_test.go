package report_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/tigerroll/batchmig/pkg/batch/adapter/storage"
	localstorage "github.com/tigerroll/batchmig/pkg/batch/adapter/storage/local"
	config "github.com/tigerroll/batchmig/pkg/batch/core/config"
	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchmig/pkg/batch/infrastructure/report"
	"github.com/tigerroll/batchmig/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
	testutil "github.com/tigerroll/batchmig/pkg/batch/test"
)

const filename = "20240101000000_backfill"

type fixture struct {
	baseDir   string
	exporter  *report.JobExporter
	migration *model.Migration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	baseDir := t.TempDir()

	cfg := config.NewConfig()
	cfg.BatchMig.AdapterConfigs["storage"] = map[string]interface{}{
		"reports": map[string]interface{}{"type": "local", "bucket_name": "exports", "base_dir": baseDir},
	}
	resolver := storage.NewResolver(storage.ResolverParams{
		Providers: []storage.StorageProvider{localstorage.NewProvider()},
		Cfg:       cfg,
	})

	repo := inmemory.NewInMemoryMigrationRepository()
	m, _, err := repo.RegisterMigration(ctx, testutil.NewTestMigration("app", filename, 1, testutil.Int64(30), 10))
	require.NoError(t, err)

	outcomes := []model.JobStatus{model.JobStatusSucceeded, model.JobStatusFailed, ""}
	for i, outcome := range outcomes {
		job := &model.Job{BatchedMigrationID: m.ID, MinValue: int64(i*10 + 1), MaxValue: int64(i*10 + 10)}
		require.NoError(t, repo.CreateJob(ctx, job))
		if outcome == "" {
			continue
		}
		started, err := repo.StartJob(ctx, job)
		require.NoError(t, err)
		require.True(t, started)
		job.Status = outcome
		if outcome == model.JobStatusFailed {
			job.Data = exception.SerializeError(errors.New("boom"))
		}
		require.NoError(t, repo.FinishJob(ctx, job))
	}

	return &fixture{
		baseDir:   baseDir,
		exporter:  report.NewJobExporter(repo, resolver),
		migration: m,
	}
}

func readRecords(t *testing.T, path string) []report.JobRecord {
	t.Helper()
	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(report.JobRecord), 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	records := make([]report.JobRecord, pr.GetNumRows())
	require.NoError(t, pr.Read(&records))
	return records
}

func TestExport(t *testing.T) {
	f := newFixture(t)

	result, err := f.exporter.Export(context.Background(), f.migration, report.ExportOptions{
		StorageRef: "reports",
		ObjectName: "jobs/all.parquet",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Records)
	assert.Equal(t, "jobs/all.parquet", result.ObjectName)
	assert.Positive(t, result.Bytes)

	records := readRecords(t, filepath.Join(f.baseDir, "exports", "jobs", "all.parquet"))
	require.Len(t, records, 3)

	assert.Equal(t, "app", records[0].Project)
	assert.Equal(t, filename, records[0].Filename)
	assert.Equal(t, int64(1), records[0].MinValue)
	assert.Equal(t, int64(10), records[0].MaxValue)
	assert.Equal(t, "succeeded", records[0].Status)
	assert.Equal(t, int32(1), records[0].Attempts)
	assert.NotNil(t, records[0].FinishedAt)
	assert.Empty(t, records[0].Error)

	assert.Equal(t, "failed", records[1].Status)
	assert.Equal(t, "Error: boom", records[1].Error)

	assert.Equal(t, "pending", records[2].Status)
	assert.Nil(t, records[2].StartedAt)
	assert.Nil(t, records[2].FinishedAt)
}

func TestExport_StatusFilterAndDefaultObjectName(t *testing.T) {
	f := newFixture(t)

	result, err := f.exporter.Export(context.Background(), f.migration, report.ExportOptions{
		StorageRef:  "reports",
		Bucket:      "failures",
		Compression: "none",
		Status:      model.JobStatusFailed,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Records)
	assert.Regexp(t, `^jobs/app/`+filename+`/jobs_\d{14}\.parquet$`, result.ObjectName)

	records := readRecords(t, filepath.Join(f.baseDir, "failures", filepath.FromSlash(result.ObjectName)))
	require.Len(t, records, 1)
	assert.Equal(t, int64(11), records[0].MinValue)
}

func TestExport_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.exporter.Export(ctx, f.migration, report.ExportOptions{})
	assert.ErrorContains(t, err, "storage connection name is required")

	_, err = f.exporter.Export(ctx, f.migration, report.ExportOptions{StorageRef: "reports", Compression: "brotli"})
	assert.ErrorContains(t, err, "unsupported compression type: brotli")

	_, err = f.exporter.Export(ctx, f.migration, report.ExportOptions{StorageRef: "archive"})
	assert.ErrorContains(t, err, "storage configuration 'archive' not found")

	_, err = f.exporter.Export(ctx, f.migration, report.ExportOptions{StorageRef: "reports", ObjectName: "../../escape.parquet"})
	assert.ErrorContains(t, err, "resolves outside of base_dir")
}
