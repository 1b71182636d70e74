// Package report exports the jobs of a batched migration as a Parquet file to a named
// storage connection.
package report

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/fx"

	"github.com/tigerroll/batchmig/pkg/batch/adapter/storage"
	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchmig/pkg/batch/core/domain/repository"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/logger"
)

const moduleName = "report"

// JobRecord is the Parquet row of one job.
type JobRecord struct {
	ID          int64  `parquet:"name=id,type=INT64"`
	MigrationID int64  `parquet:"name=migration_id,type=INT64"`
	Project     string `parquet:"name=project,type=BYTE_ARRAY,convertedtype=UTF8"`
	Filename    string `parquet:"name=filename,type=BYTE_ARRAY,convertedtype=UTF8"`
	MinValue    int64  `parquet:"name=min_value,type=INT64"`
	MaxValue    int64  `parquet:"name=max_value,type=INT64"`
	Status      string `parquet:"name=status,type=BYTE_ARRAY,convertedtype=UTF8"`
	Attempts    int32  `parquet:"name=attempts,type=INT32"`
	CreatedAt   int64  `parquet:"name=created_at,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
	StartedAt   *int64 `parquet:"name=started_at,type=INT64,convertedtype=TIMESTAMP_MILLIS,repetitiontype=OPTIONAL"`
	FinishedAt  *int64 `parquet:"name=finished_at,type=INT64,convertedtype=TIMESTAMP_MILLIS,repetitiontype=OPTIONAL"`
	// Error is "Name: message" for failed jobs and empty otherwise.
	Error string `parquet:"name=error,type=BYTE_ARRAY,convertedtype=UTF8"`
}

// NewJobRecord converts a job of m.
func NewJobRecord(m *model.Migration, j *model.Job) JobRecord {
	rec := JobRecord{
		ID:          j.ID,
		MigrationID: j.BatchedMigrationID,
		Project:     m.Project,
		Filename:    m.Filename,
		MinValue:    j.MinValue,
		MaxValue:    j.MaxValue,
		Status:      string(j.Status),
		Attempts:    int32(j.Attempts),
		CreatedAt:   j.CreatedAt.UnixMilli(),
		StartedAt:   millis(j.StartedAt),
		FinishedAt:  millis(j.FinishedAt),
	}
	if j.Status == model.JobStatusFailed {
		rec.Error = exception.DescribeError(j.Data)
	}
	return rec
}

func millis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.UnixMilli()
	return &v
}

// ExportOptions selects where the report goes.
type ExportOptions struct {
	// StorageRef names the adapter.storage connection.
	StorageRef string
	// Bucket defaults to the connection's bucket_name.
	Bucket string
	// ObjectName defaults to jobs/<project>/<filename>/jobs_<yyyymmddhhmmss>.parquet.
	ObjectName string
	// Compression is SNAPPY (default), GZIP or NONE.
	Compression string
	// Status limits the report to jobs in one status.
	Status model.JobStatus
}

// ExportResult describes an uploaded report.
type ExportResult struct {
	ObjectName string
	Records    int
	Bytes      int
}

// JobExporter writes job reports.
type JobExporter struct {
	repo     repository.MigrationRepository
	resolver storage.StorageConnectionResolver
	now      func() time.Time
}

// NewJobExporter creates a JobExporter.
func NewJobExporter(repo repository.MigrationRepository, resolver storage.StorageConnectionResolver) *JobExporter {
	return &JobExporter{repo: repo, resolver: resolver, now: time.Now}
}

// Export writes the jobs of m, ordered by id, into one Parquet file and uploads it.
// A migration without jobs still produces a valid, empty file.
func (e *JobExporter) Export(ctx context.Context, m *model.Migration, opts ExportOptions) (ExportResult, error) {
	if opts.StorageRef == "" {
		return ExportResult{}, exception.NewBatchErrorf(moduleName, "a storage connection name is required")
	}
	codec, err := getCompressionCodec(opts.Compression)
	if err != nil {
		return ExportResult{}, exception.NewBatchError(moduleName, "invalid compression type", err, false, false)
	}
	objectName := opts.ObjectName
	if objectName == "" {
		objectName = path.Join("jobs", m.Project, m.Filename, fmt.Sprintf("jobs_%s.parquet", e.now().UTC().Format("20060102150405")))
	}

	jobs, err := e.repo.FindJobs(ctx, m.ID, repository.JobFilter{Status: opts.Status})
	if err != nil {
		return ExportResult{}, exception.NewBatchError(moduleName, fmt.Sprintf("failed to list jobs of %s", m.Identity()), err, false, true)
	}

	conn, err := e.resolver.ResolveStorageConnection(ctx, opts.StorageRef)
	if err != nil {
		return ExportResult{}, exception.NewBatchError(moduleName, fmt.Sprintf("failed to resolve storage connection '%s'", opts.StorageRef), err, false, false)
	}

	buf, err := encode(m, jobs, codec)
	if err != nil {
		return ExportResult{}, err
	}
	size := buf.Len()

	logger.Debugf("Uploading %d bytes of job report to %s:%s.", size, opts.StorageRef, objectName)
	if err := conn.Upload(ctx, opts.Bucket, objectName, buf, "application/octet-stream"); err != nil {
		return ExportResult{}, exception.NewBatchError(moduleName, fmt.Sprintf("failed to upload job report '%s'", objectName), err, false, true)
	}
	logger.Infof("Exported %d jobs of %s to %s:%s.", len(jobs), m.Identity(), opts.StorageRef, objectName)
	return ExportResult{ObjectName: objectName, Records: len(jobs), Bytes: size}, nil
}

// encode writes one row group holding every job.
func encode(m *model.Migration, jobs []*model.Job, codec parquet.CompressionCodec) (buf *bytes.Buffer, err error) {
	buf = new(bytes.Buffer)
	rowGroupSize := int64(len(jobs))
	if rowGroupSize == 0 {
		rowGroupSize = 1
	}
	pw, err := writer.NewParquetWriterFromWriter(buf, new(JobRecord), rowGroupSize)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to create parquet writer", err, false, false)
	}
	pw.CompressionType = codec

	var multiErr error
	for _, j := range jobs {
		if err := pw.Write(NewJobRecord(m, j)); err != nil {
			multiErr = multierror.Append(multiErr, fmt.Errorf("job %d: %w", j.ID, err))
		}
	}

	// WriteStop panics on some schema mismatches.
	func() {
		defer func() {
			if r := recover(); r != nil {
				multiErr = multierror.Append(multiErr, fmt.Errorf("parquet writer panicked during WriteStop: %v", r))
			}
		}()
		if err := pw.WriteStop(); err != nil {
			multiErr = multierror.Append(multiErr, err)
		}
	}()

	if multiErr != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to encode jobs of %s", m.Identity()), multiErr, false, false)
	}
	return buf, nil
}

// getCompressionCodec maps a compression name to its Parquet codec.
func getCompressionCodec(compressionType string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(compressionType) {
	case "SNAPPY", "":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}

// Module provides the JobExporter.
var Module = fx.Provide(NewJobExporter)
