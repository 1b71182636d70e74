// Package sql implements the migration repository on top of the database adapter.
package sql

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tigerroll/batchmig/pkg/batch/adapter/database"
	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchmig/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/batchmig/pkg/batch/core/tx"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
)

// SQLMigrationRepository implements repository.MigrationRepository.
type SQLMigrationRepository struct {
	dbResolver database.DBConnectionResolver
	dbName     string
	now        func() time.Time
}

// NewSQLMigrationRepository creates a repository over the named connection.
func NewSQLMigrationRepository(dbResolver database.DBConnectionResolver, dbName string) *SQLMigrationRepository {
	return &SQLMigrationRepository{
		dbResolver: dbResolver,
		dbName:     dbName,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// getDBConnection resolves the connection used for reads.
func (r *SQLMigrationRepository) getDBConnection(ctx context.Context) (database.DBConnection, error) {
	conn, err := r.dbResolver.ResolveDBConnection(ctx, r.dbName)
	if err != nil {
		return nil, exception.NewBatchError("SQLMigrationRepository", fmt.Sprintf("failed to resolve DB connection '%s'", r.dbName), err, false, true)
	}
	return conn, nil
}

// getTxExecutor returns the transaction carried by ctx, or the plain connection.
func (r *SQLMigrationRepository) getTxExecutor(ctx context.Context) (tx.TxExecutor, error) {
	if t, ok := tx.FromContext(ctx); ok {
		return t, nil
	}
	return r.getDBConnection(ctx)
}

// wrap converts a storage error into a retryable BatchError.
func wrap(op string, executor tx.TxExecutor, err error, msg string) error {
	if executor != nil && executor.IsTableNotExistError(err) {
		msg += " (schema missing: run the schema migration first)"
	}
	return exception.NewBatchError(op, msg, err, false, true)
}

// --- BatchedMigration ---

// RegisterMigration implements repository.BatchedMigration.
func (r *SQLMigrationRepository) RegisterMigration(ctx context.Context, m *model.Migration) (*model.Migration, bool, error) {
	const op = "SQLMigrationRepository.RegisterMigration"

	if err := m.Validate(); err != nil {
		return nil, false, exception.NewBatchError(op, "invalid migration", err, false, false)
	}

	now := r.now()
	entity := fromDomainMigration(m)
	entity.ID = 0
	entity.CreatedAt = now
	entity.UpdatedAt = now
	if entity.Status == "" {
		entity.Status = string(model.MigrationStatusPending)
	}

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return nil, false, err
	}
	rows, err := executor.ExecuteUpsert(ctx, entity, migrationTable, []string{"project", "timestamp"}, nil)
	if err != nil {
		return nil, false, wrap(op, executor, err, fmt.Sprintf("failed to register migration %s", m.Identity()))
	}

	stored, err := r.FindMigrationByIdentity(ctx, m.Project, m.Timestamp)
	if err != nil {
		return nil, false, err
	}
	return stored, rows > 0, nil
}

// FindMigrationByID implements repository.BatchedMigration.
func (r *SQLMigrationRepository) FindMigrationByID(ctx context.Context, id int64) (*model.Migration, error) {
	const op = "SQLMigrationRepository.FindMigrationByID"
	return r.findOneMigration(ctx, op, map[string]interface{}{"id": id})
}

// FindMigrationByIdentity implements repository.BatchedMigration.
func (r *SQLMigrationRepository) FindMigrationByIdentity(ctx context.Context, project, timestamp string) (*model.Migration, error) {
	const op = "SQLMigrationRepository.FindMigrationByIdentity"
	return r.findOneMigration(ctx, op, map[string]interface{}{"project": project, "timestamp": timestamp})
}

func (r *SQLMigrationRepository) findOneMigration(ctx context.Context, op string, query map[string]interface{}) (*model.Migration, error) {
	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}
	var entities []BatchedMigrationEntity
	if err := conn.ExecuteQueryAdvanced(ctx, &entities, query, "", 1); err != nil {
		return nil, wrap(op, conn, err, "failed to find migration")
	}
	if len(entities) == 0 {
		return nil, repository.ErrMigrationNotFound
	}
	return toDomainMigration(&entities[0]), nil
}

// FindMigrations implements repository.BatchedMigration.
// Ordering happens in memory: "timestamp" is a keyword in every supported dialect and
// a project only ever has a handful of migrations.
func (r *SQLMigrationRepository) FindMigrations(ctx context.Context, project string) ([]*model.Migration, error) {
	const op = "SQLMigrationRepository.FindMigrations"
	return r.findMigrations(ctx, op, map[string]interface{}{"project": project})
}

// FindNextRunnableMigration implements repository.BatchedMigration.
func (r *SQLMigrationRepository) FindNextRunnableMigration(ctx context.Context, project string, statuses []model.MigrationStatus) (*model.Migration, error) {
	const op = "SQLMigrationRepository.FindNextRunnableMigration"
	migrations, err := r.findMigrations(ctx, op, map[string]interface{}{
		"project": project,
		"status":  statusStrings(statuses),
	})
	if err != nil {
		return nil, err
	}
	if len(migrations) == 0 {
		return nil, repository.ErrMigrationNotFound
	}
	return migrations[0], nil
}

func (r *SQLMigrationRepository) findMigrations(ctx context.Context, op string, query map[string]interface{}) ([]*model.Migration, error) {
	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}
	var entities []BatchedMigrationEntity
	if err := conn.ExecuteQuery(ctx, &entities, query); err != nil {
		return nil, wrap(op, conn, err, "failed to list migrations")
	}
	out := make([]*model.Migration, 0, len(entities))
	for i := range entities {
		out = append(out, toDomainMigration(&entities[i]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateMigrationStatus implements repository.BatchedMigration.
func (r *SQLMigrationRepository) UpdateMigrationStatus(ctx context.Context, id int64, from []model.MigrationStatus, next model.MigrationStatus) (bool, error) {
	const op = "SQLMigrationRepository.UpdateMigrationStatus"

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return false, err
	}
	now := r.now()
	rows, err := executor.ExecuteUpdateColumns(ctx, migrationTable,
		map[string]interface{}{"id": id, "status": statusStrings(from)},
		map[string]interface{}{"status": string(next), "updated_at": now},
	)
	if err != nil {
		return false, wrap(op, executor, err, fmt.Sprintf("failed to move migration %d to %s", id, next))
	}
	if rows == 0 {
		return false, nil
	}

	if next == model.MigrationStatusRunning {
		if _, err := executor.ExecuteUpdateColumns(ctx, migrationTable,
			map[string]interface{}{"id": id, "started_at": nil},
			map[string]interface{}{"started_at": now},
		); err != nil {
			return true, wrap(op, executor, err, fmt.Sprintf("failed to stamp started_at of migration %d", id))
		}
	}
	return true, nil
}

// --- BatchedMigrationJob ---

// FindLatestJob implements repository.BatchedMigrationJob.
func (r *SQLMigrationRepository) FindLatestJob(ctx context.Context, migrationID int64) (*model.Job, error) {
	const op = "SQLMigrationRepository.FindLatestJob"
	return r.findOneJob(ctx, op, map[string]interface{}{"batched_migration_id": migrationID}, "id DESC")
}

// FindFirstUnstartedJob implements repository.BatchedMigrationJob.
func (r *SQLMigrationRepository) FindFirstUnstartedJob(ctx context.Context, migrationID int64) (*model.Job, error) {
	const op = "SQLMigrationRepository.FindFirstUnstartedJob"
	return r.findOneJob(ctx, op, map[string]interface{}{
		"batched_migration_id": migrationID,
		"status":               string(model.JobStatusPending),
		"started_at":           nil,
	}, "id ASC")
}

func (r *SQLMigrationRepository) findOneJob(ctx context.Context, op string, query map[string]interface{}, orderBy string) (*model.Job, error) {
	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}
	var entities []BatchedMigrationJobEntity
	if err := conn.ExecuteQueryAdvanced(ctx, &entities, query, orderBy, 1); err != nil {
		return nil, wrap(op, conn, err, "failed to find job")
	}
	if len(entities) == 0 {
		return nil, repository.ErrJobNotFound
	}
	return toDomainJob(&entities[0]), nil
}

// CreateJob implements repository.BatchedMigrationJob.
func (r *SQLMigrationRepository) CreateJob(ctx context.Context, job *model.Job) error {
	const op = "SQLMigrationRepository.CreateJob"

	now := r.now()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	entity := fromDomainJob(job)
	entity.ID = 0

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}
	if _, err := executor.ExecuteUpdate(ctx, entity, "CREATE", jobTable, nil); err != nil {
		return wrap(op, executor, err, fmt.Sprintf("failed to create job %s for migration %d", job.Range(), job.BatchedMigrationID))
	}
	job.ID = entity.ID
	return nil
}

// StartJob implements repository.BatchedMigrationJob.
func (r *SQLMigrationRepository) StartJob(ctx context.Context, job *model.Job) (bool, error) {
	const op = "SQLMigrationRepository.StartJob"

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return false, err
	}
	now := r.now()
	rows, err := executor.ExecuteUpdateColumns(ctx, jobTable,
		map[string]interface{}{"id": job.ID, "status": string(model.JobStatusPending), "started_at": nil},
		map[string]interface{}{"started_at": now, "attempts": job.Attempts + 1, "updated_at": now},
	)
	if err != nil {
		return false, wrap(op, executor, err, fmt.Sprintf("failed to start job %d", job.ID))
	}
	if rows == 0 {
		return false, nil
	}
	job.StartedAt = &now
	job.Attempts++
	job.UpdatedAt = now
	return true, nil
}

// FinishJob implements repository.BatchedMigrationJob.
func (r *SQLMigrationRepository) FinishJob(ctx context.Context, job *model.Job) error {
	const op = "SQLMigrationRepository.FinishJob"

	if !job.Status.IsFinished() {
		return exception.NewBatchErrorf(op, "job %d cannot finish with status %s", job.ID, job.Status)
	}
	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}
	now := r.now()
	rows, err := executor.ExecuteUpdateColumns(ctx, jobTable,
		map[string]interface{}{"id": job.ID, "status": string(model.JobStatusPending)},
		map[string]interface{}{"status": string(job.Status), "finished_at": now, "updated_at": now, "data": job.Data},
	)
	if err != nil {
		return wrap(op, executor, err, fmt.Sprintf("failed to finish job %d", job.ID))
	}
	if rows == 0 {
		return exception.NewOptimisticLockingFailureException(op, fmt.Sprintf("job %d is no longer pending", job.ID), nil)
	}
	job.FinishedAt = &now
	job.UpdatedAt = now
	return nil
}

// CountJobs implements repository.BatchedMigrationJob.
func (r *SQLMigrationRepository) CountJobs(ctx context.Context, migrationID int64, status model.JobStatus) (int64, error) {
	const op = "SQLMigrationRepository.CountJobs"
	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return 0, err
	}
	count, err := conn.Count(ctx, &BatchedMigrationJobEntity{}, map[string]interface{}{
		"batched_migration_id": migrationID,
		"status":               string(status),
	})
	if err != nil {
		return 0, wrap(op, conn, err, fmt.Sprintf("failed to count %s jobs of migration %d", status, migrationID))
	}
	return count, nil
}

// FindJobs implements repository.BatchedMigrationJob.
func (r *SQLMigrationRepository) FindJobs(ctx context.Context, migrationID int64, filter repository.JobFilter) ([]*model.Job, error) {
	const op = "SQLMigrationRepository.FindJobs"
	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}
	query := map[string]interface{}{"batched_migration_id": migrationID}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	var entities []BatchedMigrationJobEntity
	if err := conn.ExecuteQueryAdvanced(ctx, &entities, query, "id ASC", filter.Limit); err != nil {
		return nil, wrap(op, conn, err, fmt.Sprintf("failed to list jobs of migration %d", migrationID))
	}
	out := make([]*model.Job, 0, len(entities))
	for i := range entities {
		out = append(out, toDomainJob(&entities[i]))
	}
	return out, nil
}

// ResetFailedJobs implements repository.BatchedMigrationJob.
func (r *SQLMigrationRepository) ResetFailedJobs(ctx context.Context, migrationID int64) (int64, error) {
	const op = "SQLMigrationRepository.ResetFailedJobs"
	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := executor.ExecuteUpdateColumns(ctx, jobTable,
		map[string]interface{}{"batched_migration_id": migrationID, "status": string(model.JobStatusFailed)},
		map[string]interface{}{
			"status":      string(model.JobStatusPending),
			"started_at":  nil,
			"finished_at": nil,
			"data":        nil,
			"updated_at":  r.now(),
		},
	)
	if err != nil {
		return 0, wrap(op, executor, err, fmt.Sprintf("failed to reset failed jobs of migration %d", migrationID))
	}
	return rows, nil
}

// ReclaimJob implements repository.BatchedMigrationJob.
func (r *SQLMigrationRepository) ReclaimJob(ctx context.Context, jobID int64) (bool, error) {
	const op = "SQLMigrationRepository.ReclaimJob"
	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return false, err
	}
	rows, err := executor.ExecuteUpdateColumns(ctx, jobTable,
		map[string]interface{}{"id": jobID, "status": string(model.JobStatusPending), "started_at": tx.NotNull},
		map[string]interface{}{"started_at": nil, "updated_at": r.now()},
	)
	if err != nil {
		return false, wrap(op, executor, err, fmt.Sprintf("failed to reclaim job %d", jobID))
	}
	return rows > 0, nil
}

var _ repository.MigrationRepository = (*SQLMigrationRepository)(nil)
