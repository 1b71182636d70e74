package sql

import (
	"time"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
)

const (
	migrationTable = "batched_migrations"
	jobTable       = "batched_migration_jobs"
)

// BatchedMigrationEntity is the persistence model of a batched migration.
type BatchedMigrationEntity struct {
	ID        int64      `gorm:"column:id;primaryKey;autoIncrement"`
	Project   string     `gorm:"column:project;not null"`
	Filename  string     `gorm:"column:filename;not null"`
	Timestamp string     `gorm:"column:timestamp;not null"`
	BatchSize int64      `gorm:"column:batch_size;not null"`
	MinValue  int64      `gorm:"column:min_value;not null"`
	MaxValue  *int64     `gorm:"column:max_value"`
	Status    string     `gorm:"column:status;not null"`
	CreatedAt time.Time  `gorm:"column:created_at"`
	UpdatedAt time.Time  `gorm:"column:updated_at"`
	StartedAt *time.Time `gorm:"column:started_at"`
}

// TableName implements gorm's tabler.
func (BatchedMigrationEntity) TableName() string {
	return migrationTable
}

// BatchedMigrationJobEntity is the persistence model of a batch job.
type BatchedMigrationJobEntity struct {
	ID                 int64         `gorm:"column:id;primaryKey;autoIncrement"`
	BatchedMigrationID int64         `gorm:"column:batched_migration_id;not null"`
	MinValue           int64         `gorm:"column:min_value;not null"`
	MaxValue           int64         `gorm:"column:max_value;not null"`
	Status             string        `gorm:"column:status;not null"`
	Attempts           int           `gorm:"column:attempts;not null"`
	CreatedAt          time.Time     `gorm:"column:created_at"`
	UpdatedAt          time.Time     `gorm:"column:updated_at"`
	StartedAt          *time.Time    `gorm:"column:started_at"`
	FinishedAt         *time.Time    `gorm:"column:finished_at"`
	Data               model.JobData `gorm:"column:data"`
}

// TableName implements gorm's tabler.
func (BatchedMigrationJobEntity) TableName() string {
	return jobTable
}
