package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
)

// ErrMigrationNotFound is returned when no batched migration matches a lookup.
var ErrMigrationNotFound = errors.New("batched migration not found")

func init() {
	exception.RegisterErrorType("ErrMigrationNotFound", ErrMigrationNotFound)
}

// BatchedMigration persists batched migration records.
type BatchedMigration interface {
	// RegisterMigration inserts m unless (project, timestamp) already exists.
	// It returns the stored record and whether this call inserted it.
	RegisterMigration(ctx context.Context, m *model.Migration) (*model.Migration, bool, error)

	// FindMigrationByID returns ErrMigrationNotFound if id does not exist.
	FindMigrationByID(ctx context.Context, id int64) (*model.Migration, error)

	// FindMigrationByIdentity looks a migration up by project and timestamp.
	FindMigrationByIdentity(ctx context.Context, project, timestamp string) (*model.Migration, error)

	// FindMigrations lists every migration of project ordered by timestamp.
	FindMigrations(ctx context.Context, project string) ([]*model.Migration, error)

	// FindNextRunnableMigration returns the oldest migration of project whose status is one of statuses.
	FindNextRunnableMigration(ctx context.Context, project string, statuses []model.MigrationStatus) (*model.Migration, error)

	// UpdateMigrationStatus moves migration id to next if its current status is one of from.
	// It reports whether a row was updated. Moving to running stamps started_at if unset.
	UpdateMigrationStatus(ctx context.Context, id int64, from []model.MigrationStatus, next model.MigrationStatus) (bool, error)
}
