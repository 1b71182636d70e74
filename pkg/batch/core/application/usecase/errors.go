package usecase

import (
	"errors"

	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
)

var (
	// ErrDefinitionNotFound is returned when a stored migration has no Definition registered in this process.
	ErrDefinitionNotFound = errors.New("migration definition not registered")
	// ErrMigrationFailed is returned by Finalize when the migration ended failed.
	ErrMigrationFailed = errors.New("batched migration failed")
	// ErrMigrationPaused is returned by Finalize for a paused migration.
	ErrMigrationPaused = errors.New("batched migration is paused")
	// ErrJobNotInFlight is returned by ReclaimJob for a job that is not claimed and unfinished.
	ErrJobNotInFlight = errors.New("job is not in flight")
)

func init() {
	exception.RegisterErrorType("ErrDefinitionNotFound", ErrDefinitionNotFound)
	exception.RegisterErrorType("ErrMigrationFailed", ErrMigrationFailed)
	exception.RegisterErrorType("ErrMigrationPaused", ErrMigrationPaused)
	exception.RegisterErrorType("ErrJobNotInFlight", ErrJobNotInFlight)
}
