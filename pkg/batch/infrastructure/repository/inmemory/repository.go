// Package inmemory provides an in-memory implementation of repository.MigrationRepository.
// State lives in maps guarded by a mutex and is lost when the process exits, which makes
// it suitable for tests and demos. Transactions carried in the context are ignored:
// every write is applied immediately.
package inmemory

import (
	"sync"
	"time"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
)

// InMemoryMigrationRepository is an in-memory repository.MigrationRepository.
type InMemoryMigrationRepository struct {
	migrations map[int64]*model.Migration
	jobs       map[int64]*model.Job
	// jobsByMigration keeps job ids in creation order.
	jobsByMigration map[int64][]int64
	nextMigrationID int64
	nextJobID       int64
	now             func() time.Time
	mu              sync.RWMutex
}

// NewInMemoryMigrationRepository creates an empty repository.
func NewInMemoryMigrationRepository() *InMemoryMigrationRepository {
	return &InMemoryMigrationRepository{
		migrations:      make(map[int64]*model.Migration),
		jobs:            make(map[int64]*model.Job),
		jobsByMigration: make(map[int64][]int64),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Close releases nothing; it exists for symmetry with the SQL repository.
func (r *InMemoryMigrationRepository) Close() error {
	return nil
}

func cloneMigration(m *model.Migration) *model.Migration {
	c := *m
	if m.MaxValue != nil {
		v := *m.MaxValue
		c.MaxValue = &v
	}
	if m.StartedAt != nil {
		v := *m.StartedAt
		c.StartedAt = &v
	}
	return &c
}

func cloneJob(j *model.Job) *model.Job {
	c := *j
	if j.StartedAt != nil {
		v := *j.StartedAt
		c.StartedAt = &v
	}
	if j.FinishedAt != nil {
		v := *j.FinishedAt
		c.FinishedAt = &v
	}
	c.Data = j.Data.Clone()
	return &c
}
