package inmemory

import (
	"context"
	"sort"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchmig/pkg/batch/core/domain/repository"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
)

// RegisterMigration implements repository.BatchedMigration.
func (r *InMemoryMigrationRepository) RegisterMigration(ctx context.Context, m *model.Migration) (*model.Migration, bool, error) {
	if err := m.Validate(); err != nil {
		return nil, false, exception.NewBatchError("InMemoryMigrationRepository.RegisterMigration", "invalid migration", err, false, false)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.migrations {
		if existing.Project == m.Project && existing.Timestamp == m.Timestamp {
			return cloneMigration(existing), false, nil
		}
	}

	r.nextMigrationID++
	stored := cloneMigration(m)
	stored.ID = r.nextMigrationID
	if stored.Status == "" {
		stored.Status = model.MigrationStatusPending
	}
	now := r.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.StartedAt = nil
	r.migrations[stored.ID] = stored
	return cloneMigration(stored), true, nil
}

// FindMigrationByID implements repository.BatchedMigration.
func (r *InMemoryMigrationRepository) FindMigrationByID(ctx context.Context, id int64) (*model.Migration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.migrations[id]
	if !ok {
		return nil, repository.ErrMigrationNotFound
	}
	return cloneMigration(m), nil
}

// FindMigrationByIdentity implements repository.BatchedMigration.
func (r *InMemoryMigrationRepository) FindMigrationByIdentity(ctx context.Context, project, timestamp string) (*model.Migration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.migrations {
		if m.Project == project && m.Timestamp == timestamp {
			return cloneMigration(m), nil
		}
	}
	return nil, repository.ErrMigrationNotFound
}

// FindMigrations implements repository.BatchedMigration.
func (r *InMemoryMigrationRepository) FindMigrations(ctx context.Context, project string) ([]*model.Migration, error) {
	return r.filterMigrations(project, nil), nil
}

// FindNextRunnableMigration implements repository.BatchedMigration.
func (r *InMemoryMigrationRepository) FindNextRunnableMigration(ctx context.Context, project string, statuses []model.MigrationStatus) (*model.Migration, error) {
	out := r.filterMigrations(project, statuses)
	if len(out) == 0 {
		return nil, repository.ErrMigrationNotFound
	}
	return out[0], nil
}

func (r *InMemoryMigrationRepository) filterMigrations(project string, statuses []model.MigrationStatus) []*model.Migration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Migration, 0)
	for _, m := range r.migrations {
		if m.Project != project {
			continue
		}
		if statuses != nil && !containsStatus(statuses, m.Status) {
			continue
		}
		out = append(out, cloneMigration(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// UpdateMigrationStatus implements repository.BatchedMigration.
func (r *InMemoryMigrationRepository) UpdateMigrationStatus(ctx context.Context, id int64, from []model.MigrationStatus, next model.MigrationStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.migrations[id]
	if !ok || !containsStatus(from, m.Status) {
		return false, nil
	}
	now := r.now()
	m.Status = next
	m.UpdatedAt = now
	if next == model.MigrationStatusRunning && m.StartedAt == nil {
		m.StartedAt = &now
	}
	return true, nil
}

func containsStatus(statuses []model.MigrationStatus, s model.MigrationStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}
