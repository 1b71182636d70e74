package sql

import (
	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
)

func fromDomainMigration(m *model.Migration) *BatchedMigrationEntity {
	if m == nil {
		return nil
	}
	return &BatchedMigrationEntity{
		ID:        m.ID,
		Project:   m.Project,
		Filename:  m.Filename,
		Timestamp: m.Timestamp,
		BatchSize: m.BatchSize,
		MinValue:  m.MinValue,
		MaxValue:  m.MaxValue,
		Status:    string(m.Status),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		StartedAt: m.StartedAt,
	}
}

func toDomainMigration(e *BatchedMigrationEntity) *model.Migration {
	if e == nil {
		return nil
	}
	return &model.Migration{
		ID:        e.ID,
		Project:   e.Project,
		Filename:  e.Filename,
		Timestamp: e.Timestamp,
		BatchSize: e.BatchSize,
		MinValue:  e.MinValue,
		MaxValue:  e.MaxValue,
		Status:    model.MigrationStatus(e.Status),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
		StartedAt: e.StartedAt,
	}
}

func fromDomainJob(j *model.Job) *BatchedMigrationJobEntity {
	if j == nil {
		return nil
	}
	return &BatchedMigrationJobEntity{
		ID:                 j.ID,
		BatchedMigrationID: j.BatchedMigrationID,
		MinValue:           j.MinValue,
		MaxValue:           j.MaxValue,
		Status:             string(j.Status),
		Attempts:           j.Attempts,
		CreatedAt:          j.CreatedAt,
		UpdatedAt:          j.UpdatedAt,
		StartedAt:          j.StartedAt,
		FinishedAt:         j.FinishedAt,
		Data:               j.Data,
	}
}

func toDomainJob(e *BatchedMigrationJobEntity) *model.Job {
	if e == nil {
		return nil
	}
	return &model.Job{
		ID:                 e.ID,
		BatchedMigrationID: e.BatchedMigrationID,
		MinValue:           e.MinValue,
		MaxValue:           e.MaxValue,
		Status:             model.JobStatus(e.Status),
		Attempts:           e.Attempts,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
		StartedAt:          e.StartedAt,
		FinishedAt:         e.FinishedAt,
		Data:               e.Data,
	}
}

func statusStrings(statuses []model.MigrationStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
