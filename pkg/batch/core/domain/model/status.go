package model

import "fmt"

// MigrationStatus is the lifecycle state of a batched migration.
type MigrationStatus string

const (
	MigrationStatusPending    MigrationStatus = "pending"
	MigrationStatusPaused     MigrationStatus = "paused"
	MigrationStatusRunning    MigrationStatus = "running"
	MigrationStatusFinalizing MigrationStatus = "finalizing"
	MigrationStatusFailed     MigrationStatus = "failed"
	MigrationStatusSucceeded  MigrationStatus = "succeeded"
)

// String returns the persisted form of the status.
func (s MigrationStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further automatic transitions can happen.
func (s MigrationStatus) IsTerminal() bool {
	return s == MigrationStatusFailed || s == MigrationStatusSucceeded
}

// IsRunnable reports whether a runner may create or execute jobs in this status.
func (s MigrationStatus) IsRunnable() bool {
	return s == MigrationStatusRunning || s == MigrationStatusFinalizing
}

// IsValid reports whether s is a known status.
func (s MigrationStatus) IsValid() bool {
	_, ok := validMigrationTransitions[s]
	return ok
}

// validMigrationTransitions lists, for each status, the statuses it may move to.
// failed -> running only happens when failed jobs are retried.
var validMigrationTransitions = map[MigrationStatus][]MigrationStatus{
	MigrationStatusPending:    {MigrationStatusRunning, MigrationStatusPaused},
	MigrationStatusRunning:    {MigrationStatusFinalizing, MigrationStatusPaused, MigrationStatusFailed, MigrationStatusSucceeded},
	MigrationStatusFinalizing: {MigrationStatusPaused, MigrationStatusFailed, MigrationStatusSucceeded},
	MigrationStatusPaused:     {MigrationStatusRunning},
	MigrationStatusFailed:     {MigrationStatusRunning},
	MigrationStatusSucceeded:  {},
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Staying in the same status is always allowed.
func (s MigrationStatus) CanTransitionTo(next MigrationStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range validMigrationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SourcesFor returns every status that may transition into target.
// Repositories use it to build the WHERE status IN (...) clause of conditional updates.
func SourcesFor(target MigrationStatus) []MigrationStatus {
	var out []MigrationStatus
	for _, from := range AllMigrationStatuses() {
		if from == target {
			continue
		}
		if from.CanTransitionTo(target) {
			out = append(out, from)
		}
	}
	return out
}

// AllMigrationStatuses returns the statuses in lifecycle order.
func AllMigrationStatuses() []MigrationStatus {
	return []MigrationStatus{
		MigrationStatusPending,
		MigrationStatusPaused,
		MigrationStatusRunning,
		MigrationStatusFinalizing,
		MigrationStatusFailed,
		MigrationStatusSucceeded,
	}
}

// ParseMigrationStatus validates a status string.
func ParseMigrationStatus(s string) (MigrationStatus, error) {
	st := MigrationStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown migration status '%s'", s)
	}
	return st, nil
}

// JobStatus is the lifecycle state of a single batch job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusFailed    JobStatus = "failed"
	JobStatusSucceeded JobStatus = "succeeded"
)

// String returns the persisted form of the status.
func (s JobStatus) String() string {
	return string(s)
}

// IsFinished reports whether the job reached a terminal status.
func (s JobStatus) IsFinished() bool {
	return s == JobStatusFailed || s == JobStatusSucceeded
}

// ParseJobStatus validates a job status string.
func ParseJobStatus(s string) (JobStatus, error) {
	switch st := JobStatus(s); st {
	case JobStatusPending, JobStatusFailed, JobStatusSucceeded:
		return st, nil
	default:
		return "", fmt.Errorf("unknown job status '%s'", s)
	}
}
