// Package model defines the domain types of the batched migration engine.
package model

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// MigrationParameters describes the key range a migration covers and how to slice it.
// A nil Max means there is nothing to process.
type MigrationParameters struct {
	Min       int64
	Max       *int64
	BatchSize int64
}

// Definition is the unit of business logic behind a batched migration. It is looked up
// by identity (project and filename) and never persisted.
type Definition interface {
	// Parameters computes the key range and batch size at registration time.
	Parameters(ctx context.Context) (MigrationParameters, error)
	// Execute processes the inclusive range [min, max]. It must be idempotent.
	// The returned data, if any, is stored on the job.
	Execute(ctx context.Context, min, max int64) (JobData, error)
}

// Migration is the persisted record of one registered batched migration.
type Migration struct {
	ID        int64
	Project   string
	Filename  string
	Timestamp string
	BatchSize int64
	MinValue  int64
	// MaxValue is nil when the target had no rows at registration time.
	MaxValue  *int64
	Status    MigrationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	StartedAt *time.Time
}

// Validate checks the record invariants.
func (m *Migration) Validate() error {
	if m.Project == "" {
		return fmt.Errorf("project must not be empty")
	}
	if m.Timestamp == "" {
		return fmt.Errorf("timestamp must not be empty")
	}
	if m.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", m.BatchSize)
	}
	if m.MaxValue != nil && m.MinValue > *m.MaxValue {
		return fmt.Errorf("min_value %d is greater than max_value %d", m.MinValue, *m.MaxValue)
	}
	return nil
}

// TransitionTo moves the in-memory record to next, enforcing the state machine.
func (m *Migration) TransitionTo(next MigrationStatus) error {
	if !m.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, m.Status, next)
	}
	m.Status = next
	return nil
}

// Identity returns a short human readable identity, e.g. "myproject/20230411120000_backfill".
func (m *Migration) Identity() string {
	return fmt.Sprintf("%s/%s", m.Project, m.Filename)
}

// Job is the persisted record of one batch: an inclusive key range and its outcome.
type Job struct {
	ID                 int64
	BatchedMigrationID int64
	MinValue           int64
	MaxValue           int64
	Status             JobStatus
	Attempts           int
	CreatedAt          time.Time
	UpdatedAt          time.Time
	StartedAt          *time.Time
	FinishedAt         *time.Time
	Data               JobData
}

// InFlight reports whether the job has been claimed but not finished.
func (j *Job) InFlight() bool {
	return j.Status == JobStatusPending && j.StartedAt != nil
}

// Range returns the job's key range.
func (j *Job) Range() Range {
	return Range{Min: j.MinValue, Max: j.MaxValue}
}

// Range is an inclusive key range.
type Range struct {
	Min int64
	Max int64
}

// Size returns the number of keys covered by the range.
func (r Range) Size() int64 {
	return r.Max - r.Min + 1
}

// String implements fmt.Stringer.
func (r Range) String() string {
	return fmt.Sprintf("[%d, %d]", r.Min, r.Max)
}

// Progress summarizes how far a migration has advanced through its key range.
type Progress struct {
	// Current is the next key to be planned, clamped to Max.
	Current int64
	Min     int64
	Max     *int64
	// Remaining is Max - Current.
	Remaining int64
	// Done is true once every key has been covered by a job.
	Done bool
}

// Percent returns the planned share of the key range in [0, 100].
func (p Progress) Percent() float64 {
	if p.Max == nil || p.Done {
		return 100
	}
	total := *p.Max - p.Min + 1
	if total <= 0 {
		return 100
	}
	return float64(p.Current-p.Min) / float64(total) * 100
}

var filenameTimestamp = regexp.MustCompile(`^(\d{14})_[A-Za-z0-9_\-.]+$`)

// ParseMigrationFilename extracts the 14-digit timestamp prefix of a migration filename,
// e.g. "20230411120000_backfill_user_names".
func ParseMigrationFilename(filename string) (string, error) {
	m := filenameTimestamp.FindStringSubmatch(filename)
	if m == nil {
		return "", fmt.Errorf("invalid migration filename '%s': expected <14-digit timestamp>_<name>", filename)
	}
	return m[1], nil
}
