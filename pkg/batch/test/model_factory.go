package test

import (
	"context"
	"fmt"
	"sync"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
)

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}

// NewTestMigration creates an unsaved pending migration over [min, max].
func NewTestMigration(project, filename string, min int64, max *int64, batchSize int64) *model.Migration {
	timestamp, err := model.ParseMigrationFilename(filename)
	if err != nil {
		panic(err)
	}
	return &model.Migration{
		Project:   project,
		Filename:  filename,
		Timestamp: timestamp,
		BatchSize: batchSize,
		MinValue:  min,
		MaxValue:  max,
		Status:    model.MigrationStatusPending,
	}
}

// RecordingDefinition is a model.Definition that records every executed range.
// Ranges whose Min is listed in FailAt fail with an error; PanicAt makes Execute panic.
type RecordingDefinition struct {
	Params  model.MigrationParameters
	FailAt  map[int64]bool
	PanicAt map[int64]bool
	// OnExecute, if set, runs before the range is recorded.
	OnExecute func(ctx context.Context, min, max int64)

	mu     sync.Mutex
	ranges []model.Range
}

// Parameters implements model.Definition.
func (d *RecordingDefinition) Parameters(ctx context.Context) (model.MigrationParameters, error) {
	return d.Params, nil
}

// Execute implements model.Definition.
func (d *RecordingDefinition) Execute(ctx context.Context, min, max int64) (model.JobData, error) {
	if d.OnExecute != nil {
		d.OnExecute(ctx, min, max)
	}
	d.mu.Lock()
	d.ranges = append(d.ranges, model.Range{Min: min, Max: max})
	d.mu.Unlock()

	if d.PanicAt[min] {
		panic(fmt.Sprintf("boom at %d", min))
	}
	if d.FailAt[min] {
		return nil, fmt.Errorf("range [%d, %d] failed", min, max)
	}
	return model.JobData{"rows": max - min + 1}, nil
}

// Ranges returns a copy of the executed ranges in execution order.
func (d *RecordingDefinition) Ranges() []model.Range {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.Range, len(d.ranges))
	copy(out, d.ranges)
	return out
}
