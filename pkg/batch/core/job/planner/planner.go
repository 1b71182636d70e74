// Package planner computes the next key range of a batched migration from durable state.
//
// Batch assignment never depends on an in-memory cursor: the next range is a function of
// the migration bounds and the most recently created job, so a restarted runner plans
// exactly the range its predecessor would have.
package planner

import (
	"context"
	"errors"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchmig/pkg/batch/core/domain/repository"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
)

// NextBatchBounds returns the next inclusive range to process, or false when the key
// range is exhausted. lastJob is the most recently created job and may be nil.
func NextBatchBounds(m *model.Migration, lastJob *model.Job) (model.Range, bool) {
	if m.MaxValue == nil {
		return model.Range{}, false
	}
	max := *m.MaxValue

	lower := nextLowerBound(m, lastJob)
	if lower > max {
		return model.Range{}, false
	}

	upper := max
	// lower+batch-1 may overflow near MaxInt64; compare against the remaining width instead.
	if m.BatchSize-1 < max-lower {
		upper = lower + m.BatchSize - 1
	}
	return model.Range{Min: lower, Max: upper}, true
}

func nextLowerBound(m *model.Migration, lastJob *model.Job) int64 {
	if lastJob == nil {
		return m.MinValue
	}
	return lastJob.MaxValue + 1
}

// Progress reports how far planning has advanced through the migration's range.
func Progress(m *model.Migration, lastJob *model.Job) model.Progress {
	p := model.Progress{Min: m.MinValue, Max: m.MaxValue}
	if m.MaxValue == nil {
		p.Current = m.MinValue
		p.Done = true
		return p
	}
	max := *m.MaxValue

	lower := nextLowerBound(m, lastJob)
	p.Current = lower
	if lower >= max {
		p.Current = max
	}
	p.Remaining = max - p.Current
	p.Done = lower > max
	return p
}

// Planner reads the latest job from storage and applies NextBatchBounds.
type Planner struct {
	repo repository.BatchedMigrationJob
}

// NewPlanner creates a Planner over repo.
func NewPlanner(repo repository.BatchedMigrationJob) *Planner {
	return &Planner{repo: repo}
}

// NextBatch returns the next range of m. Calling it twice without creating a job in
// between yields the same range.
func (p *Planner) NextBatch(ctx context.Context, m *model.Migration) (model.Range, bool, error) {
	lastJob, err := p.latestJob(ctx, m)
	if err != nil {
		return model.Range{}, false, err
	}
	r, ok := NextBatchBounds(m, lastJob)
	return r, ok, nil
}

// Progress returns the planning progress of m.
func (p *Planner) Progress(ctx context.Context, m *model.Migration) (model.Progress, error) {
	lastJob, err := p.latestJob(ctx, m)
	if err != nil {
		return model.Progress{}, err
	}
	return Progress(m, lastJob), nil
}

func (p *Planner) latestJob(ctx context.Context, m *model.Migration) (*model.Job, error) {
	lastJob, err := p.repo.FindLatestJob(ctx, m.ID)
	if errors.Is(err, repository.ErrJobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, exception.NewBatchErrorf("planner", "failed to read latest job of migration %s", m.Identity(), err)
	}
	return lastJob, nil
}
