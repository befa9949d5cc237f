package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chronoshq/chronos/internal/domain"
	"github.com/chronoshq/chronos/internal/storage"
)

// Picker claims due jobs on behalf of one worker identity. It is a thin
// layer over the store's atomic claim; all coordination lives there.
type Picker struct {
	store    storage.Store
	workerID string
	logger   *slog.Logger
}

func NewPicker(store storage.Store, workerID string, logger *slog.Logger) *Picker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Picker{store: store, workerID: workerID, logger: logger}
}

// PickOne claims the highest-priority due job, or nil when nothing is due.
func (p *Picker) PickOne(ctx context.Context) (*domain.Job, error) {
	job, err := p.store.ClaimNextDueJob(ctx, p.workerID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// PickMany claims up to limit due jobs.
func (p *Picker) PickMany(ctx context.Context, limit int) ([]*domain.Job, error) {
	var jobs []*domain.Job
	for len(jobs) < limit {
		job, err := p.PickOne(ctx)
		if err != nil {
			return jobs, err
		}
		if job == nil {
			break
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Release returns a claimed job to the pool without running it.
func (p *Picker) Release(ctx context.Context, jobID string) error {
	if err := p.store.ReleaseJob(ctx, jobID, p.workerID); err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}
	return nil
}

// ReleaseAll returns every job this worker holds. Used on drain.
func (p *Picker) ReleaseAll(ctx context.Context) (int64, error) {
	released, err := p.store.ReleaseAllJobs(ctx, p.workerID)
	if err != nil {
		return 0, fmt.Errorf("failed to release jobs: %w", err)
	}
	return released, nil
}

// RecoverStale resets jobs whose holder stopped heartbeating. threshold
// zero means each job's own lock timeout applies.
func (p *Picker) RecoverStale(ctx context.Context, threshold time.Duration) (int64, error) {
	recovered, err := p.store.RecoverStaleJobs(ctx, threshold, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	if recovered > 0 {
		p.logger.WarnContext(ctx, "recovered stale jobs", "count", recovered)
	}
	return recovered, nil
}

// CountDue reports how many jobs are currently claimable.
func (p *Picker) CountDue(ctx context.Context) (int64, error) {
	return p.store.CountDueJobs(ctx, time.Now().UTC())
}
