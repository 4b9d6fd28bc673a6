package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/postpilot/postpilot-go/internal/data"
	domainjob "github.com/postpilot/postpilot-go/internal/domain/job"
	"github.com/postpilot/postpilot-go/internal/domain/model"
	"github.com/postpilot/postpilot-go/internal/util"
)

// RecoveryServiceOptions holds the dependencies for creating a RecoveryService.
type RecoveryServiceOptions struct {
	// Required: Cache is the shared in-memory job table.
	Cache *JobCache
	// Required: Sync persists cache snapshots after a sweep.
	Sync *StoreSync
	// Optional: TimeProvider defaults to the real clock.
	TimeProvider data.TimeProvider
	// Optional: Logger defaults to slog.Default().
	Logger *slog.Logger
}

// RecoveryService returns jobs stranded in the running state to the
// schedule. A crash mid-post leaves running rows behind; the start-up
// sweep requeues them all, and the periodic sweep catches jobs whose
// attempt has outlived the running-age limit.
type RecoveryService struct {
	cache        *JobCache
	sync         *StoreSync
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewRecoveryService creates a new RecoveryService with the given dependencies.
func NewRecoveryService(opts RecoveryServiceOptions) (*RecoveryService, error) {
	if opts.Cache == nil {
		return nil, errors.New("JobCache is required")
	}
	if opts.Sync == nil {
		return nil, errors.New("StoreSync is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &RecoveryService{
		cache:        opts.Cache,
		sync:         opts.Sync,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger.With("component", "recovery_service"),
	}, nil
}

// RecoverAllRunning requeues every running job. Called once at facade
// construction, before the executor starts: any job still running at that
// point belonged to a previous process. Returns the number recovered.
func (r *RecoveryService) RecoverAllRunning(ctx context.Context, now time.Time) (int, error) {
	recovered := 0
	for _, job := range r.cache.Snapshot() {
		if job.Status != model.JobStatusRunning {
			continue
		}
		r.recoverJob(ctx, job, now, "stuck at start-up")
		recovered++
	}

	if recovered == 0 {
		return 0, nil
	}
	if err := r.sync.Save(ctx, now); err != nil {
		return recovered, err
	}
	return recovered, nil
}

// RecoverStuck requeues running jobs whose attempt has exceeded
// maxRunningAge. A running job with no started_at is stuck immediately.
// Called every executor tick; returns the number recovered.
func (r *RecoveryService) RecoverStuck(ctx context.Context, now time.Time, maxRunningAge time.Duration) (int, error) {
	recovered := 0
	for _, job := range r.cache.Snapshot() {
		if job.Status != model.JobStatusRunning {
			continue
		}
		if job.StartedAt != nil && now.Sub(*job.StartedAt) <= maxRunningAge {
			continue
		}
		r.recoverJob(ctx, job, now, "stuck in running state")
		recovered++
	}

	if recovered == 0 {
		return 0, nil
	}
	if err := r.sync.Save(ctx, now); err != nil {
		return recovered, err
	}
	return recovered, nil
}

// recoverJob applies the retry budget to one stranded job and writes the
// result back to the cache.
func (r *RecoveryService) recoverJob(ctx context.Context, job *model.Job, now time.Time, cause string) {
	decision := domainjob.DecideRetry(now, job.RetryCount, job.MaxRetries)
	if decision.Retry() {
		job.Status = model.JobStatusScheduled
		job.RetryCount = decision.RetryCount
		job.ScheduledTime = decision.RunAt
		job.StartedAt = nil
		setStatusMessage(job, cause+", rescheduled for "+util.FormatVN(decision.RunAt))

		r.logger.InfoContext(ctx, "recovered running job",
			"job_id", job.ID,
			"cause", cause,
			"retry_count", job.RetryCount,
			"run_at", decision.RunAt,
		)
	} else {
		job.Status = model.JobStatusFailed
		msg := cause + ", retries exhausted"
		job.LastError = &msg
		setStatusMessage(job, msg)

		r.logger.WarnContext(ctx, "running job failed permanently",
			"job_id", job.ID,
			"cause", cause,
			"retry_count", job.RetryCount,
			"max_retries", job.MaxRetries,
		)
	}
	r.cache.Put(job)
}
