package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/postpilot/postpilot-go/internal/core"
	"github.com/postpilot/postpilot-go/internal/data"
	domainjob "github.com/postpilot/postpilot-go/internal/domain/job"
	"github.com/postpilot/postpilot-go/internal/domain/model"
	obserrors "github.com/postpilot/postpilot-go/internal/observability/errors"
	"github.com/postpilot/postpilot-go/internal/observability/metrics"
	"github.com/postpilot/postpilot-go/internal/observability/statsd"
	"github.com/postpilot/postpilot-go/internal/util"
)

// finalSaveTimeout bounds the snapshot save performed on loop exit, after
// the run context is already cancelled.
const finalSaveTimeout = 5 * time.Second

// ExecutorServiceOptions groups dependencies for ExecutorService.
type ExecutorServiceOptions struct {
	Cache        *JobCache           // Required: shared job table
	Sync         *StoreSync          // Required: save/reload coupling to storage
	Manager      *JobManager         // Required: ready selection and expiry sweep
	Recovery     *RecoveryService    // Required: stuck-job requeue
	Posters      core.PosterFactory  // Required: platform posting callbacks
	Lease        *core.ExecutorLease // Optional: distributed dispatch lease; nil always grants
	Publisher    core.EventPublisher // Optional: lifecycle event fan-out
	TimeProvider data.TimeProvider   // Optional: defaults to the real clock
	Logger       *slog.Logger        // Optional: structured logger
	Metrics      statsd.Sink         // Optional: metrics sink (StatsD-compatible)
	Config       core.ExecutorConfig // Optional: loop parameters; zero CheckInterval selects defaults
}

// ExecutorService runs the scheduling loop: reload from storage when due,
// expire overdue jobs, requeue stuck ones, and dispatch at most one ready
// job per tick.
//
// All cache mutations during a run originate here; Add and Remove reach the
// cache through the manager, serialised against saves by the StoreSync.
type ExecutorService struct {
	cache        *JobCache
	sync         *StoreSync
	manager      *JobManager
	recovery     *RecoveryService
	posters      core.PosterFactory
	lease        *core.ExecutorLease
	publisher    core.EventPublisher
	timeProvider data.TimeProvider
	logger       *slog.Logger
	metrics      statsd.Sink
	config       core.ExecutorConfig
}

var _ core.JobExecutor = (*ExecutorService)(nil)

// NewExecutorService constructs a new ExecutorService.
func NewExecutorService(opts ExecutorServiceOptions) (*ExecutorService, error) {
	if opts.Cache == nil {
		return nil, errors.New("JobCache is required")
	}
	if opts.Sync == nil {
		return nil, errors.New("StoreSync is required")
	}
	if opts.Manager == nil {
		return nil, errors.New("JobManager is required")
	}
	if opts.Recovery == nil {
		return nil, errors.New("RecoveryService is required")
	}
	if opts.Posters == nil {
		return nil, errors.New("PosterFactory is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Config.CheckInterval <= 0 {
		opts.Config = core.DefaultExecutorConfig()
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "executor_service")
		logger.Debug("ExecutorService initialized",
			"check_interval", opts.Config.CheckInterval,
			"reload_interval", opts.Config.ReloadInterval,
			"max_running_age", opts.Config.MaxRunningAge,
			"post_processing_delay", opts.Config.PostProcessingDelay,
		)
	}

	return &ExecutorService{
		cache:        opts.Cache,
		sync:         opts.Sync,
		manager:      opts.Manager,
		recovery:     opts.Recovery,
		posters:      opts.Posters,
		lease:        opts.Lease,
		publisher:    opts.Publisher,
		timeProvider: opts.TimeProvider,
		logger:       logger,
		metrics:      opts.Metrics,
		config:       opts.Config,
	}, nil
}

// Run starts the executor loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
// The final action is always a snapshot save so in-flight state survives
// a restart.
func (s *ExecutorService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting executor service", "check_interval", s.config.CheckInterval)
	}

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	// Run one cycle immediately after jitter
	s.tickAndReport(ctx)

	err := s.runLoop(ctx, ticker)
	s.finalSave()
	return err
}

// waitWithJitter adds a random delay up to 10% of the interval to prevent thundering herd.
func (s *ExecutorService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.CheckInterval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	// Use modulo on uint64 before converting to avoid overflow
	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		// Graceful shutdown during jitter
	}
}

// runLoop runs executor cycles until the context is cancelled. After a
// cycle that dispatched a job, the post-processing delay runs before the
// loop waits on the ticker again.
func (s *ExecutorService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "executor service stopping", "reason", ctx.Err())
			}
			// Return nil on graceful shutdown to avoid treating it as a failure
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			dispatched := s.tickAndReport(ctx)
			if dispatched > 0 {
				s.sleepInterruptible(ctx, s.config.PostProcessingDelay)
			}
		}
	}
}

// tickAndReport runs one Tick, logs failures, and emits the tick metric.
// Errors never stop the loop; only context cancellation does.
func (s *ExecutorService) tickAndReport(ctx context.Context) int {
	start := time.Now()
	dispatched, err := s.Tick(ctx, s.timeProvider.Now())
	s.emitTickMetrics(dispatched, err, time.Since(start))
	s.logTickError(ctx, err)
	return dispatched
}

// Tick runs one executor cycle at the given time and returns the number
// of jobs dispatched (0 or 1). Maintenance runs regardless of the lease;
// only dispatch requires holding it.
func (s *ExecutorService) Tick(ctx context.Context, now time.Time) (int, error) {
	var errs []error

	if _, err := s.sync.Reload(ctx, ReloadParams{
		Now:         now,
		QuietPeriod: s.config.ReloadCheckDelay,
		Interval:    s.config.ReloadInterval,
	}); err != nil {
		errs = append(errs, fmt.Errorf("reload jobs: %w", err))
	}

	if expired, err := s.manager.CleanupExpired(ctx, now); err != nil {
		errs = append(errs, fmt.Errorf("expire overdue jobs: %w", err))
	} else {
		metrics.EmitJobExpirations(s.metrics, expired)
	}

	if _, err := s.recovery.RecoverStuck(ctx, now, s.config.MaxRunningAge); err != nil {
		errs = append(errs, fmt.Errorf("recover stuck jobs: %w", err))
	}

	held, err := s.lease.Acquire(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("acquire dispatch lease: %w", err))
		return 0, errors.Join(errs...)
	}
	if !held {
		// Another replica holds the dispatch lease; maintenance already ran.
		if s.logger != nil {
			s.logger.DebugContext(ctx, "dispatch lease held elsewhere, skipping dispatch")
		}
		return 0, errors.Join(errs...)
	}

	ready := s.manager.ReadyJobs(now, s.config.OverdueThreshold)
	if len(ready) == 0 {
		return 0, errors.Join(errs...)
	}

	if err := s.dispatch(ctx, ready[0], now); err != nil {
		errs = append(errs, err)
		return 0, errors.Join(errs...)
	}
	return 1, errors.Join(errs...)
}

// dispatch moves one ready job through running to its outcome. The running
// transition becomes durable before the poster is invoked, so a crash
// mid-post leaves a running row for recovery instead of a double post.
func (s *ExecutorService) dispatch(ctx context.Context, job *model.Job, now time.Time) error {
	if err := model.ValidateTransition(job.Status, model.JobStatusRunning); err != nil {
		return fmt.Errorf("dispatch job %s: %w", job.ID, err)
	}

	previousStatus := job.Status
	startedAt := now
	job.Status = model.JobStatusRunning
	job.StartedAt = &startedAt
	setStatusMessage(job, "posting to "+string(job.Platform))
	s.cache.Put(job)

	if err := s.sync.Save(ctx, now); err != nil {
		// The attempt never became durable; roll the cache back so a later
		// tick retries once storage recovers.
		job.Status = previousStatus
		job.StartedAt = nil
		s.cache.Put(job)
		return fmt.Errorf("persist dispatch of job %s: %w", job.ID, err)
	}

	s.publish(model.JobEvent(model.EventJobUpdated, job, now))
	if s.logger != nil {
		s.logger.InfoContext(ctx, "dispatching job",
			"job_id", job.ID,
			"account_id", job.AccountID,
			"platform", job.Platform,
			"priority", job.Priority.String(),
			"retry_count", job.RetryCount,
		)
	}

	start := time.Now()
	result, err := s.post(ctx, job)
	if err != nil {
		// Reserved for context cancellation and programming errors: leave
		// the job running so the start-up sweep requeues it.
		return fmt.Errorf("post job %s: %w", job.ID, err)
	}

	return s.applyOutcome(ctx, job, result, time.Since(start))
}

// post resolves the platform poster and invokes it. Panics and factory
// failures fold into a failed PostResult; the error return carries only
// what the poster contract reserves for it.
func (s *ExecutorService) post(ctx context.Context, job *model.Job) (result model.PostResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("poster panic: %v", r)
			result = model.PostResult{Error: &msg}
			err = nil
			if s.logger != nil {
				s.logger.ErrorContext(ctx, "poster panicked", "job_id", job.ID, "panic", r)
			}
		}
	}()

	poster, ferr := s.posters.PosterFor(job.Platform)
	if ferr != nil {
		// A missing poster is a configuration problem; retrying cannot fix it.
		msg := ferr.Error()
		return model.PostResult{Error: &msg, Permanent: true}, nil
	}

	return poster.Post(ctx, job.AccountID, job.EffectiveContent())
}

// applyOutcome finishes one dispatched job: completed on success, retry
// with backoff on failure while budget remains, failed once the budget
// is exhausted or the result is marked permanent.
func (s *ExecutorService) applyOutcome(ctx context.Context, job *model.Job, result model.PostResult, elapsed time.Duration) error {
	now := s.timeProvider.Now()

	if !result.Failed() {
		completedAt := now
		job.Status = model.JobStatusCompleted
		job.CompletedAt = &completedAt
		job.LastError = nil
		if result.ThreadID != nil {
			threadID := *result.ThreadID
			job.ThreadID = &threadID
		}
		setStatusMessage(job, "posted successfully at "+util.FormatVN(now))
		s.cache.Put(job)

		if err := s.sync.Save(ctx, now); err != nil {
			return fmt.Errorf("persist completion of job %s: %w", job.ID, err)
		}

		s.publish(model.JobEvent(model.EventJobCompleted, job, now))
		if s.logger != nil {
			s.logger.InfoContext(ctx, "job completed",
				"job_id", job.ID,
				"platform", job.Platform,
				"thread_id", job.ThreadID,
				"elapsed", elapsed,
			)
		}
		s.emitJobMetric(job, metrics.TransitionCompleted, metrics.ResultSuccess, elapsed, nil)
		return nil
	}

	postErr := resultErrorMessage(result)
	job.LastError = &postErr

	if !result.Permanent {
		decision := domainjob.DecideRetry(now, job.RetryCount, job.MaxRetries)
		if decision.Retry() {
			job.Status = model.JobStatusScheduled
			job.RetryCount = decision.RetryCount
			job.ScheduledTime = decision.RunAt
			job.StartedAt = nil
			setStatusMessage(job, fmt.Sprintf("attempt %d failed (%s), retrying at %s",
				job.RetryCount, postErr, util.FormatVN(decision.RunAt)))
			s.cache.Put(job)

			if err := s.sync.Save(ctx, now); err != nil {
				return fmt.Errorf("persist retry of job %s: %w", job.ID, err)
			}

			s.publish(model.JobEvent(model.EventJobUpdated, job, now))
			if s.logger != nil {
				s.logger.WarnContext(ctx, "job failed, retrying",
					"job_id", job.ID,
					"platform", job.Platform,
					"error", postErr,
					"retry_count", job.RetryCount,
					"run_at", decision.RunAt,
				)
			}
			s.emitJobMetric(job, metrics.TransitionRetried, metrics.ResultError, elapsed, errors.New(postErr))
			return nil
		}
	}

	job.Status = model.JobStatusFailed
	setStatusMessage(job, "failed permanently: "+postErr)
	s.cache.Put(job)

	if err := s.sync.Save(ctx, now); err != nil {
		return fmt.Errorf("persist failure of job %s: %w", job.ID, err)
	}

	s.publish(model.JobEvent(model.EventJobUpdated, job, now))
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "job failed permanently",
			"job_id", job.ID,
			"platform", job.Platform,
			"error", postErr,
			"retry_count", job.RetryCount,
			"max_retries", job.MaxRetries,
		)
	}
	s.emitJobMetric(job, metrics.TransitionFailed, metrics.ResultError, elapsed, errors.New(postErr))
	return nil
}

// sleepInterruptible waits for d unless the context ends first.
func (s *ExecutorService) sleepInterruptible(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// finalSave persists the snapshot on the way out. The run context is
// already cancelled here, so the save gets its own deadline.
func (s *ExecutorService) finalSave() {
	ctx, cancel := context.WithTimeout(context.Background(), finalSaveTimeout)
	defer cancel()

	if err := s.sync.Save(ctx, s.timeProvider.Now()); err != nil {
		if s.logger != nil {
			s.logger.Error("final snapshot save failed", "error", err)
		}
	}
}

func (s *ExecutorService) publish(event model.Event) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(event)
}

func (s *ExecutorService) emitTickMetrics(dispatched int, err error, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if dispatched == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"result": result,
	}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("executor.tick", 1, tags)
	if elapsed > 0 {
		s.metrics.Timing("executor.tick_duration", elapsed, metrics.CloneTags(tags))
	}
}

func (s *ExecutorService) emitJobMetric(job *model.Job, transition, result string, elapsed time.Duration, err error) {
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Platform:   string(job.Platform),
		Transition: transition,
		Result:     result,
		Duration:   elapsed,
		Err:        err,
	})
}

func (s *ExecutorService) logTickError(ctx context.Context, err error) {
	if err == nil || s.logger == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug("tick cancelled by context", "error", err)
		return
	}

	s.logger.ErrorContext(ctx, "executor tick failed", "error", err)
}

// resultErrorMessage extracts a loggable error string from a failed
// PostResult, folding shadow failures into a fixed description.
func resultErrorMessage(result model.PostResult) string {
	if result.Error != nil && *result.Error != "" {
		return *result.Error
	}
	if result.ShadowFail {
		return "post accepted but never appeared (shadow failure)"
	}
	return "post failed without error detail"
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
