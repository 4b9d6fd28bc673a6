// Package service provides the scheduling services for the postpilot job system.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/postpilot/postpilot-go/internal/core"
	"github.com/postpilot/postpilot-go/internal/data"
	"github.com/postpilot/postpilot-go/internal/domain/model"
	"github.com/postpilot/postpilot-go/internal/observability/statsd"
)

// statusCacheKey is where the facade publishes its status snapshot for
// other replicas and dashboards to read.
const statusCacheKey = "postpilot:scheduler:status"

// defaultStatusTTL bounds how long a stale status snapshot survives in the
// shared cache after a crash.
const defaultStatusTTL = 30 * time.Second

// SchedulerServiceOptions holds the dependencies for creating a SchedulerService.
type SchedulerServiceOptions struct {
	Store        core.JobStore            // Required: durable job storage
	CacheRepo    core.CacheRepository     // Optional: dispatch lease + status snapshots
	Publisher    core.EventPublisher      // Optional: lifecycle event fan-out
	TimeProvider data.TimeProvider        // Optional: defaults to the real clock
	Logger       *slog.Logger             // Optional: structured logger
	Metrics      statsd.Sink              // Optional: metrics sink (StatsD-compatible)
	Config       core.ExecutorConfig      // Optional: zero CheckInterval selects defaults
	LeaseConfig  core.ExecutorLeaseConfig // Optional: dispatch lease key and TTL
	StatusTTL    time.Duration            // Optional: TTL for the cached status snapshot
}

// SchedulerService is the composition root for the scheduler: it owns the
// single JobCache and wires the manager, recovery, and executor around it.
// External callers - handlers, CLIs, seeds - talk to this facade only.
type SchedulerService struct {
	cache        *JobCache
	sync         *StoreSync
	manager      *JobManager
	recovery     *RecoveryService
	store        core.JobStore
	cacheRepo    core.CacheRepository
	publisher    core.EventPublisher
	timeProvider data.TimeProvider
	logger       *slog.Logger
	metrics      statsd.Sink
	config       core.ExecutorConfig
	leaseConfig  core.ExecutorLeaseConfig
	statusTTL    time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSchedulerService creates a new SchedulerService with the given dependencies.
func NewSchedulerService(opts SchedulerServiceOptions) (*SchedulerService, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Config.CheckInterval <= 0 {
		opts.Config = core.DefaultExecutorConfig()
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = defaultStatusTTL
	}

	logger := opts.Logger.With("component", "scheduler_service")

	cache := NewJobCache()
	storeSync, err := NewStoreSync(opts.Store, cache, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("create store sync: %w", err)
	}

	manager, err := NewJobManager(JobManagerOptions{
		Cache:             cache,
		Sync:              storeSync,
		TimeProvider:      opts.TimeProvider,
		Publisher:         opts.Publisher,
		Logger:            opts.Logger,
		DefaultMaxRetries: opts.Config.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("create job manager: %w", err)
	}

	recovery, err := NewRecoveryService(RecoveryServiceOptions{
		Cache:        cache,
		Sync:         storeSync,
		TimeProvider: opts.TimeProvider,
		Logger:       opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create recovery service: %w", err)
	}

	return &SchedulerService{
		cache:        cache,
		sync:         storeSync,
		manager:      manager,
		recovery:     recovery,
		store:        opts.Store,
		cacheRepo:    opts.CacheRepo,
		publisher:    opts.Publisher,
		timeProvider: opts.TimeProvider,
		logger:       logger,
		metrics:      opts.Metrics,
		config:       opts.Config,
		leaseConfig:  opts.LeaseConfig,
		statusTTL:    opts.StatusTTL,
	}, nil
}

// MustNewSchedulerService constructs a new SchedulerService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewSchedulerService(opts SchedulerServiceOptions) *SchedulerService {
	svc, err := NewSchedulerService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create SchedulerService: %v", err))
	}
	return svc
}

// Start loads persisted jobs, requeues any left running by a previous
// process, and launches the executor loop with posters from the factory.
// Idempotent: starting a running scheduler is a no-op. The loop outlives
// the caller's context and stops only through Stop.
func (s *SchedulerService) Start(ctx context.Context, posters core.PosterFactory) error {
	if posters == nil {
		return errors.New("PosterFactory is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.DebugContext(ctx, "scheduler already running, start ignored")
		return nil
	}

	now := s.timeProvider.Now()

	// Storage is authoritative at start; a forced reload also drops any
	// memory-only leftovers from a previous run of this facade.
	if _, err := s.sync.Reload(ctx, ReloadParams{
		Now:         now,
		Forced:      true,
		QuietPeriod: s.config.ReloadCheckDelay,
		Interval:    s.config.ReloadInterval,
	}); err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}

	recovered, err := s.recovery.RecoverAllRunning(ctx, now)
	if err != nil {
		return fmt.Errorf("recover running jobs: %w", err)
	}
	if recovered > 0 {
		s.logger.InfoContext(ctx, "requeued jobs from previous run", "count", recovered)
	}

	executor, err := NewExecutorService(ExecutorServiceOptions{
		Cache:        s.cache,
		Sync:         s.sync,
		Manager:      s.manager,
		Recovery:     s.recovery,
		Posters:      posters,
		Lease:        s.newLease(),
		Publisher:    s.publisher,
		TimeProvider: s.timeProvider,
		Logger:       s.logger,
		Metrics:      s.metrics,
		Config:       s.config,
	})
	if err != nil {
		return fmt.Errorf("create executor: %w", err)
	}

	// The loop's lifetime is governed by Stop, not by whichever request
	// context happened to call Start.
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := executor.Run(runCtx); err != nil {
			s.logger.Error("executor loop exited with error", "error", err)
		}
	}()

	s.cancel = cancel
	s.done = done
	s.running = true

	s.logger.InfoContext(ctx, "scheduler started", "jobs_cached", s.cache.Len())
	s.announceStatus(ctx, now)
	return nil
}

// Stop cancels the executor loop and awaits its final save. Idempotent:
// stopping a stopped scheduler is a no-op.
func (s *SchedulerService) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.logger.DebugContext(ctx, "scheduler not running, stop ignored")
		return nil
	}

	s.cancel()
	<-s.done

	s.cancel = nil
	s.done = nil
	s.running = false

	s.logger.InfoContext(ctx, "scheduler stopped")
	s.announceStatus(ctx, s.timeProvider.Now())
	return nil
}

// Status reports whether the loop is running and how many jobs are
// waiting or in flight.
func (s *SchedulerService) Status() model.SchedulerStatus {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return model.SchedulerStatus{
		Running:    running,
		ActiveJobs: len(s.manager.ActiveJobs()),
	}
}

// AddJob registers a new posting job. Returns the created job and any
// advisory validation warnings.
func (s *SchedulerService) AddJob(ctx context.Context, req *model.CreateJobRequest) (*model.Job, []string, error) {
	return s.manager.Add(ctx, req)
}

// RemoveJob deletes a job by ID.
func (s *SchedulerService) RemoveJob(ctx context.Context, id string) error {
	return s.manager.Remove(ctx, id)
}

// GetJob returns one job by ID.
func (s *SchedulerService) GetJob(id string) (*model.Job, error) {
	return s.manager.Get(id)
}

// ListJobs returns jobs matching the filter.
func (s *SchedulerService) ListJobs(filter model.JobFilter) []*model.Job {
	return s.manager.List(filter)
}

// GetActiveJobs returns jobs that are waiting or currently running.
func (s *SchedulerService) GetActiveJobs() []*model.Job {
	return s.manager.ActiveJobs()
}

// Stats counts jobs per lifecycle state.
func (s *SchedulerService) Stats() model.JobStats {
	return s.manager.Stats()
}

// CleanupExpired sweeps jobs past the expiry window. Returns the number swept.
func (s *SchedulerService) CleanupExpired(ctx context.Context) (int, error) {
	return s.manager.CleanupExpired(ctx, s.timeProvider.Now())
}

// RecoverStuckJobs requeues running jobs that exceeded the running-age
// limit. Returns the number recovered.
func (s *SchedulerService) RecoverStuckJobs(ctx context.Context) (int, error) {
	return s.recovery.RecoverStuck(ctx, s.timeProvider.Now(), s.config.MaxRunningAge)
}

// ReloadJobs merges persisted state into the cache, subject to the reload
// throttle. force bypasses the reload interval and makes storage
// authoritative for jobs this process is not actively running.
func (s *SchedulerService) ReloadJobs(ctx context.Context, force bool) (bool, error) {
	return s.sync.Reload(ctx, ReloadParams{
		Now:         s.timeProvider.Now(),
		Forced:      force,
		QuietPeriod: s.config.ReloadCheckDelay,
		Interval:    s.config.ReloadInterval,
	})
}

// Healthy probes the storage backend and, when configured, the shared cache.
func (s *SchedulerService) Healthy(ctx context.Context) error {
	var errs []error
	if err := s.store.Healthy(ctx); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	if s.cacheRepo != nil {
		if err := s.cacheRepo.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	return errors.Join(errs...)
}

// newLease builds the dispatch lease over the shared cache. Without a
// cache repository the lease always grants, which is the single-instance
// deployment mode.
func (s *SchedulerService) newLease() *core.ExecutorLease {
	return core.NewExecutorLease(core.ExecutorLeaseOptions{
		Cache:  s.cacheRepo,
		Config: s.leaseConfig,
	})
}

// announceStatus emits a scheduler.status event and mirrors the snapshot
// into the shared cache, best effort. Callers hold s.mu.
func (s *SchedulerService) announceStatus(ctx context.Context, now time.Time) {
	status := model.SchedulerStatus{
		Running:    s.running,
		ActiveJobs: len(s.manager.ActiveJobs()),
	}

	if s.publisher != nil {
		s.publisher.Publish(model.NewEvent(model.EventSchedulerStatus, status, now))
	}

	if s.cacheRepo == nil {
		return
	}
	payload, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := s.cacheRepo.Set(ctx, statusCacheKey, payload, s.statusTTL); err != nil {
		s.logger.DebugContext(ctx, "status snapshot not cached", "error", err)
	}
}

// Process-wide scheduler instance. First construction wins; later calls
// receive the same facade so every caller shares one JobCache.
var (
	defaultSchedulerOnce sync.Once
	defaultScheduler     atomic.Pointer[SchedulerService]
)

// InitDefaultScheduler constructs the process-wide scheduler on first
// call. Subsequent calls return the existing instance and ignore opts.
func InitDefaultScheduler(opts SchedulerServiceOptions) (*SchedulerService, error) {
	var initErr error
	defaultSchedulerOnce.Do(func() {
		svc, err := NewSchedulerService(opts)
		if err != nil {
			initErr = err
			return
		}
		defaultScheduler.Store(svc)
	})

	if svc := defaultScheduler.Load(); svc != nil {
		return svc, nil
	}
	if initErr == nil {
		initErr = errors.New("scheduler initialisation previously failed")
	}
	return nil, initErr
}

// DefaultScheduler returns the process-wide scheduler, or nil before
// InitDefaultScheduler has succeeded.
func DefaultScheduler() *SchedulerService {
	return defaultScheduler.Load()
}
