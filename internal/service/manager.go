package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/postpilot/postpilot-go/internal/core"
	"github.com/postpilot/postpilot-go/internal/data"
	domainjob "github.com/postpilot/postpilot-go/internal/domain/job"
	"github.com/postpilot/postpilot-go/internal/domain/model"
	"github.com/postpilot/postpilot-go/internal/domain/validation"
	apperrors "github.com/postpilot/postpilot-go/internal/errors"
	"github.com/postpilot/postpilot-go/internal/util"
)

// JobManagerOptions holds the dependencies for creating a JobManager.
type JobManagerOptions struct {
	// Required: Cache is the shared in-memory job table.
	Cache *JobCache
	// Required: Sync persists cache snapshots to the configured store.
	Sync *StoreSync
	// Optional: TimeProvider defaults to the real clock.
	TimeProvider data.TimeProvider
	// Optional: Publisher receives job lifecycle events; nil disables fan-out.
	Publisher core.EventPublisher
	// Optional: Logger defaults to slog.Default().
	Logger *slog.Logger
	// Optional: DefaultMaxRetries applies when a request omits max_retries.
	// Values below zero fall back to the package default.
	DefaultMaxRetries int
}

// defaultMaxRetries is the retry budget for jobs that do not set one.
const defaultMaxRetries = 3

// JobManager owns job registration and lifecycle bookkeeping: Add, Remove,
// List, ready selection, and the expiry sweep. Every mutation is
// save-through: the cache changes first, then the snapshot is persisted. A
// failed save surfaces the storage error while the in-memory change stands,
// to be carried by the next successful save. Registrations and removals
// serialize on mu so duplicate detection and the insert it guards cannot
// interleave across callers.
type JobManager struct {
	mu           sync.Mutex
	cache        *JobCache
	sync         *StoreSync
	timeProvider data.TimeProvider
	publisher    core.EventPublisher
	logger       *slog.Logger
	maxRetries   int
}

// NewJobManager creates a new JobManager with the given dependencies.
func NewJobManager(opts JobManagerOptions) (*JobManager, error) {
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
	maxRetries := opts.DefaultMaxRetries
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}

	return &JobManager{
		cache:        opts.Cache,
		sync:         opts.Sync,
		timeProvider: opts.TimeProvider,
		publisher:    opts.Publisher,
		logger:       opts.Logger.With("component", "job_manager"),
		maxRetries:   maxRetries,
	}, nil
}

// Add validates and registers a new posting job. Returns the created job
// and any advisory warnings. Time-window failures come back as
// invalid_schedule_time, other validation failures as validation, and a
// clash with a live job as duplicate_content.
func (m *JobManager) Add(ctx context.Context, req *model.CreateJobRequest) (*model.Job, []string, error) {
	if req == nil {
		return nil, nil, apperrors.Validation("request body is required")
	}

	now := m.timeProvider.Now()

	scheduledTime, err := util.ParseScheduleTime(req.ScheduledTime)
	if err != nil {
		return nil, nil, apperrors.InvalidScheduleTime(err.Error())
	}

	platform, err := model.ParsePlatform(req.Platform)
	if err != nil {
		return nil, nil, apperrors.ValidationField("platform", err.Error())
	}

	candidate := &model.Job{
		AccountID:     req.AccountID,
		Content:       req.Content,
		ScheduledTime: scheduledTime,
		Priority:      model.PriorityNormal,
		Platform:      platform,
		MaxRetries:    m.maxRetries,
		LinkAff:       req.LinkAff,
	}
	if req.Priority != nil {
		candidate.Priority = model.Priority(*req.Priority)
	}
	if req.MaxRetries != nil {
		candidate.MaxRetries = *req.MaxRetries
	}
	candidate.ApplyDefaults()

	// The duplicate check reads the same table the insert mutates; without
	// the lock two identical requests can both pass the check.
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.cache.Snapshot()

	result := validation.ValidateForAdd(candidate, now, snapshot)
	if !result.OK() {
		if result.HasErrorOn("scheduled_time") {
			return nil, nil, apperrors.InvalidScheduleTime(result.ErrorMessages())
		}
		return nil, nil, apperrors.Validation(result.ErrorMessages())
	}

	if dup := domainjob.FindDuplicate(snapshot, candidate); dup != nil {
		return nil, nil, apperrors.DuplicateContentf(
			"an identical post is already scheduled (job %s, status %s)",
			shortID(dup.ID), dup.Status)
	}

	candidate.ID = uuid.NewString()
	candidate.Status = model.JobStatusScheduled
	candidate.CreatedAt = now
	setStatusMessage(candidate, "added to scheduler, will run at "+util.FormatVN(candidate.ScheduledTime))

	m.cache.Put(candidate)
	if err := m.sync.Save(ctx, now); err != nil {
		return nil, nil, err
	}

	warnings := warningMessages(result.Warnings)
	for _, w := range warnings {
		m.logger.WarnContext(ctx, "job accepted with warning",
			"job_id", candidate.ID,
			"account_id", candidate.AccountID,
			"content_digest", util.ContentDigest(candidate.Content),
			"warning", w,
		)
	}

	m.logger.InfoContext(ctx, "job added",
		"job_id", candidate.ID,
		"account_id", candidate.AccountID,
		"platform", candidate.Platform,
		"priority", candidate.Priority.String(),
		"scheduled_time", candidate.ScheduledTime,
	)

	m.publish(model.JobEvent(model.EventJobCreated, candidate, now))

	return candidate.Clone(), warnings, nil
}

// Remove deletes a job by ID and persists the shrunken snapshot.
func (m *JobManager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cache.Get(id); !ok {
		return apperrors.NotFoundf("job %s not found", id)
	}

	m.cache.Delete(id)
	if err := m.sync.Save(ctx, m.timeProvider.Now()); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "job removed", "job_id", id)
	return nil
}

// Get returns a copy of one job by ID.
func (m *JobManager) Get(id string) (*model.Job, error) {
	job, ok := m.cache.Get(id)
	if !ok {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	return job, nil
}

// List returns jobs matching the filter, highest priority first and newest
// schedule first within a priority. Unknown status or platform values in
// the filter match nothing.
func (m *JobManager) List(filter model.JobFilter) []*model.Job {
	jobs := make([]*model.Job, 0, m.cache.Len())
	for _, job := range m.cache.Snapshot() {
		if matchesFilter(job, filter) {
			jobs = append(jobs, job)
		}
	}
	sortJobs(jobs)
	return jobs
}

// ReadyJobs returns due jobs eligible for dispatch, ordered like List.
// A job is due when it is scheduled or pending, its time has passed, and
// it is not more than 24 hours overdue. A positive overdueCap tightens
// that window further.
func (m *JobManager) ReadyJobs(now time.Time, overdueCap time.Duration) []*model.Job {
	var ready []*model.Job
	for _, job := range m.cache.Snapshot() {
		if !job.Status.Ready() {
			continue
		}
		if job.ScheduledTime.After(now) {
			continue
		}
		late := now.Sub(job.ScheduledTime)
		if late > model.ExpiryWindow {
			continue
		}
		if overdueCap > 0 && late > overdueCap {
			continue
		}
		ready = append(ready, job)
	}
	sortJobs(ready)
	return ready
}

// ActiveJobs returns jobs that are waiting or currently running.
func (m *JobManager) ActiveJobs() []*model.Job {
	var active []*model.Job
	for _, job := range m.cache.Snapshot() {
		if job.Status.Active() {
			active = append(active, job)
		}
	}
	sortJobs(active)
	return active
}

// CleanupExpired sweeps non-terminal jobs whose scheduled time is more
// than 24 hours past into the expired state. Returns the number swept.
func (m *JobManager) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	for _, job := range m.cache.Snapshot() {
		if job.Status.Terminal() {
			continue
		}
		if now.Sub(job.ScheduledTime) <= model.ExpiryWindow {
			continue
		}

		job.Status = model.JobStatusExpired
		setStatusMessage(job, fmt.Sprintf(
			"expired: scheduled for %s, more than 24h before cleanup",
			util.FormatVN(job.ScheduledTime)))
		m.cache.Put(job)
		expired++

		m.logger.InfoContext(ctx, "job expired",
			"job_id", job.ID,
			"scheduled_time", job.ScheduledTime,
		)
	}

	if expired == 0 {
		return 0, nil
	}
	if err := m.sync.Save(ctx, now); err != nil {
		return expired, err
	}
	return expired, nil
}

// Stats counts jobs per lifecycle state.
func (m *JobManager) Stats() model.JobStats {
	var stats model.JobStats
	for _, job := range m.cache.Snapshot() {
		switch job.Status {
		case model.JobStatusScheduled, model.JobStatusPending:
			stats.Scheduled++
		case model.JobStatusRunning:
			stats.Running++
		case model.JobStatusCompleted:
			stats.Completed++
		case model.JobStatusFailed:
			stats.Failed++
		case model.JobStatusCancelled:
			stats.Cancelled++
		case model.JobStatusExpired:
			stats.Expired++
		}
	}
	return stats
}

func (m *JobManager) publish(event model.Event) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(event)
}

// matchesFilter applies a JobFilter to one job. Unknown enum strings in
// the filter never match, matching the tolerant-list contract.
func matchesFilter(job *model.Job, filter model.JobFilter) bool {
	if filter.AccountID != "" && job.AccountID != filter.AccountID {
		return false
	}
	if filter.Status != "" {
		status, err := model.ParseJobStatus(filter.Status)
		if err != nil || job.Status != status {
			return false
		}
	}
	if filter.Platform != "" {
		platform, err := model.ParsePlatform(filter.Platform)
		if err != nil || job.Platform != platform {
			return false
		}
	}
	if filter.ScheduledFrom != nil && job.ScheduledTime.Before(*filter.ScheduledFrom) {
		return false
	}
	if filter.ScheduledTo != nil && job.ScheduledTime.After(*filter.ScheduledTo) {
		return false
	}
	return true
}

// sortJobs orders by priority descending, then scheduled time descending,
// then ID for a stable order between equal jobs.
func sortJobs(jobs []*model.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		if !jobs[i].ScheduledTime.Equal(jobs[j].ScheduledTime) {
			return jobs[i].ScheduledTime.After(jobs[j].ScheduledTime)
		}
		return jobs[i].ID < jobs[j].ID
	})
}

func setStatusMessage(job *model.Job, message string) {
	job.StatusMessage = &message
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func warningMessages(issues []validation.Issue) []string {
	if len(issues) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(issues))
	for _, issue := range issues {
		msgs = append(msgs, issue.Field+": "+issue.Message)
	}
	return msgs
}
