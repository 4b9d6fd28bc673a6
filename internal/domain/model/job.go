// Package model defines the core data types and structures used throughout the postpilot scheduler.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a posting job.
type JobStatus string

// Platform identifies the social network a job posts to.
type Platform string

// Priority orders ready jobs; higher values dispatch first.
type Priority int

const (
	// JobStatusScheduled indicates a job is waiting for its scheduled time.
	JobStatusScheduled JobStatus = "scheduled"
	// JobStatusPending is a legacy alias for scheduled still present in
	// stored data; it is treated exactly like scheduled everywhere.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job is currently being posted.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the post was published successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed with no retries left.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the job was cancelled before it ran.
	JobStatusCancelled JobStatus = "cancelled"
	// JobStatusExpired indicates the job sat unprocessed past the expiry window.
	JobStatusExpired JobStatus = "expired"
)

const (
	// PriorityLow is dispatched last.
	PriorityLow Priority = 1
	// PriorityNormal is the default priority.
	PriorityNormal Priority = 2
	// PriorityHigh preempts normal and low jobs.
	PriorityHigh Priority = 3
	// PriorityUrgent preempts everything else.
	PriorityUrgent Priority = 4
)

const (
	// PlatformThreads posts to Threads. Default platform.
	PlatformThreads Platform = "threads"
	// PlatformFacebook posts to a Facebook page feed.
	PlatformFacebook Platform = "facebook"
)

// ExpiryWindow is how long a non-terminal job may sit past its scheduled
// time before the sweep marks it expired.
const ExpiryWindow = 24 * time.Hour

// MaxContentBytes bounds normalised post content length.
const MaxContentBytes = 500

// ErrInvalidTransition is returned when a status change is not allowed by
// the job state machine.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Valid returns true if the JobStatus is one of the known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusScheduled, JobStatusPending, JobStatusRunning,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusExpired:
		return true
	}
	return false
}

// Terminal returns true when no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusExpired:
		return true
	}
	return false
}

// Ready returns true for states eligible for dispatch. pending is kept as
// an alias of scheduled for data written by earlier versions.
func (s JobStatus) Ready() bool {
	return s == JobStatusScheduled || s == JobStatusPending
}

// Active returns true for states counted as active by the scheduler status
// endpoint: waiting or currently running.
func (s JobStatus) Active() bool {
	return s.Ready() || s == JobStatusRunning
}

// ParseJobStatus parses a status name case-insensitively.
func ParseJobStatus(v string) (JobStatus, error) {
	s := JobStatus(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("invalid job status: %q", v)
	}
	return s, nil
}

// Valid returns true if the Platform is one of the known platforms.
func (p Platform) Valid() bool {
	return p == PlatformThreads || p == PlatformFacebook
}

// ParsePlatform parses a platform name case-insensitively. Empty input
// yields the default platform.
func ParsePlatform(v string) (Platform, error) {
	t := strings.ToLower(strings.TrimSpace(v))
	if t == "" {
		return PlatformThreads, nil
	}
	p := Platform(t)
	if !p.Valid() {
		return "", fmt.Errorf("invalid platform: %q", v)
	}
	return p, nil
}

// Valid returns true if the Priority is within the known range.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

// String returns the symbolic name for logging and display.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// validTransitions defines the job state machine. Terminal states map to
// empty sets so any transition out of them is rejected.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusScheduled: {
		JobStatusRunning:   true,
		JobStatusCancelled: true,
		JobStatusExpired:   true,
	},
	JobStatusPending: {
		JobStatusRunning:   true,
		JobStatusCancelled: true,
		JobStatusExpired:   true,
		JobStatusScheduled: true,
	},
	JobStatusRunning: {
		JobStatusCompleted: true,
		JobStatusScheduled: true, // retry with backoff
		JobStatusFailed:    true,
		JobStatusExpired:   true,
	},
	JobStatusCompleted: {},
	JobStatusFailed:    {},
	JobStatusCancelled: {},
	JobStatusExpired:   {},
}

// CanTransition reports whether from → to is allowed by the state machine.
func CanTransition(from, to JobStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// ValidateTransition returns ErrInvalidTransition when from → to is not allowed.
func ValidateTransition(from, to JobStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Job represents a scheduled posting job with all its metadata and status information.
type Job struct {
	ID            string     `json:"id"                       db:"id"`
	AccountID     string     `json:"account_id"               db:"account_id"`
	Content       string     `json:"content"                  db:"content"`
	ScheduledTime time.Time  `json:"scheduled_time"           db:"scheduled_time"`
	Priority      Priority   `json:"priority"                 db:"priority"`
	Status        JobStatus  `json:"status"                   db:"status"`
	Platform      Platform   `json:"platform"                 db:"platform"`
	MaxRetries    int        `json:"max_retries"              db:"max_retries"`
	RetryCount    int        `json:"retry_count"              db:"retry_count"`
	CreatedAt     time.Time  `json:"created_at"               db:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"     db:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"   db:"completed_at"`
	LastError     *string    `json:"last_error,omitempty"     db:"last_error"`
	ThreadID      *string    `json:"thread_id,omitempty"      db:"thread_id"`
	StatusMessage *string    `json:"status_message,omitempty" db:"status_message"`
	LinkAff       *string    `json:"link_aff,omitempty"       db:"link_aff"`
}

// Clone returns a deep copy so cache snapshots cannot alias live entries.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.StartedAt = cloneTimePtr(j.StartedAt)
	cp.CompletedAt = cloneTimePtr(j.CompletedAt)
	cp.LastError = cloneStringPtr(j.LastError)
	cp.ThreadID = cloneStringPtr(j.ThreadID)
	cp.StatusMessage = cloneStringPtr(j.StatusMessage)
	cp.LinkAff = cloneStringPtr(j.LinkAff)
	return &cp
}

// EffectiveContent returns the content actually posted: the job content
// with the affiliate link appended when one is set.
func (j *Job) EffectiveContent() string {
	if j.LinkAff == nil || strings.TrimSpace(*j.LinkAff) == "" {
		return j.Content
	}
	return j.Content + "\n" + strings.TrimSpace(*j.LinkAff)
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
// Used when loading rows written by earlier versions with missing columns.
func (j *Job) ApplyDefaults() {
	if j.Status == "" {
		j.Status = JobStatusScheduled
	}
	if j.Priority == 0 {
		j.Priority = PriorityNormal
	}
	if j.Platform == "" {
		j.Platform = PlatformThreads
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = j.ScheduledTime
	}
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// CreateJobRequest represents a request to schedule a new posting job.
// ScheduledTime stays a string here so naive local datetimes survive
// decoding; parsing rules live with the scheduler time utilities.
type CreateJobRequest struct {
	AccountID     string  `json:"account_id,omitempty"`
	Content       string  `json:"content"`
	ScheduledTime string  `json:"scheduled_time"`
	Priority      *int    `json:"priority,omitempty"`
	Platform      string  `json:"platform,omitempty"`
	MaxRetries    *int    `json:"max_retries,omitempty"`
	LinkAff       *string `json:"link_aff,omitempty"`
}

// JobFilter narrows List results. Zero values match everything; unknown
// status or platform strings match nothing rather than erroring.
type JobFilter struct {
	AccountID     string
	Status        string
	Platform      string
	ScheduledFrom *time.Time
	ScheduledTo   *time.Time
}

// JobStats represents counts of jobs in each lifecycle state.
type JobStats struct {
	Scheduled int `json:"scheduled"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Expired   int `json:"expired"`
}

// SchedulerStatus is the facade status snapshot.
type SchedulerStatus struct {
	Running    bool `json:"running"`
	ActiveJobs int  `json:"active_jobs"`
}

// PostResult is the outcome of a platform posting attempt. ShadowFail
// marks posts the platform accepted but suppressed; it counts as failure.
// A failed attempt retries with backoff while retry budget remains, unless
// Permanent is set (4xx rejections, misconfiguration) which fails the job
// outright.
type PostResult struct {
	OK         bool    `json:"ok"`
	ThreadID   *string `json:"thread_id,omitempty"`
	Error      *string `json:"error,omitempty"`
	ShadowFail bool    `json:"shadow_fail,omitempty"`
	Permanent  bool    `json:"permanent,omitempty"`
}

// Failed reports whether the attempt should be treated as a failure,
// folding shadow failures in.
func (r PostResult) Failed() bool {
	return !r.OK || r.ShadowFail
}
