// Package testutil provides testing utilities and helpers for the postpilot scheduler.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/postpilot/postpilot-go/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a new JobRequestBuilder with sensible defaults.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			AccountID:     "acct-test",
			Content:       "scheduled post from testutil",
			ScheduledTime: TestTime().Add(time.Hour).Format(time.RFC3339),
			Platform:      string(model.PlatformThreads),
		},
	}
}

// WithAccount sets the account ID.
func (b *JobRequestBuilder) WithAccount(accountID string) *JobRequestBuilder {
	b.req.AccountID = accountID
	return b
}

// WithContent sets the post content.
func (b *JobRequestBuilder) WithContent(content string) *JobRequestBuilder {
	b.req.Content = content
	return b
}

// WithScheduledTime sets the scheduled time as RFC3339.
func (b *JobRequestBuilder) WithScheduledTime(at time.Time) *JobRequestBuilder {
	b.req.ScheduledTime = at.Format(time.RFC3339)
	return b
}

// WithScheduledTimeString sets the raw scheduled time string, useful for
// exercising the naive-datetime parsing rules.
func (b *JobRequestBuilder) WithScheduledTimeString(at string) *JobRequestBuilder {
	b.req.ScheduledTime = at
	return b
}

// WithPriority sets the job priority.
func (b *JobRequestBuilder) WithPriority(priority model.Priority) *JobRequestBuilder {
	b.req.Priority = IntPtr(int(priority))
	return b
}

// WithPlatform sets the target platform.
func (b *JobRequestBuilder) WithPlatform(platform model.Platform) *JobRequestBuilder {
	b.req.Platform = string(platform)
	return b
}

// WithMaxRetries sets the maximum number of retries.
func (b *JobRequestBuilder) WithMaxRetries(maxRetries int) *JobRequestBuilder {
	b.req.MaxRetries = IntPtr(maxRetries)
	return b
}

// WithLinkAff sets the affiliate link appended to the posted content.
func (b *JobRequestBuilder) WithLinkAff(link string) *JobRequestBuilder {
	b.req.LinkAff = StringPtr(link)
	return b
}

// Build returns the constructed CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// JobBuilder provides a fluent interface for building model.Job values for
// cache, store and executor tests where a fully formed job is needed.
type JobBuilder struct {
	job model.Job
}

// NewJob creates a new JobBuilder with sensible defaults: a scheduled
// threads job one hour past TestTime.
func NewJob() *JobBuilder {
	return &JobBuilder{
		job: model.Job{
			ID:            uuid.NewString(),
			AccountID:     "acct-test",
			Content:       "scheduled post from testutil",
			ScheduledTime: TestTime().Add(time.Hour),
			Priority:      model.PriorityNormal,
			Status:        model.JobStatusScheduled,
			Platform:      model.PlatformThreads,
			MaxRetries:    3,
			CreatedAt:     TestTime(),
		},
	}
}

// WithID sets the job ID.
func (b *JobBuilder) WithID(id string) *JobBuilder {
	b.job.ID = id
	return b
}

// WithAccount sets the account ID.
func (b *JobBuilder) WithAccount(accountID string) *JobBuilder {
	b.job.AccountID = accountID
	return b
}

// WithContent sets the post content.
func (b *JobBuilder) WithContent(content string) *JobBuilder {
	b.job.Content = content
	return b
}

// WithScheduledTime sets the scheduled time.
func (b *JobBuilder) WithScheduledTime(at time.Time) *JobBuilder {
	b.job.ScheduledTime = at
	return b
}

// WithPriority sets the job priority.
func (b *JobBuilder) WithPriority(priority model.Priority) *JobBuilder {
	b.job.Priority = priority
	return b
}

// WithStatus sets the lifecycle status.
func (b *JobBuilder) WithStatus(status model.JobStatus) *JobBuilder {
	b.job.Status = status
	return b
}

// WithPlatform sets the target platform.
func (b *JobBuilder) WithPlatform(platform model.Platform) *JobBuilder {
	b.job.Platform = platform
	return b
}

// WithRetries sets the retry counters.
func (b *JobBuilder) WithRetries(count, maxRetries int) *JobBuilder {
	b.job.RetryCount = count
	b.job.MaxRetries = maxRetries
	return b
}

// WithStartedAt marks when the current attempt began.
func (b *JobBuilder) WithStartedAt(at time.Time) *JobBuilder {
	b.job.StartedAt = TimePtr(at)
	return b
}

// WithCreatedAt sets the creation time.
func (b *JobBuilder) WithCreatedAt(at time.Time) *JobBuilder {
	b.job.CreatedAt = at
	return b
}

// WithLinkAff sets the affiliate link.
func (b *JobBuilder) WithLinkAff(link string) *JobBuilder {
	b.job.LinkAff = StringPtr(link)
	return b
}

// WithLastError sets the last error message.
func (b *JobBuilder) WithLastError(msg string) *JobBuilder {
	b.job.LastError = StringPtr(msg)
	return b
}

// Build returns a copy of the constructed job.
func (b *JobBuilder) Build() *model.Job {
	return b.job.Clone()
}
