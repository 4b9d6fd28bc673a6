package workflowtest

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postpilot/postpilot-go/internal/domain/model"
	"github.com/postpilot/postpilot-go/internal/testutil"
)

const waitTimeout = 5 * time.Second

// A job scheduled in the future is dispatched once its time arrives, the
// post publishes, and clients watching the fan-out see the full lifecycle.
func TestWorkflow_HappyPathPostsAtScheduledTime(t *testing.T) {
	h := New(t, Options{})

	job := h.CreateJob(testutil.NewJobRequest().
		WithAccount("acct-launch").
		WithContent("shipping day!").
		WithScheduledTime(testutil.TestTime().Add(30 * time.Minute)).
		Build())
	require.Equal(t, model.JobStatusScheduled, job.Status)
	require.Nil(t, job.ThreadID)

	started := h.StartScheduler()
	assert.True(t, started.Running)

	h.AdvanceClock(31 * time.Minute)

	done := h.WaitForStatus(job.ID, model.JobStatusCompleted, waitTimeout)
	require.NotNil(t, done.ThreadID)
	assert.Equal(t, "thread-1", *done.ThreadID)
	assert.NotNil(t, done.CompletedAt)
	assert.Nil(t, done.LastError)
	assert.Zero(t, done.RetryCount)

	events := h.WaitForJobEvents(job.ID, 3, waitTimeout)
	require.Equal(t, []string{
		model.EventJobCreated,
		model.EventJobUpdated,
		model.EventJobCompleted,
	}, EventTypes(events))
	assert.Equal(t, model.JobStatusRunning, events[1].Status)
	require.NotNil(t, events[2].ThreadID)
	assert.Equal(t, "thread-1", *events[2].ThreadID)

	calls := h.Poster.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "acct-launch", calls[0].AccountID)
	assert.Equal(t, "shipping day!", calls[0].Content)
}

// A transient platform failure reschedules the job with exponential
// backoff; the next attempt succeeds and keeps the retry count.
func TestWorkflow_TransientFailureRetriesWithBackoff(t *testing.T) {
	h := New(t, Options{})
	h.Poster.Enqueue(TransientFailure("threads: 503 service unavailable"))

	job := h.CreateJob(testutil.NewJobRequest().
		WithAccount("acct-retry").
		WithContent("launch thread").
		WithScheduledTime(testutil.TestTime().Add(30 * time.Minute)).
		Build())

	h.StartScheduler()
	dispatchAt := h.AdvanceClock(30*time.Minute + time.Second)

	retried := h.WaitForJob(job.ID, waitTimeout, func(j *model.Job) bool {
		return j.Status == model.JobStatusScheduled && j.RetryCount == 1
	})
	assert.True(t, retried.ScheduledTime.Equal(dispatchAt.Add(2*time.Minute)),
		"first retry backs off two minutes, got %s", retried.ScheduledTime)
	require.NotNil(t, retried.LastError)
	assert.Contains(t, *retried.LastError, "503")
	assert.Nil(t, retried.StartedAt)
	require.NotNil(t, retried.StatusMessage)
	assert.Contains(t, *retried.StatusMessage, "attempt 1 failed")

	h.AdvanceClock(2*time.Minute + time.Second)

	done := h.WaitForStatus(job.ID, model.JobStatusCompleted, waitTimeout)
	assert.Equal(t, 1, done.RetryCount)
	assert.NotNil(t, done.ThreadID)
	assert.Nil(t, done.LastError)

	calls := h.Poster.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "acct-retry", calls[0].AccountID)
	assert.Equal(t, "acct-retry", calls[1].AccountID)

	events := h.WaitForJobEvents(job.ID, 5, waitTimeout)
	require.Equal(t, []string{
		model.EventJobCreated,
		model.EventJobUpdated,
		model.EventJobUpdated,
		model.EventJobUpdated,
		model.EventJobCompleted,
	}, EventTypes(events))
	assert.Equal(t, model.JobStatusRunning, events[1].Status)
	assert.Equal(t, model.JobStatusScheduled, events[2].Status)
	assert.Equal(t, 1, events[2].RetryCount)
	assert.Equal(t, model.JobStatusRunning, events[3].Status)
}

// Scheduling the same content twice for one account is rejected with a
// conflict that names the job already holding the content.
func TestWorkflow_DuplicateContentRejected(t *testing.T) {
	h := New(t, Options{})
	base := testutil.TestTime()

	first := h.CreateJob(testutil.NewJobRequest().
		WithAccount("acct-social").
		WithContent("Big announcement 🎉").
		WithScheduledTime(base.Add(2 * time.Hour)).
		Build())

	status, errBody := h.CreateJobExpectError(testutil.NewJobRequest().
		WithAccount("acct-social").
		WithContent("Big announcement 🎉   ").
		WithScheduledTime(base.Add(6 * time.Hour)).
		Build())
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "DUPLICATE_CONTENT", errBody.Code)
	assert.Contains(t, errBody.Message, first.ID[:8])
	assert.Contains(t, errBody.Message, "already scheduled")

	jobs, total := h.ListJobs("")
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, first.ID, jobs[0].ID)
}

// A job stuck in running state from a previous process is requeued with a
// spent retry at start-up, before the executor dispatches anything.
func TestWorkflow_StartupRequeuesRunningJobs(t *testing.T) {
	start := testutil.TestTime()
	stuck := testutil.NewJob().
		WithAccount("acct-crash").
		WithContent("interrupted mid-post").
		WithStatus(model.JobStatusRunning).
		WithScheduledTime(start.Add(-2 * time.Hour)).
		WithStartedAt(start.Add(-2 * time.Hour)).
		WithRetries(0, 3).
		Build()

	h := New(t, Options{StartAt: start, SeedJobs: []*model.Job{stuck}})
	h.StartScheduler()

	requeued := h.GetJob(stuck.ID)
	assert.Equal(t, model.JobStatusScheduled, requeued.Status)
	assert.Equal(t, 1, requeued.RetryCount)
	assert.True(t, requeued.ScheduledTime.Equal(start.Add(2*time.Minute)),
		"requeue backs off two minutes, got %s", requeued.ScheduledTime)
	assert.Nil(t, requeued.StartedAt)
	require.NotNil(t, requeued.StatusMessage)
	assert.Contains(t, *requeued.StatusMessage, "stuck at start-up")

	h.AdvanceClock(2*time.Minute + time.Second)

	done := h.WaitForStatus(stuck.ID, model.JobStatusCompleted, waitTimeout)
	assert.Equal(t, 1, done.RetryCount)
	assert.NotNil(t, done.ThreadID)
}

// A job more than a day past its scheduled time expires instead of
// posting stale content.
func TestWorkflow_OverdueJobExpires(t *testing.T) {
	h := New(t, Options{})

	job := h.CreateJob(testutil.NewJobRequest().
		WithAccount("acct-expire").
		WithContent("yesterday's news").
		WithScheduledTime(testutil.TestTime().Add(time.Hour)).
		Build())

	h.StartScheduler()
	h.AdvanceClock(26 * time.Hour)

	expired := h.WaitForStatus(job.ID, model.JobStatusExpired, waitTimeout)
	require.NotNil(t, expired.StatusMessage)
	assert.Contains(t, *expired.StatusMessage, "more than 24h")
	assert.Nil(t, expired.ThreadID)
	assert.Empty(t, h.Poster.Calls(), "expired jobs never reach the poster")

	state := h.SchedulerStatus()
	assert.True(t, state.Running)
	assert.True(t, state.Healthy)
	assert.Equal(t, 1, state.Stats.Expired)
	assert.Zero(t, state.ActiveJobs)
}

// Deleting a job directly in storage is picked up by a forced reload:
// storage stays authoritative for jobs this process is not running.
func TestWorkflow_StorageDeletionPropagatesOnReload(t *testing.T) {
	h := New(t, Options{})

	job := h.CreateJob(testutil.NewJobRequest().
		WithAccount("acct-external").
		WithContent("removed behind our back").
		WithScheduledTime(testutil.TestTime().Add(time.Hour)).
		Build())

	h.StartScheduler()
	h.DeleteFromStore(job.ID)

	// The cache has not noticed yet.
	still := h.GetJob(job.ID)
	assert.Equal(t, job.ID, still.ID)

	h.ForceReload()

	_, status := h.TryGetJob(job.ID)
	assert.Equal(t, http.StatusNotFound, status)

	jobs, total := h.ListJobs("")
	assert.Zero(t, total)
	assert.Empty(t, jobs)
}

// A post the platform accepted but never surfaced counts as a failure,
// spends a retry, and a later attempt lands normally.
func TestWorkflow_ShadowFailureRetriesThenLands(t *testing.T) {
	h := New(t, Options{})
	h.Poster.Enqueue(ShadowFailure())

	job := h.CreateJob(testutil.NewJobRequest().
		WithAccount("acct-shadow").
		WithContent("ghost post").
		WithScheduledTime(testutil.TestTime().Add(10 * time.Minute)).
		Build())

	h.StartScheduler()
	dispatchAt := h.AdvanceClock(10*time.Minute + time.Second)

	retried := h.WaitForJob(job.ID, waitTimeout, func(j *model.Job) bool {
		return j.Status == model.JobStatusScheduled && j.RetryCount == 1
	})
	require.NotNil(t, retried.LastError)
	assert.Contains(t, *retried.LastError, "shadow failure")
	assert.True(t, retried.ScheduledTime.Equal(dispatchAt.Add(2*time.Minute)),
		"shadowed attempt backs off like any other failure, got %s", retried.ScheduledTime)
	assert.Nil(t, retried.ThreadID)

	h.AdvanceClock(2*time.Minute + time.Second)

	done := h.WaitForStatus(job.ID, model.JobStatusCompleted, waitTimeout)
	assert.Equal(t, 1, done.RetryCount)
	assert.NotNil(t, done.ThreadID)

	require.Len(t, h.Poster.Calls(), 2)
}

// With several jobs due at once, higher priority dispatches first.
func TestWorkflow_UrgentJobDispatchesFirst(t *testing.T) {
	h := New(t, Options{})
	base := testutil.TestTime()

	low := h.CreateJob(testutil.NewJobRequest().
		WithAccount("acct-prio").
		WithContent("low key update").
		WithScheduledTime(base.Add(10 * time.Minute)).
		WithPriority(model.PriorityLow).
		Build())
	urgent := h.CreateJob(testutil.NewJobRequest().
		WithAccount("acct-prio").
		WithContent("drop everything").
		WithScheduledTime(base.Add(20 * time.Minute)).
		WithPriority(model.PriorityUrgent).
		Build())

	h.StartScheduler()
	h.AdvanceClock(21 * time.Minute)

	h.WaitForStatus(urgent.ID, model.JobStatusCompleted, waitTimeout)
	h.WaitForStatus(low.ID, model.JobStatusCompleted, waitTimeout)

	calls := h.Poster.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "drop everything", calls[0].Content)
	assert.Equal(t, "low key update", calls[1].Content)
}
