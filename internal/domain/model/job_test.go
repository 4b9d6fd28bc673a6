package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_Valid(t *testing.T) {
	tests := []struct {
		name     string
		status   JobStatus
		expected bool
	}{
		{name: "scheduled", status: JobStatusScheduled, expected: true},
		{name: "pending alias", status: JobStatusPending, expected: true},
		{name: "running", status: JobStatusRunning, expected: true},
		{name: "completed", status: JobStatusCompleted, expected: true},
		{name: "failed", status: JobStatusFailed, expected: true},
		{name: "cancelled", status: JobStatusCancelled, expected: true},
		{name: "expired", status: JobStatusExpired, expected: true},
		{name: "unknown", status: JobStatus("queued"), expected: false},
		{name: "empty", status: JobStatus(""), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.Valid())
		})
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusExpired}
	for _, status := range terminal {
		assert.True(t, status.Terminal(), "status %s should be terminal", status)
	}

	live := []JobStatus{JobStatusScheduled, JobStatusPending, JobStatusRunning}
	for _, status := range live {
		assert.False(t, status.Terminal(), "status %s should not be terminal", status)
	}
}

func TestJobStatus_Ready(t *testing.T) {
	assert.True(t, JobStatusScheduled.Ready())
	assert.True(t, JobStatusPending.Ready(), "pending is an alias of scheduled")
	assert.False(t, JobStatusRunning.Ready())
	assert.False(t, JobStatusCompleted.Ready())
	assert.False(t, JobStatusExpired.Ready())
}

func TestJobStatus_Active(t *testing.T) {
	assert.True(t, JobStatusScheduled.Active())
	assert.True(t, JobStatusPending.Active())
	assert.True(t, JobStatusRunning.Active())
	assert.False(t, JobStatusCompleted.Active())
	assert.False(t, JobStatusFailed.Active())
	assert.False(t, JobStatusCancelled.Active())
	assert.False(t, JobStatusExpired.Active())
}

func TestParseJobStatus(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected JobStatus
		wantErr  bool
	}{
		{name: "plain", input: "scheduled", expected: JobStatusScheduled},
		{name: "uppercase", input: "RUNNING", expected: JobStatusRunning},
		{name: "mixed case with spaces", input: "  Completed ", expected: JobStatusCompleted},
		{name: "pending survives parsing", input: "pending", expected: JobStatusPending},
		{name: "unknown", input: "enqueued", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJobStatus(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Platform
		wantErr  bool
	}{
		{name: "threads", input: "threads", expected: PlatformThreads},
		{name: "facebook uppercase", input: "FACEBOOK", expected: PlatformFacebook},
		{name: "empty defaults to threads", input: "", expected: PlatformThreads},
		{name: "whitespace only defaults", input: "   ", expected: PlatformThreads},
		{name: "unknown", input: "instagram", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePlatform(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestPriority_Valid(t *testing.T) {
	assert.True(t, PriorityLow.Valid())
	assert.True(t, PriorityNormal.Valid())
	assert.True(t, PriorityHigh.Valid())
	assert.True(t, PriorityUrgent.Valid())
	assert.False(t, Priority(0).Valid())
	assert.False(t, Priority(5).Valid())
	assert.False(t, Priority(-1).Valid())
}

func TestPriority_String(t *testing.T) {
	assert.Equal(t, "low", PriorityLow.String())
	assert.Equal(t, "normal", PriorityNormal.String())
	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "urgent", PriorityUrgent.String())
	assert.Equal(t, "priority(7)", Priority(7).String())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     JobStatus
		to       JobStatus
		expected bool
	}{
		{name: "scheduled to running", from: JobStatusScheduled, to: JobStatusRunning, expected: true},
		{name: "scheduled to cancelled", from: JobStatusScheduled, to: JobStatusCancelled, expected: true},
		{name: "scheduled to expired", from: JobStatusScheduled, to: JobStatusExpired, expected: true},
		{name: "scheduled to completed skips running", from: JobStatusScheduled, to: JobStatusCompleted, expected: false},
		{name: "pending to running", from: JobStatusPending, to: JobStatusRunning, expected: true},
		{name: "pending normalises to scheduled", from: JobStatusPending, to: JobStatusScheduled, expected: true},
		{name: "running to completed", from: JobStatusRunning, to: JobStatusCompleted, expected: true},
		{name: "running back to scheduled for retry", from: JobStatusRunning, to: JobStatusScheduled, expected: true},
		{name: "running to failed", from: JobStatusRunning, to: JobStatusFailed, expected: true},
		{name: "running to cancelled", from: JobStatusRunning, to: JobStatusCancelled, expected: false},
		{name: "completed is terminal", from: JobStatusCompleted, to: JobStatusScheduled, expected: false},
		{name: "failed is terminal", from: JobStatusFailed, to: JobStatusRunning, expected: false},
		{name: "expired is terminal", from: JobStatusExpired, to: JobStatusScheduled, expected: false},
		{name: "unknown from", from: JobStatus("bogus"), to: JobStatusRunning, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CanTransition(tt.from, tt.to))
		})
	}
}

func TestValidateTransition(t *testing.T) {
	require.NoError(t, ValidateTransition(JobStatusScheduled, JobStatusRunning))

	err := ValidateTransition(JobStatusCompleted, JobStatusRunning)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "completed -> running")
}

func TestJob_Clone(t *testing.T) {
	started := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	lastError := "boom"
	threadID := "t-123"
	link := "https://example.com/ref"

	original := &Job{
		ID:            "job-1",
		AccountID:     "acct-1",
		Content:       "hello",
		ScheduledTime: started.Add(time.Hour),
		Priority:      PriorityHigh,
		Status:        JobStatusRunning,
		Platform:      PlatformThreads,
		MaxRetries:    3,
		RetryCount:    1,
		CreatedAt:     started,
		StartedAt:     &started,
		LastError:     &lastError,
		ThreadID:      &threadID,
		LinkAff:       &link,
	}

	clone := original.Clone()
	require.NotNil(t, clone)
	assert.Equal(t, original, clone)

	// Pointer fields must not alias the original.
	*clone.LastError = "changed"
	*clone.StartedAt = started.Add(time.Minute)
	assert.Equal(t, "boom", *original.LastError)
	assert.Equal(t, started, *original.StartedAt)

	var nilJob *Job
	assert.Nil(t, nilJob.Clone())
}

func TestJob_EffectiveContent(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		linkAff  *string
		expected string
	}{
		{name: "no link", content: "hello", linkAff: nil, expected: "hello"},
		{name: "empty link ignored", content: "hello", linkAff: strPtr(""), expected: "hello"},
		{name: "blank link ignored", content: "hello", linkAff: strPtr("   "), expected: "hello"},
		{name: "link appended on new line", content: "hello", linkAff: strPtr("https://s.example/x"), expected: "hello\nhttps://s.example/x"},
		{name: "link trimmed", content: "hello", linkAff: strPtr("  https://s.example/x "), expected: "hello\nhttps://s.example/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &Job{Content: tt.content, LinkAff: tt.linkAff}
			assert.Equal(t, tt.expected, job.EffectiveContent())
		})
	}
}

func TestJob_ApplyDefaults(t *testing.T) {
	scheduled := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	job := &Job{ScheduledTime: scheduled}
	job.ApplyDefaults()

	assert.Equal(t, JobStatusScheduled, job.Status)
	assert.Equal(t, PriorityNormal, job.Priority)
	assert.Equal(t, PlatformThreads, job.Platform)
	assert.Equal(t, scheduled, job.CreatedAt, "created_at falls back to the scheduled time")

	// Existing values survive.
	job2 := &Job{
		Status:        JobStatusRunning,
		Priority:      PriorityUrgent,
		Platform:      PlatformFacebook,
		ScheduledTime: scheduled,
		CreatedAt:     scheduled.Add(-time.Hour),
	}
	job2.ApplyDefaults()
	assert.Equal(t, JobStatusRunning, job2.Status)
	assert.Equal(t, PriorityUrgent, job2.Priority)
	assert.Equal(t, PlatformFacebook, job2.Platform)
	assert.Equal(t, scheduled.Add(-time.Hour), job2.CreatedAt)
}

func TestPostResult_Failed(t *testing.T) {
	assert.False(t, PostResult{OK: true}.Failed())
	assert.True(t, PostResult{OK: false}.Failed())
	assert.True(t, PostResult{OK: true, ShadowFail: true}.Failed(), "shadow failures count as failures")
}

func TestJobEvent_AccountScoping(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	scoped := JobEvent(EventJobCreated, &Job{ID: "j1", AccountID: "acct-1"}, at)
	require.NotNil(t, scoped.AccountID)
	assert.Equal(t, "acct-1", *scoped.AccountID)
	assert.Equal(t, EventJobCreated, scoped.Type)
	assert.Equal(t, at, scoped.Timestamp)

	broadcast := JobEvent(EventJobUpdated, &Job{ID: "j2"}, at)
	assert.Nil(t, broadcast.AccountID, "jobs without an account broadcast to everyone")

	nilJob := JobEvent(EventJobCompleted, nil, at)
	assert.Nil(t, nilJob.AccountID)
}

func strPtr(s string) *string { return &s }
