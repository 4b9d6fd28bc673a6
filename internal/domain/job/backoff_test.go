package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextRetryTime(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		retryCount int
		expected   time.Duration
	}{
		{name: "first retry", retryCount: 1, expected: 2 * time.Minute},
		{name: "second retry", retryCount: 2, expected: 4 * time.Minute},
		{name: "third retry", retryCount: 3, expected: 8 * time.Minute},
		{name: "zero count", retryCount: 0, expected: time.Minute},
		{name: "negative count clamps to zero", retryCount: -3, expected: time.Minute},
		{name: "huge count clamps the shift", retryCount: 500, expected: (1 << 20) * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextRetryTime(now, tt.retryCount)
			assert.Equal(t, now.Add(tt.expected), got)
		})
	}
}

func TestDecideRetry_BudgetLeft(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	decision := DecideRetry(now, 0, 3)
	assert.True(t, decision.Retry())
	assert.Equal(t, RetryOutcomeRetry, decision.Outcome)
	assert.Equal(t, 1, decision.RetryCount)
	assert.Equal(t, now.Add(2*time.Minute), decision.RunAt, "backoff uses the post-increment count")

	decision = DecideRetry(now, 2, 3)
	assert.True(t, decision.Retry())
	assert.Equal(t, 3, decision.RetryCount)
	assert.Equal(t, now.Add(8*time.Minute), decision.RunAt)
}

func TestDecideRetry_BudgetSpent(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	decision := DecideRetry(now, 3, 3)
	assert.False(t, decision.Retry())
	assert.Equal(t, RetryOutcomeFail, decision.Outcome)
	assert.Equal(t, 3, decision.RetryCount)
	assert.True(t, decision.RunAt.IsZero())

	// A zero budget never retries.
	decision = DecideRetry(now, 0, 0)
	assert.False(t, decision.Retry())
}
