// Package job holds scheduling policy shared by the manager, executor, and
// recovery paths: retry backoff and duplicate detection.
package job

import (
	"time"
)

// backoffBase is the unit scaled by the retry exponent.
const backoffBase = time.Minute

// maxBackoffShift caps the exponent so the shift cannot overflow; at 20
// the delay already exceeds any practical retry budget.
const maxBackoffShift = 20

// RetryOutcome identifies what happens to a job after a failed or
// interrupted attempt.
type RetryOutcome string

const (
	// RetryOutcomeRetry reschedules the job with backoff.
	RetryOutcomeRetry RetryOutcome = "retry"
	// RetryOutcomeFail marks the job failed; the retry budget is spent.
	RetryOutcomeFail RetryOutcome = "fail"
)

// RetryDecision captures the outcome of applying the retry budget.
type RetryDecision struct {
	Outcome RetryOutcome
	// RetryCount is the post-increment attempt count when retrying.
	RetryCount int
	// RunAt is the next scheduled time when retrying.
	RunAt time.Time
}

// Retry reports whether the decision reschedules the job.
func (d RetryDecision) Retry() bool {
	return d.Outcome == RetryOutcomeRetry
}

// NextRetryTime returns when a job on attempt retryCount should run again:
// now + 2^retryCount minutes. The exponent is the count after increment,
// so the first retry lands two minutes out.
func NextRetryTime(now time.Time, retryCount int) time.Time {
	shift := retryCount
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return now.Add(backoffBase * time.Duration(int64(1)<<shift))
}

// DecideRetry applies the retry budget to a job that did not complete.
// While attempts remain the count is incremented and the job reschedules
// with exponential backoff; otherwise it fails.
func DecideRetry(now time.Time, retryCount, maxRetries int) RetryDecision {
	if retryCount < maxRetries {
		next := retryCount + 1
		return RetryDecision{
			Outcome:    RetryOutcomeRetry,
			RetryCount: next,
			RunAt:      NextRetryTime(now, next),
		}
	}
	return RetryDecision{Outcome: RetryOutcomeFail, RetryCount: retryCount}
}
