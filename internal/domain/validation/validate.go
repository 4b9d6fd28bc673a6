// Package validation checks posting jobs before they enter the scheduler.
// Errors block registration; warnings are surfaced and logged but do not.
package validation

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	domainjob "github.com/postpilot/postpilot-go/internal/domain/job"
	"github.com/postpilot/postpilot-go/internal/domain/model"
)

const (
	maxAccountIDLen   = 100
	maxRetriesAdvised = 10

	pastTolerance   = 24 * time.Hour
	futureTolerance = 365 * 24 * time.Hour
	immediateWindow = 10 * time.Second
	conflictWindow  = 5 * time.Second
)

// Issue describes a single finding against one field.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result separates blocking errors from advisory warnings.
type Result struct {
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// OK reports whether the job passed with no blocking errors.
func (r *Result) OK() bool {
	return len(r.Errors) == 0
}

// HasErrorOn reports whether any blocking error concerns the given field.
func (r *Result) HasErrorOn(field string) bool {
	for _, issue := range r.Errors {
		if issue.Field == field {
			return true
		}
	}
	return false
}

// ErrorMessages joins all blocking errors into one display string.
func (r *Result) ErrorMessages() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, issue := range r.Errors {
		msgs = append(msgs, issue.Field+": "+issue.Message)
	}
	return strings.Join(msgs, "; ")
}

func (r *Result) addError(field, message string) {
	r.Errors = append(r.Errors, Issue{Field: field, Message: message})
}

func (r *Result) addWarning(field, message string) {
	r.Warnings = append(r.Warnings, Issue{Field: field, Message: message})
}

// ValidateForAdd runs every registration check against a candidate job.
// existing is a snapshot of the current cache used for schedule-conflict
// detection; it may be nil.
func ValidateForAdd(candidate *model.Job, now time.Time, existing map[string]*model.Job) Result {
	var r Result

	checkAccountID(&r, candidate.AccountID)
	checkContent(&r, candidate.Content)
	checkScheduledTime(&r, candidate.ScheduledTime, now)
	checkPriority(&r, candidate.Priority)
	checkPlatform(&r, candidate.Platform)
	checkMaxRetries(&r, candidate.MaxRetries)
	checkScheduleConflict(&r, candidate, existing)

	return r
}

func checkAccountID(r *Result, accountID string) {
	if len(accountID) > maxAccountIDLen {
		r.addWarning("account_id", fmt.Sprintf("account id longer than %d characters", maxAccountIDLen))
	}
}

func checkContent(r *Result, content string) {
	normalized := domainjob.NormalizeContent(content)
	if normalized == "" {
		r.addError("content", "content is required")
	} else if len(normalized) > model.MaxContentBytes {
		r.addError("content", fmt.Sprintf("content must be at most %d bytes after normalisation", model.MaxContentBytes))
	}

	for _, finding := range suspiciousContentFindings(content) {
		r.addWarning("content", finding)
	}
}

// suspiciousContentFindings flags content that is technically postable but
// almost certainly not what the operator intended.
func suspiciousContentFindings(content string) []string {
	var findings []string

	if strings.TrimSpace(content) == "" {
		findings = append(findings, "content is empty after trimming")
		return findings
	}

	total := 0
	alnum := 0
	for _, rn := range content {
		total++
		if unicode.IsLetter(rn) || unicode.IsNumber(rn) {
			alnum++
		}
	}
	if total > 0 && (total-alnum)*2 > total {
		findings = append(findings, "more than half of the content is non-alphanumeric")
	}

	if strings.Contains(content, strings.Repeat(" ", 20)) {
		findings = append(findings, "content contains a run of 20 or more spaces")
	}

	if alnum == 0 && utf8.RuneCountInString(content) > 10 {
		findings = append(findings, "content longer than 10 characters contains no letters or digits")
	}

	return findings
}

func checkScheduledTime(r *Result, scheduled, now time.Time) {
	if scheduled.IsZero() {
		r.addError("scheduled_time", "scheduled time is required")
		return
	}
	if scheduled.Before(now.Add(-pastTolerance)) {
		r.addError("scheduled_time", "scheduled time is more than 1 day in the past")
		return
	}
	if scheduled.After(now.Add(futureTolerance)) {
		r.addError("scheduled_time", "scheduled time is more than 365 days in the future")
		return
	}
	if !scheduled.Before(now) && scheduled.Before(now.Add(immediateWindow)) {
		r.addWarning("scheduled_time", "scheduled time is within the next 10 seconds; the job may run immediately")
	}
}

func checkPriority(r *Result, priority model.Priority) {
	if !priority.Valid() {
		r.addError("priority", fmt.Sprintf("priority must be between %d and %d", model.PriorityLow, model.PriorityUrgent))
	}
}

func checkPlatform(r *Result, platform model.Platform) {
	if !platform.Valid() {
		r.addError("platform", fmt.Sprintf("unsupported platform: %q", string(platform)))
	}
}

func checkMaxRetries(r *Result, maxRetries int) {
	if maxRetries < 0 {
		r.addError("max_retries", "max retries must be >= 0")
		return
	}
	if maxRetries > maxRetriesAdvised {
		r.addWarning("max_retries", fmt.Sprintf("max retries above %d prolongs failure handling", maxRetriesAdvised))
	}
}

func checkScheduleConflict(r *Result, candidate *model.Job, existing map[string]*model.Job) {
	for id, other := range existing {
		if other == nil || id == candidate.ID {
			continue
		}
		if other.Status.Terminal() {
			continue
		}
		if other.AccountID != candidate.AccountID || other.Platform != candidate.Platform {
			continue
		}
		gap := candidate.ScheduledTime.Sub(other.ScheduledTime)
		if gap < 0 {
			gap = -gap
		}
		if gap <= conflictWindow {
			r.addWarning("scheduled_time",
				fmt.Sprintf("another job for this account and platform is scheduled within %s", conflictWindow))
			return
		}
	}
}
