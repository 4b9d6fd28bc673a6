package model

import "time"

// Fan-out event names. Subscribers receive these wrapped in an Event envelope.
const (
	EventSchedulerStatus = "scheduler.status"

	EventJobCreated   = "job.created"
	EventJobUpdated   = "job.updated"
	EventJobCompleted = "job.completed"

	EventAutomationStart    = "automation.start"
	EventAutomationStep     = "automation.step"
	EventAutomationAction   = "automation.action"
	EventAutomationComplete = "automation.complete"
	EventAutomationError    = "automation.error"
)

// Event is the envelope broadcast to fan-out subscribers. AccountID, when
// set, restricts delivery to subscribers watching that account.
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	AccountID *string   `json:"account_id,omitempty"`
}

// NewEvent builds an unscoped event stamped with the given time.
func NewEvent(eventType string, data any, at time.Time) Event {
	return Event{Type: eventType, Data: data, Timestamp: at}
}

// JobEvent builds a job lifecycle event scoped to the job's account when
// one is set; jobs without an account broadcast to every subscriber.
func JobEvent(eventType string, job *Job, at time.Time) Event {
	evt := Event{Type: eventType, Data: job, Timestamp: at}
	if job != nil && job.AccountID != "" {
		accountID := job.AccountID
		evt.AccountID = &accountID
	}
	return evt
}
