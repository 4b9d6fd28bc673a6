// Package metrics emits the standard metric shapes for job lifecycle
// events. Tag vocabulary: platform is the posting target, transition the
// state machine edge taken, result the attempt outcome, and error_class
// the classifier output for failed attempts.
package metrics

import (
	"time"

	obserrors "github.com/postpilot/postpilot-go/internal/observability/errors"
	"github.com/postpilot/postpilot-go/internal/observability/statsd"
)

// Values for the result tag.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Values for the transition tag, matching the state machine edges the
// executor takes after a dispatch or during maintenance.
const (
	TransitionCompleted = "completed"
	TransitionRetried   = "retried"
	TransitionFailed    = "failed"
	TransitionExpired   = "expired"
)

// JobMetric describes one dispatch outcome.
type JobMetric struct {
	Platform   string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits a job.transition count and, when the attempt took
// measurable time, a job.duration timing. Failed outcomes carry an
// error_class tag from the classifier.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"platform":   in.Platform,
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// EmitJobExpirations reports jobs swept to expired during maintenance.
// The sweep is a bulk operation, so the count rides one line and carries
// no platform or result tag.
func EmitJobExpirations(sink statsd.Sink, count int) {
	if sink == nil || count <= 0 {
		return
	}
	sink.Count("job.transition", int64(count), map[string]string{
		"transition": TransitionExpired,
	})
}

// CloneTags copies a tag map so a second emission cannot observe later
// mutations.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
