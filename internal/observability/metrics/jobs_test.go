package metrics

import (
	"testing"
	"time"

	apperrors "github.com/postpilot/postpilot-go/internal/errors"
)

type recordedMetric struct {
	name  string
	value int64
	tags  map[string]string
}

type recordingSink struct {
	counts  []recordedMetric
	timings []recordedMetric
}

func (r *recordingSink) Count(name string, value int64, tags map[string]string) {
	r.counts = append(r.counts, recordedMetric{name: name, value: value, tags: tags})
}

func (r *recordingSink) Gauge(string, float64, map[string]string) {}

func (r *recordingSink) Timing(name string, value time.Duration, tags map[string]string) {
	r.timings = append(r.timings, recordedMetric{name: name, value: int64(value), tags: tags})
}

func TestEmitJobLifecycle(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	EmitJobLifecycle(sink, JobMetric{
		Platform:   "threads",
		Transition: TransitionFailed,
		Result:     ResultError,
		Duration:   250 * time.Millisecond,
		Err:        apperrors.Storage("snapshot write failed"),
	})

	if len(sink.counts) != 1 {
		t.Fatalf("expected 1 count, got %d", len(sink.counts))
	}
	count := sink.counts[0]
	if count.name != "job.transition" || count.value != 1 {
		t.Fatalf("unexpected count %+v", count)
	}
	for key, want := range map[string]string{
		"platform":    "threads",
		"transition":  "failed",
		"result":      "error",
		"error_class": "storage",
	} {
		if got := count.tags[key]; got != want {
			t.Fatalf("tag %s = %q, want %q", key, got, want)
		}
	}

	if len(sink.timings) != 1 {
		t.Fatalf("expected 1 timing, got %d", len(sink.timings))
	}
	if sink.timings[0].name != "job.duration" {
		t.Fatalf("unexpected timing name %q", sink.timings[0].name)
	}
}

func TestEmitJobLifecycleSkipsZeroDuration(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	EmitJobLifecycle(sink, JobMetric{
		Platform:   "facebook",
		Transition: TransitionCompleted,
		Result:     ResultSuccess,
	})

	if len(sink.counts) != 1 {
		t.Fatalf("expected 1 count, got %d", len(sink.counts))
	}
	if _, ok := sink.counts[0].tags["error_class"]; ok {
		t.Fatal("success outcome should not carry error_class")
	}
	if len(sink.timings) != 0 {
		t.Fatalf("expected no timing for zero duration, got %d", len(sink.timings))
	}

	// A nil sink is a silent no-op.
	EmitJobLifecycle(nil, JobMetric{Platform: "threads"})
}

func TestEmitJobExpirations(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	EmitJobExpirations(sink, 3)
	EmitJobExpirations(sink, 0)
	EmitJobExpirations(nil, 5)

	if len(sink.counts) != 1 {
		t.Fatalf("expected 1 count, got %d", len(sink.counts))
	}
	count := sink.counts[0]
	if count.value != 3 {
		t.Fatalf("count value = %d, want 3", count.value)
	}
	if got := count.tags["transition"]; got != TransitionExpired {
		t.Fatalf("transition tag = %q, want %q", got, TransitionExpired)
	}
}

func TestCloneTags(t *testing.T) {
	t.Parallel()

	if CloneTags(nil) != nil {
		t.Fatal("CloneTags(nil) should return nil")
	}

	src := map[string]string{"platform": "threads"}
	cp := CloneTags(src)
	cp["platform"] = "facebook"
	if src["platform"] != "threads" {
		t.Fatal("CloneTags did not copy the map")
	}
}
