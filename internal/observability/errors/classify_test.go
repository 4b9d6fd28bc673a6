package errors

import (
	"context"
	goerrors "errors"
	"fmt"
	"testing"

	apperrors "github.com/postpilot/postpilot-go/internal/errors"
)

type flakyPoster struct{}

func (flakyPoster) Error() string { return "poster unavailable" }

func TestClassifyNil(t *testing.T) {
	t.Parallel()

	if got := Classify(nil); got != "" {
		t.Fatalf("Classify(nil) = %q, want empty string", got)
	}
}

func TestClassifyAppErrorCode(t *testing.T) {
	t.Parallel()

	if got := Classify(apperrors.Storage("snapshot write failed")); got != "storage" {
		t.Fatalf("Classify(storage) = %q, want %q", got, "storage")
	}

	wrapped := fmt.Errorf("tick: %w", apperrors.DuplicateContent("already scheduled"))
	if got := Classify(wrapped); got != "duplicate_content" {
		t.Fatalf("Classify(wrapped duplicate) = %q, want %q", got, "duplicate_content")
	}

	// The application code wins over the wrapped context sentinel.
	interrupted := apperrors.Wrap(context.Canceled, apperrors.ErrCodeStorage, "save interrupted")
	if got := Classify(interrupted); got != "storage" {
		t.Fatalf("Classify(app error over context) = %q, want %q", got, "storage")
	}
}

func TestClassifyContextErrors(t *testing.T) {
	t.Parallel()

	if got := Classify(fmt.Errorf("dispatch: %w", context.Canceled)); got != "canceled" {
		t.Fatalf("Classify(canceled) = %q, want %q", got, "canceled")
	}
	if got := Classify(context.DeadlineExceeded); got != "timeout" {
		t.Fatalf("Classify(deadline) = %q, want %q", got, "timeout")
	}
}

func TestClassifyFallsBackToTypeName(t *testing.T) {
	t.Parallel()

	if got := Classify(flakyPoster{}); got != "errors_flakyposter" {
		t.Fatalf("Classify(flakyPoster) = %q, want %q", got, "errors_flakyposter")
	}
	if got := Classify(goerrors.New("boom")); got != "errors_errorstring" {
		t.Fatalf("Classify(errors.New) = %q, want %q", got, "errors_errorstring")
	}
}
