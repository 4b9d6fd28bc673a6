// Package errors reduces failures to the short class names used to tag
// metrics and log lines.
package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"

	apperrors "github.com/postpilot/postpilot-go/internal/errors"
)

// Classify maps err onto a stable tag value. Application errors report
// their code so dashboards group by failure category (storage, validation,
// duplicate_content) rather than Go type. Context errors become "canceled"
// or "timeout". Anything else falls back to the innermost concrete type
// name in snake case.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var appErr *apperrors.AppError
	if goerrors.As(err, &appErr) && appErr.Code != "" {
		return string(appErr.Code)
	}

	if goerrors.Is(err, context.Canceled) {
		return string(apperrors.ErrCodeCanceled)
	}
	if goerrors.Is(err, context.DeadlineExceeded) {
		return string(apperrors.ErrCodeTimeout)
	}

	return typeName(err)
}

func typeName(err error) string {
	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
