package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "message only",
			err:      &AppError{Code: ErrCodeValidation, Message: "content is required"},
			expected: "content is required",
		},
		{
			name: "message with cause",
			err: &AppError{
				Code:    ErrCodeStorage,
				Message: "save failed",
				Cause:   stderrors.New("connection refused"),
			},
			expected: "save failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := Wrap(cause, ErrCodeStorage, "save failed")

	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, cause, err.Unwrap())
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name          string
		err           *AppError
		expectedCode  ErrorCode
		expectedMsg   string
		expectedField string
	}{
		{
			name:         "not found",
			err:          NotFound("job missing"),
			expectedCode: ErrCodeNotFound,
			expectedMsg:  "job missing",
		},
		{
			name:         "not found formatted",
			err:          NotFoundf("job %s not found", "abc123"),
			expectedCode: ErrCodeNotFound,
			expectedMsg:  "job abc123 not found",
		},
		{
			name:         "validation",
			err:          Validation("bad input"),
			expectedCode: ErrCodeValidation,
			expectedMsg:  "bad input",
		},
		{
			name:         "validation formatted",
			err:          Validationf("limit is %d", 10),
			expectedCode: ErrCodeValidation,
			expectedMsg:  "limit is 10",
		},
		{
			name:          "validation field",
			err:           ValidationField("platform", "unsupported platform"),
			expectedCode:  ErrCodeValidation,
			expectedMsg:   "unsupported platform",
			expectedField: "platform",
		},
		{
			name:          "invalid schedule time pins the field",
			err:           InvalidScheduleTime("too far in the past"),
			expectedCode:  ErrCodeInvalidScheduleTime,
			expectedMsg:   "too far in the past",
			expectedField: "scheduled_time",
		},
		{
			name:          "invalid schedule time formatted",
			err:           InvalidScheduleTimef("bad time %q", "yesterday"),
			expectedCode:  ErrCodeInvalidScheduleTime,
			expectedMsg:   `bad time "yesterday"`,
			expectedField: "scheduled_time",
		},
		{
			name:         "duplicate content",
			err:          DuplicateContent("already scheduled"),
			expectedCode: ErrCodeDuplicateContent,
			expectedMsg:  "already scheduled",
		},
		{
			name:         "duplicate content formatted",
			err:          DuplicateContentf("job %s holds this post", "abc123"),
			expectedCode: ErrCodeDuplicateContent,
			expectedMsg:  "job abc123 holds this post",
		},
		{
			name:         "storage",
			err:          Storage("disk full"),
			expectedCode: ErrCodeStorage,
			expectedMsg:  "disk full",
		},
		{
			name:         "storage formatted",
			err:          Storagef("write to %s failed", "jobs"),
			expectedCode: ErrCodeStorage,
			expectedMsg:  "write to jobs failed",
		},
		{
			name:         "internal",
			err:          Internal("unexpected state"),
			expectedCode: ErrCodeInternal,
			expectedMsg:  "unexpected state",
		},
		{
			name:         "internal formatted",
			err:          Internalf("tick %d panicked", 7),
			expectedCode: ErrCodeInternal,
			expectedMsg:  "tick 7 panicked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, tt.err)
			assert.Equal(t, tt.expectedCode, tt.err.Code)
			assert.Equal(t, tt.expectedMsg, tt.err.Message)
			assert.Equal(t, tt.expectedField, tt.err.Field)
			assert.Nil(t, tt.err.Cause)
		})
	}
}

func TestWrap(t *testing.T) {
	cause := stderrors.New("underlying")

	err := Wrap(cause, ErrCodeStorage, "save failed")
	require.NotNil(t, err)
	assert.Equal(t, ErrCodeStorage, err.Code)
	assert.Equal(t, "save failed", err.Message)
	assert.Equal(t, cause, err.Cause)

	assert.Nil(t, Wrap(nil, ErrCodeStorage, "save failed"), "nil errors are not wrapped")
}

func TestWrapf(t *testing.T) {
	cause := stderrors.New("underlying")

	err := Wrapf(cause, ErrCodeInternal, "step %d failed", 3)
	require.NotNil(t, err)
	assert.Equal(t, ErrCodeInternal, err.Code)
	assert.Equal(t, "step 3 failed", err.Message)
	assert.True(t, stderrors.Is(err, cause))

	assert.Nil(t, Wrapf(nil, ErrCodeInternal, "step %d failed", 3))
}

func TestWrapTemplate(t *testing.T) {
	cause := stderrors.New("underlying")
	tmpl := Messagef("job %s: %s failed", "abc", "save")

	err := WrapTemplate(cause, ErrCodeStorage, tmpl)
	require.NotNil(t, err)
	assert.Equal(t, "job abc: save failed", err.Message)

	assert.Nil(t, WrapTemplate(nil, ErrCodeStorage, tmpl))
}

func TestMessagef_String(t *testing.T) {
	assert.Equal(t, "plain", Messagef("plain").String())
	assert.Equal(t, "got 42", Messagef("got %d", 42).String())
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		predicate func(error) bool
		expected  bool
	}{
		{"not found matches", NotFound("x"), IsNotFound, true},
		{"not found rejects other code", Validation("x"), IsNotFound, false},
		{"validation matches", Validation("x"), IsValidation, true},
		{"invalid schedule time matches", InvalidScheduleTime("x"), IsInvalidScheduleTime, true},
		{"invalid schedule time is not plain validation", InvalidScheduleTime("x"), IsValidation, false},
		{"duplicate content matches", DuplicateContent("x"), IsDuplicateContent, true},
		{"storage matches", Storage("x"), IsStorage, true},
		{"internal matches", Internal("x"), IsInternal, true},
		{"timeout matches", &AppError{Code: ErrCodeTimeout, Message: "x"}, IsTimeout, true},
		{"canceled matches", &AppError{Code: ErrCodeCanceled, Message: "x"}, IsCanceled, true},
		{"plain error never matches", stderrors.New("x"), IsStorage, false},
		{"nil never matches", nil, IsNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.predicate(tt.err))
		})
	}
}

func TestPredicates_SeeThroughWrapping(t *testing.T) {
	inner := NotFound("job abc not found")
	outer := fmt.Errorf("handling request: %w", inner)

	assert.True(t, IsNotFound(outer))
	assert.Equal(t, ErrCodeNotFound, GetCode(outer))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeValidation, GetCode(Validation("x")))
	assert.Equal(t, ErrorCode(""), GetCode(stderrors.New("plain")))
	assert.Equal(t, ErrorCode(""), GetCode(nil))
}

func TestGetField(t *testing.T) {
	assert.Equal(t, "platform", GetField(ValidationField("platform", "bad")))
	assert.Equal(t, "scheduled_time", GetField(InvalidScheduleTime("bad")))
	assert.Equal(t, "", GetField(Validation("no field")))
	assert.Equal(t, "", GetField(stderrors.New("plain")))
}
