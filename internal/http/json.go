package httpx

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	apperrors "github.com/postpilot/postpilot-go/internal/errors"
)

// Envelope is the uniform JSON response shape for every API endpoint.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
	Meta    Meta       `json:"meta"`
}

// ErrorBody carries the wire form of an application error.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Meta stamps every response with server time and the request id.
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// DecodeJSON decodes JSON from the request body into the destination and handles errors.
// Returns true if successful, false if there was an error (error response already written).
// Unknown fields are rejected so client typos surface instead of being dropped.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		WriteAppError(w, r, apperrors.Validationf("invalid request body: %v", err))
		return false
	}

	return true
}

// WriteSuccess writes a success envelope with the given status code and data.
func WriteSuccess(w http.ResponseWriter, r *http.Request, code int, data any) {
	writeEnvelope(w, r, code, Envelope{Success: true, Data: data})
}

// WriteAppError writes an error envelope, mapping the application error
// code to an HTTP status. Storage errors are sanitised to a generic
// message so persistence internals never reach clients.
func WriteAppError(w http.ResponseWriter, r *http.Request, err error) {
	status, wireCode := statusForError(err)

	message := err.Error()
	if apperrors.IsStorage(err) {
		message = "a storage error occurred"
	}

	body := &ErrorBody{Code: wireCode, Message: message}
	if field := apperrors.GetField(err); field != "" {
		body.Details = map[string]any{"field": field}
	}

	writeEnvelope(w, r, status, Envelope{Success: false, Error: body})
}

// statusForError maps the internal error taxonomy to HTTP status and wire code.
func statusForError(err error) (int, string) {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeValidation:
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR"
	case apperrors.ErrCodeInvalidScheduleTime:
		return http.StatusUnprocessableEntity, "INVALID_SCHEDULE_TIME"
	case apperrors.ErrCodeDuplicateContent:
		return http.StatusConflict, "DUPLICATE_CONTENT"
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound, "JOB_NOT_FOUND"
	case apperrors.ErrCodeStorage:
		return http.StatusInternalServerError, "STORAGE_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, code int, env Envelope) {
	env.Meta = Meta{
		Timestamp: time.Now().UTC(),
		RequestID: RequestIDFromContext(r.Context()),
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(env); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// Response writer errors (e.g., client disconnect) can't be recovered from here.
		return
	}
}
