// Package httpx provides HTTP handlers and utilities for the postpilot scheduler API.
package httpx

import (
	"net/http"

	"github.com/postpilot/postpilot-go/internal/domain/model"
	apperrors "github.com/postpilot/postpilot-go/internal/errors"
	"github.com/postpilot/postpilot-go/internal/service"
	"github.com/postpilot/postpilot-go/internal/util"
)

// JobHandlers provides HTTP handlers for job scheduling operations.
type JobHandlers struct {
	Svc *service.SchedulerService
}

// jobWithWarnings is the creation response payload: the stored job plus
// any non-blocking validation warnings.
type jobWithWarnings struct {
	Job      *model.Job `json:"job"`
	Warnings []string   `json:"warnings,omitempty"`
}

// jobPage is the list response payload.
type jobPage struct {
	Jobs  []*model.Job `json:"jobs"`
	Total int          `json:"total"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
}

// Create handles HTTP requests to schedule a new job.
func (h *JobHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, warnings, err := h.Svc.AddJob(r.Context(), &req)
	if err != nil {
		WriteAppError(w, r, err)
		return
	}

	WriteSuccess(w, r, http.StatusCreated, jobWithWarnings{Job: job, Warnings: warnings})
}

// List handles HTTP requests to list jobs with filters and pagination.
func (h *JobHandlers) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseJobFilter(r)
	if err != nil {
		WriteAppError(w, r, err)
		return
	}
	page, limit := parsePageLimit(r)

	jobs := h.Svc.ListJobs(filter)
	total := len(jobs)

	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	WriteSuccess(w, r, http.StatusOK, jobPage{
		Jobs:  jobs[start:end],
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// Get handles HTTP requests to fetch one job by id.
func (h *JobHandlers) Get(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteAppError(w, r, apperrors.Validation("job id is required"))
		return
	}

	job, err := h.Svc.GetJob(jobID)
	if err != nil {
		WriteAppError(w, r, err)
		return
	}
	WriteSuccess(w, r, http.StatusOK, job)
}

// Delete handles HTTP requests to remove a job from the schedule.
func (h *JobHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteAppError(w, r, apperrors.Validation("job id is required"))
		return
	}

	if err := h.Svc.RemoveJob(r.Context(), jobID); err != nil {
		WriteAppError(w, r, err)
		return
	}
	WriteSuccess(w, r, http.StatusOK, map[string]string{"id": jobID, "status": "removed"})
}

// parseJobFilter builds a JobFilter from query params. Time bounds accept
// the same formats as job creation.
func parseJobFilter(r *http.Request) (model.JobFilter, error) {
	q := r.URL.Query()
	filter := model.JobFilter{
		AccountID: q.Get("account_id"),
		Status:    q.Get("status"),
		Platform:  q.Get("platform"),
	}

	if raw := q.Get("scheduled_from"); raw != "" {
		t, err := util.ParseScheduleTime(raw)
		if err != nil {
			return filter, apperrors.ValidationField("scheduled_from", err.Error())
		}
		filter.ScheduledFrom = &t
	}
	if raw := q.Get("scheduled_to"); raw != "" {
		t, err := util.ParseScheduleTime(raw)
		if err != nil {
			return filter, apperrors.ValidationField("scheduled_to", err.Error())
		}
		filter.ScheduledTo = &t
	}

	return filter, nil
}
