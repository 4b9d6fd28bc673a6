package httpx

import (
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/postpilot/postpilot-go/internal/core"
	"github.com/postpilot/postpilot-go/internal/domain/model"
	apperrors "github.com/postpilot/postpilot-go/internal/errors"
	"github.com/postpilot/postpilot-go/internal/service"
)

// SchedulerHandlers provides HTTP handlers for scheduler lifecycle control.
type SchedulerHandlers struct {
	Svc     *service.SchedulerService
	Posters core.PosterFactory
}

// schedulerStatus is the status response payload: loop state, per-status
// counts, and whether the storage and cache backends answer.
type schedulerStatus struct {
	Running    bool           `json:"running"`
	ActiveJobs int            `json:"active_jobs"`
	Stats      model.JobStats `json:"stats"`
	Healthy    bool           `json:"healthy"`
}

// Start handles HTTP requests to start the executor loop. Starting an
// already-running scheduler succeeds without effect.
func (h *SchedulerHandlers) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Start(r.Context(), h.Posters); err != nil {
		WriteAppError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInternal, "start scheduler"))
		return
	}
	WriteSuccess(w, r, http.StatusOK, h.Svc.Status())
}

// Stop handles HTTP requests to stop the executor loop. Stopping a
// stopped scheduler succeeds without effect.
func (h *SchedulerHandlers) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Stop(r.Context()); err != nil {
		WriteAppError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInternal, "stop scheduler"))
		return
	}
	WriteSuccess(w, r, http.StatusOK, h.Svc.Status())
}

// Status handles HTTP requests for the scheduler status. The backend
// health probe does network IO, so it runs concurrently with the
// in-memory snapshot assembly.
func (h *SchedulerHandlers) Status(w http.ResponseWriter, r *http.Request) {
	var (
		payload   schedulerStatus
		healthErr error
	)

	g, gctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		healthErr = h.Svc.Healthy(gctx)
		return nil
	})
	g.Go(func() error {
		status := h.Svc.Status()
		payload.Running = status.Running
		payload.ActiveJobs = status.ActiveJobs
		payload.Stats = h.Svc.Stats()
		return nil
	})
	_ = g.Wait()

	payload.Healthy = healthErr == nil
	WriteSuccess(w, r, http.StatusOK, payload)
}

// ActiveJobs handles HTTP requests for the jobs the executor still has in
// play (scheduled or running).
func (h *SchedulerHandlers) ActiveJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.Svc.GetActiveJobs()
	WriteSuccess(w, r, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"total": len(jobs),
	})
}
