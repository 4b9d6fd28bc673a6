package httpx

import (
	"log/slog"
	"net/http"

	"github.com/postpilot/postpilot-go/internal/core"
	"github.com/postpilot/postpilot-go/internal/fanout"
	"github.com/postpilot/postpilot-go/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Scheduler *service.SchedulerService
	Hub       *fanout.Hub
	Posters   core.PosterFactory
	Logger    *slog.Logger // Logger for HTTP errors (optional)
}

// NewRouter creates and configures a new HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Svc: services.Scheduler}
	schedulerHandlers := &SchedulerHandlers{Svc: services.Scheduler, Posters: services.Posters}

	registerJobRoutes(mux, jobHandlers)
	registerSchedulerRoutes(mux, schedulerHandlers)

	health := healthHandler(services.Scheduler)
	mux.Handle("GET /healthz", health)
	mux.Handle("HEAD /healthz", health)

	if services.Hub != nil {
		mux.Handle("GET /ws", WSHandler(services.Hub))
	}

	return mux
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("POST /api/jobs", h.Create)
	mux.HandleFunc("GET /api/jobs", h.List)
	mux.HandleFunc("GET /api/jobs/{id}", h.Get)
	mux.HandleFunc("DELETE /api/jobs/{id}", h.Delete)
}

func registerSchedulerRoutes(mux *http.ServeMux, h *SchedulerHandlers) {
	mux.HandleFunc("POST /api/scheduler/start", h.Start)
	mux.HandleFunc("POST /api/scheduler/stop", h.Stop)
	mux.HandleFunc("GET /api/scheduler/status", h.Status)
	mux.HandleFunc("GET /api/scheduler/jobs", h.ActiveJobs)
}
