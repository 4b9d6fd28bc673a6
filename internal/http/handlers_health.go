package httpx

import (
	"io"
	"net/http"

	"github.com/postpilot/postpilot-go/internal/service"
)

const healthResponse = `{"status":"ok"}`

// healthHandler returns a simple 200 OK status for readiness/liveness checks.
// When a scheduler is wired in, storage and cache backends are probed and a
// failing backend turns the response into a 503.
func healthHandler(svc *service.SchedulerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc != nil {
			if err := svc.Healthy(r.Context()); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				if r.Method == http.MethodHead {
					return
				}
				_, _ = io.WriteString(w, `{"status":"unavailable"}`)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.WriteString(w, healthResponse); err != nil {
			// Nothing more to do if the client connection is gone.
			return
		}
	}
}
