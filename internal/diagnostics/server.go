// Package diagnostics exposes the driver's operational surface: liveness,
// Prometheus metrics, and a manual "run now" trigger per tenant — the
// lightweight chi-routed counterpart to the notification transport's
// gorilla/mux test double, per the corpus's own split between the two
// routers.
package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Paul008/oem-agent-sub002/internal/driver"
	"github.com/Paul008/oem-agent-sub002/internal/registry"
	"github.com/Paul008/oem-agent-sub002/internal/telemetry"
)

// Server bundles the dependencies the diagnostics routes read from.
type Server struct {
	Driver   *driver.Driver
	Registry *registry.Registry
	Metrics  *telemetry.Metrics
	Logger   *telemetry.Logger
}

// Router builds the chi router: GET /healthz, GET /metrics, and
// POST /tenants/{id}/run for an operator-triggered scheduling pass outside
// the normal cron cadence.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", s.Metrics.Handler())
	r.Post("/tenants/{id}/run", s.handleRunNow)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tenant, ok := s.Registry.Tenant(id)
	if !ok {
		http.Error(w, "unknown tenant", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	enqueued, err := s.Driver.ScheduleTick(ctx, tenant, time.Now())
	if err != nil {
		s.Logger.Error(ctx, "diagnostics: manual run failed", "tenant", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"tenant": id, "jobsEnqueued": enqueued})
}
