package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter mounts the status and command routes.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(withRequestID, s.accessLog, s.recoverPanics, limitBody)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Get("/devices", s.handleListDevices)
		r.Get("/gateways", s.handleListGateways)
		r.Get("/audit", s.handleListAudit)

		r.Route("/accessories", func(r chi.Router) {
			r.Get("/", s.handleListAccessories)

			r.Route("/{key}", func(r chi.Router) {
				r.Get("/", s.handleGetAccessory)
				r.Post("/command", s.handleAccessoryCommand)
			})
		})
	})

	return r
}

// handleHealth returns the server health status. The bridge is reported
// degraded until at least one gateway has been seen.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	m := s.bridge.GetMetrics()

	status := "ok"
	switch {
	case !m.Running:
		status = "stopped"
	case m.Gateways == 0:
		status = "degraded"
	}

	resp := map[string]any{
		"status":   status,
		"version":  s.version,
		"gateways": m.Gateways,
		"devices":  m.Devices,
	}
	if s.mqtt != nil {
		resp["mqtt_connected"] = s.mqtt.IsConnected()
	}

	writeJSON(w, http.StatusOK, resp)
}
