package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Event ingress
		r.Post("/events", s.handleSubmitEvent)

		// Device endpoints
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleCreateDevice)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Patch("/", s.handleUpdateDevice)
				r.Delete("/", s.handleDeleteDevice)
				r.Get("/status", s.handleDeviceStatus)
				r.Get("/requests", s.handleDeviceRequests)
				r.Post("/scan", s.handleDeviceScan)
				r.Post("/calibrate", s.handleDeviceCalibrate)
			})
		})

		// Station endpoints
		r.Route("/stations", func(r chi.Router) {
			r.Get("/", s.handleListStations)
			r.Post("/", s.handleCreateStation)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetStation)
				r.Patch("/", s.handleUpdateStation)
				r.Delete("/", s.handleDeleteStation)
				r.Get("/status", s.handleStationStatus)
				r.Get("/devices", s.handleStationDevices)
			})
		})

		// Group endpoints
		r.Route("/groups", func(r chi.Router) {
			r.Get("/", s.handleListGroups)
			r.Post("/", s.handleCreateGroup)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetGroup)
				r.Patch("/", s.handleUpdateGroup)
				r.Delete("/", s.handleDeleteGroup)
				r.Get("/status", s.handleGroupStatus)
			})
		})

		// Policy endpoints
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", s.handleListPolicies)
			r.Post("/", s.handleCreatePolicy)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetPolicy)
				r.Patch("/", s.handleUpdatePolicy)
				r.Delete("/", s.handleDeletePolicy)
				r.Post("/activate", s.handleActivatePolicy)
				r.Post("/deactivate", s.handleDeactivatePolicy)
				r.Get("/results", s.handlePolicyResults)
			})
		})

		// Alert endpoints
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handleListAlerts)
			r.Get("/{id}", s.handleGetAlert)
			r.Post("/{id}/acknowledge", s.handleAcknowledgeAlert)
		})

		// Outstanding hardware requests and the dispatch audit trail
		r.Get("/requests", s.handleListRequests)
		r.Get("/action-results", s.handleListResults)

		// WebSocket alert/status stream
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
