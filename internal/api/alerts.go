package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cthz/cthz-core/internal/alert"
)

// handleListAlerts returns alerts, newest first.
//
// Query parameters:
//   - acknowledged: true|false
//   - severity: critical|warning|info
//   - source_type, source_id: filter by originating entity
//   - limit: maximum alerts returned
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := alert.ListFilter{
		Severity:   alert.Severity(q.Get("severity")),
		SourceType: q.Get("source_type"),
		SourceID:   q.Get("source_id"),
	}
	if v := q.Get("acknowledged"); v != "" {
		acked, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "acknowledged must be true or false")
			return
		}
		filter.Acknowledged = &acked
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = limit
	}

	alerts, err := s.alerts.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

// handleGetAlert returns a single alert by ID.
func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.alerts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, alert.ErrAlertNotFound) {
			writeNotFound(w, "alert not found")
			return
		}
		writeInternalError(w, "failed to get alert")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// acknowledgeBody identifies the operator acknowledging an alert.
type acknowledgeBody struct {
	AcknowledgedBy string `json:"acknowledged_by"`
}

// handleAcknowledgeAlert marks an alert acknowledged. Re-acknowledging is a
// no-op that returns the alert unchanged.
func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var body acknowledgeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	a, err := s.alerts.Acknowledge(r.Context(), chi.URLParam(r, "id"), body.AcknowledgedBy)
	if err != nil {
		switch {
		case errors.Is(err, alert.ErrAlertNotFound):
			writeNotFound(w, "alert not found")
		case errors.Is(err, alert.ErrInvalidAlert):
			writeBadRequest(w, err.Error())
		default:
			writeInternalError(w, "failed to acknowledge alert")
		}
		return
	}
	writeJSON(w, http.StatusOK, a)
}
