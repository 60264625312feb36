package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cthz/cthz-core/internal/event"
	"github.com/cthz/cthz-core/internal/fleet"
	"github.com/cthz/cthz-core/internal/pipeline"
)

// handleSubmitEvent accepts an external event into the pipeline.
//
// Events normally arrive over MQTT; this endpoint serves integrations that
// cannot speak MQTT and test tooling. The event is validated and queued; a
// 202 response means accepted, not processed.
func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	if err := s.pipeline.Submit(ev); err != nil {
		switch {
		case errors.Is(err, event.ErrInvalidEvent):
			writeBadRequest(w, err.Error())
		case errors.Is(err, fleet.ErrDeviceNotFound),
			errors.Is(err, fleet.ErrStationNotFound),
			errors.Is(err, fleet.ErrGroupNotFound):
			writeNotFound(w, "event source not found")
		case errors.Is(err, pipeline.ErrStopped):
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "pipeline is shutting down")
		default:
			writeInternalError(w, "failed to submit event")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}
