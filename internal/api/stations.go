package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cthz/cthz-core/internal/fleet"
)

// handleListStations returns all stations.
func (s *Server) handleListStations(w http.ResponseWriter, r *http.Request) {
	stations, err := s.fleet.ListStations(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list stations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stations": stations, "count": len(stations)})
}

// handleGetStation returns a single station by ID.
func (s *Server) handleGetStation(w http.ResponseWriter, r *http.Request) {
	st, err := s.fleet.GetStation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, fleet.ErrStationNotFound) {
			writeNotFound(w, "station not found")
			return
		}
		writeInternalError(w, "failed to get station")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleCreateStation creates a new station.
func (s *Server) handleCreateStation(w http.ResponseWriter, r *http.Request) {
	var st fleet.Station
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.fleet.CreateStation(r.Context(), &st); err != nil {
		writeFleetError(w, err, "failed to create station")
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// handleUpdateStation partially updates a station. Status is derived from
// member rollup and cannot be set here.
func (s *Server) handleUpdateStation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := s.fleet.GetStation(r.Context(), id)
	if err != nil {
		if errors.Is(err, fleet.ErrStationNotFound) {
			writeNotFound(w, "station not found")
			return
		}
		writeInternalError(w, "failed to get station")
		return
	}

	updated := *existing
	if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	updated.ID = id
	updated.Status = existing.Status

	if err := s.fleet.UpdateStation(r.Context(), &updated); err != nil {
		writeFleetError(w, err, "failed to update station")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteStation removes a station.
func (s *Server) handleDeleteStation(w http.ResponseWriter, r *http.Request) {
	if err := s.fleet.DeleteStation(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, fleet.ErrStationNotFound) {
			writeNotFound(w, "station not found")
			return
		}
		writeFleetError(w, err, "failed to delete station")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// handleStationStatus returns just the station's derived health status.
func (s *Server) handleStationStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.fleet.GetStation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, fleet.ErrStationNotFound) {
			writeNotFound(w, "station not found")
			return
		}
		writeInternalError(w, "failed to get station")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": st.ID, "status": st.Status})
}

// handleStationDevices lists a station's member devices.
func (s *Server) handleStationDevices(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.fleet.GetStation(r.Context(), id); err != nil {
		if errors.Is(err, fleet.ErrStationNotFound) {
			writeNotFound(w, "station not found")
			return
		}
		writeInternalError(w, "failed to get station")
		return
	}

	devices, err := s.fleet.StationMembers(r.Context(), id)
	if err != nil {
		writeInternalError(w, "failed to list station devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}
