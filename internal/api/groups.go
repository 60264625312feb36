package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cthz/cthz-core/internal/fleet"
)

// handleListGroups returns all groups.
func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.fleet.ListGroups(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list groups")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups, "count": len(groups)})
}

// handleGetGroup returns a single group by ID.
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.fleet.GetGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, fleet.ErrGroupNotFound) {
			writeNotFound(w, "group not found")
			return
		}
		writeInternalError(w, "failed to get group")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// handleCreateGroup creates a new group.
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var g fleet.Group
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.fleet.CreateGroup(r.Context(), &g); err != nil {
		writeFleetError(w, err, "failed to create group")
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// handleUpdateGroup partially updates a group. Status is derived from child
// rollup and cannot be set here.
func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := s.fleet.GetGroup(r.Context(), id)
	if err != nil {
		if errors.Is(err, fleet.ErrGroupNotFound) {
			writeNotFound(w, "group not found")
			return
		}
		writeInternalError(w, "failed to get group")
		return
	}

	updated := *existing
	if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	updated.ID = id
	updated.Status = existing.Status

	if err := s.fleet.UpdateGroup(r.Context(), &updated); err != nil {
		writeFleetError(w, err, "failed to update group")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteGroup removes a group.
func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.fleet.DeleteGroup(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, fleet.ErrGroupNotFound) {
			writeNotFound(w, "group not found")
			return
		}
		writeFleetError(w, err, "failed to delete group")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// handleGroupStatus returns just the group's derived health status.
func (s *Server) handleGroupStatus(w http.ResponseWriter, r *http.Request) {
	g, err := s.fleet.GetGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, fleet.ErrGroupNotFound) {
			writeNotFound(w, "group not found")
			return
		}
		writeInternalError(w, "failed to get group")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": g.ID, "status": g.Status})
}
