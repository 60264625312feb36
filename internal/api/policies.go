package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cthz/cthz-core/internal/policy"
)

// handleListPolicies returns all policies, ordered by id.
func (s *Server) handleListPolicies(w http.ResponseWriter, _ *http.Request) {
	policies := s.policies.ListPolicies()
	writeJSON(w, http.StatusOK, map[string]any{"policies": policies, "count": len(policies)})
}

// handleGetPolicy returns a single policy by ID.
func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.policies.GetPolicy(chi.URLParam(r, "id"))
	if err != nil {
		writePolicyError(w, err, "failed to get policy")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleCreatePolicy creates a new policy.
func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var p policy.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.policies.CreatePolicy(r.Context(), &p); err != nil {
		writePolicyError(w, err, "failed to create policy")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// handleUpdatePolicy partially updates a policy.
func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := s.policies.GetPolicy(id)
	if err != nil {
		writePolicyError(w, err, "failed to get policy")
		return
	}

	updated := *existing
	if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	updated.ID = id

	if err := s.policies.UpdatePolicy(r.Context(), &updated); err != nil {
		writePolicyError(w, err, "failed to update policy")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeletePolicy removes a policy. System policies refuse deletion.
func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := s.policies.DeletePolicy(r.Context(), chi.URLParam(r, "id")); err != nil {
		writePolicyError(w, err, "failed to delete policy")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// handleActivatePolicy enables a policy.
func (s *Server) handleActivatePolicy(w http.ResponseWriter, r *http.Request) {
	s.setPolicyActive(w, r, true)
}

// handleDeactivatePolicy disables a policy.
func (s *Server) handleDeactivatePolicy(w http.ResponseWriter, r *http.Request) {
	s.setPolicyActive(w, r, false)
}

func (s *Server) setPolicyActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := chi.URLParam(r, "id")
	if err := s.policies.SetActive(r.Context(), id, active); err != nil {
		writePolicyError(w, err, "failed to toggle policy")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": active})
}

// handlePolicyResults lists the dispatch audit trail for one policy.
func (s *Server) handlePolicyResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.policies.GetPolicy(id); err != nil {
		writePolicyError(w, err, "failed to get policy")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := s.results.ListByPolicy(r.Context(), id, limit)
	if err != nil {
		writeInternalError(w, "failed to list action results")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

// writePolicyError maps policy domain errors onto HTTP status codes.
func writePolicyError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, policy.ErrPolicyNotFound):
		writeNotFound(w, "policy not found")
	case errors.Is(err, policy.ErrInvalidPolicy):
		writeBadRequest(w, err.Error())
	case errors.Is(err, policy.ErrPolicyExists):
		writeConflict(w, err.Error())
	case errors.Is(err, policy.ErrSystemPolicy):
		writeForbidden(w, "system policies cannot be deleted")
	default:
		writeInternalError(w, fallback)
	}
}
