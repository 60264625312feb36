package api

import (
	"net/http"
	"strconv"
)

// handleListRequests lists all currently pending hardware requests.
func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "request tracking not configured")
		return
	}
	requests, err := s.tracker.Pending(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list pending requests")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests, "count": len(requests)})
}

// handleListResults lists recent action dispatch outcomes across all
// policies, newest first.
func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := s.results.ListRecent(r.Context(), limit)
	if err != nil {
		writeInternalError(w, "failed to list action results")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}
