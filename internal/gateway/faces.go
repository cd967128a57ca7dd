package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleFacesSearch forwards GET /api/faces?channel=&q= to the
// configured face registry and returns the matches together with the
// gateway's default match threshold.
func (s *Server) handleFacesSearch(w http.ResponseWriter, r *http.Request) {
	if s.faces == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "face recognition not configured")
		return
	}
	q := r.URL.Query()
	matches, err := s.faces.Search(r.Context(), q.Get("channel"), q.Get("q"))
	if err != nil {
		s.logger.Warn("face search failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "face search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"faces":     matches,
		"count":     len(matches),
		"threshold": s.faceThreshold,
	})
}

func (s *Server) handleFacesIdentify(w http.ResponseWriter, r *http.Request) {
	if s.faces == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "face recognition not configured")
		return
	}
	var req IdentifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, ok := req["threshold"]; !ok {
		req["threshold"] = s.faceThreshold
	}
	result, err := s.faces.Identify(r.Context(), req)
	if err != nil {
		s.logger.Warn("face identify failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "face identify failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleFacesEnroll(w http.ResponseWriter, r *http.Request) {
	if s.faces == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "face recognition not configured")
		return
	}
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.faces.Enroll(r.Context(), req)
	if err != nil {
		s.logger.Warn("face enroll failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "face enroll failed")
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleFacesDelete(w http.ResponseWriter, r *http.Request) {
	if s.faces == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "face recognition not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.faces.Delete(r.Context(), id); err != nil {
		s.logger.Warn("face delete failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "face delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
