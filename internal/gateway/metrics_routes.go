package gateway

import "net/http"

// handleMetricsDigest serves the same family-filterable snapshot the
// SSE "metrics" event carries, as a plain request/response for
// clients that don't want a live stream.
func (s *Server) handleMetricsDigest(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "metrics not available")
		return
	}
	want := parseMetricsWant(r.URL.Query().Get("metrics"))
	writeJSON(w, http.StatusOK, s.filteredMetrics(want))
}
