package gateway

import (
	"context"
	"database/sql"
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// handleHealthz is a pure liveness probe: if the process can answer,
// it's live. It never touches the store or bus.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Timestamp: time.Now().UnixMilli()})
}

// pinger is an optional interface the configured store may satisfy;
// when it does, readiness actually exercises the database connection
// instead of just checking that a store was wired.
type pinger interface {
	DB() *sql.DB
}

// handleReadyz reports whether the gateway can currently serve
// traffic: the store must be reachable. A degraded database fails
// readiness without crashing liveness.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "not ready", Timestamp: time.Now().UnixMilli()})
		return
	}
	if p, ok := s.store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.DB().PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "database unreachable", Timestamp: time.Now().UnixMilli()})
			return
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ready", Timestamp: time.Now().UnixMilli()})
}
