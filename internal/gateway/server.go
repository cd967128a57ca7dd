// SPDX-License-Identifier: MIT

// Package gateway implements Guardian's HTTP/SSE surface: filtered
// event listing, allow-listed snapshot retrieval with caching, a
// Server-Sent Events stream with resume-by-id, static dashboard
// asset serving, and read-only metrics/health endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/guardian-io/guardian/internal/metrics"
	"github.com/guardian-io/guardian/internal/store"
	"github.com/guardian-io/guardian/internal/types"
)

// EventLister is the subset of the store's contract the gateway reads
// from.
type EventLister interface {
	List(ctx context.Context, f store.Filter) ([]types.Event, int, error)
	Get(ctx context.Context, id int64) (types.Event, bool, error)
}

// EventBus is the subset of bus.Bus the gateway subscribes to for
// live streaming.
type EventBus interface {
	Subscribe(buffer int) (<-chan types.Event, func())
}

// FaceRegistry is an external collaborator for the face-recognition
// routes; the gateway only attaches threshold defaults and forwards.
type FaceRegistry interface {
	Search(ctx context.Context, channel, query string) ([]FaceMatch, error)
	Identify(ctx context.Context, req IdentifyRequest) (IdentifyResult, error)
	Enroll(ctx context.Context, req EnrollRequest) (EnrollResult, error)
	Delete(ctx context.Context, id string) error
}

// FaceMatch, IdentifyRequest/Result, and EnrollRequest/Result are
// deliberately opaque pass-through shapes: the gateway never
// interprets face embeddings, only forwards JSON.
type FaceMatch map[string]any
type IdentifyRequest map[string]any
type IdentifyResult map[string]any
type EnrollRequest map[string]any
type EnrollResult map[string]any

// Options configures a Server.
type Options struct {
	Store          EventLister
	Bus            EventBus
	Metrics        *metrics.Registry
	Faces          FaceRegistry // optional
	StaticDir      string       // optional; serves dashboard assets when set
	SnapshotDirs   []string     // allow-listed roots for snapshot/face-snapshot/diff routes
	SnapshotMaxAge time.Duration
	DefaultFaceThreshold float64
	RateLimitRPS   int // per-IP request rate limit; 0 disables
	Logger         *slog.Logger
}

// Server is Guardian's HTTP/SSE gateway.
type Server struct {
	store          EventLister
	bus            EventBus
	metrics        *metrics.Registry
	faces          FaceRegistry
	staticDir      string
	snapshotDirs   []string
	snapshotMaxAge time.Duration
	faceThreshold  float64
	logger         *slog.Logger

	mu      sync.Mutex
	clients map[*sseClient]struct{}

	router chi.Router
}

// New builds a Server and its chi router.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := opts.DefaultFaceThreshold
	if threshold == 0 {
		threshold = 0.6
	}

	s := &Server{
		store:          opts.Store,
		bus:            opts.Bus,
		metrics:        opts.Metrics,
		faces:          opts.Faces,
		staticDir:      opts.StaticDir,
		snapshotDirs:   opts.SnapshotDirs,
		snapshotMaxAge: opts.SnapshotMaxAge,
		faceThreshold:  threshold,
		logger:         logger,
		clients:        make(map[*sseClient]struct{}),
	}
	s.router = s.buildRouter(opts.RateLimitRPS)
	return s
}

// ServeHTTP lets Server be used directly as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ClientCount reports the number of currently-connected SSE clients,
// the observable the resume/disconnect tests assert against.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) buildRouter(rateLimitRPS int) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	if rateLimitRPS > 0 {
		r.Use(httprate.LimitByIP(rateLimitRPS, time.Second))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.metrics != nil {
		r.Get("/metrics", s.metrics.Handler().ServeHTTP)
	}

	r.Route("/api/events", func(er chi.Router) {
		er.Get("/", s.handleListEvents)
		er.Get("/snapshots", s.handleListSnapshotEvents)
		er.Get("/stream", s.handleStream)
		er.Get("/{id}", s.handleGetEvent)
		er.Get("/{id}/snapshot", s.handleSnapshot(kindSnapshot))
		er.Get("/{id}/face-snapshot", s.handleSnapshot(kindFaceSnapshot))
		er.Get("/{id}/snapshot/diff", s.handleSnapshotDiff)
	})

	r.Get("/api/metrics/pipelines", s.handleMetricsDigest)

	r.Get("/api/faces", s.handleFacesSearch)
	r.Post("/api/faces/identify", s.handleFacesIdentify)
	r.Post("/api/faces/enroll", s.handleFacesEnroll)
	r.Delete("/api/faces/{id}", s.handleFacesDelete)

	if s.staticDir != "" {
		s.mountStatic(r)
	}

	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "durationMs", time.Since(start).Milliseconds())
	})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
