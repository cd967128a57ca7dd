// Package metrics implements Guardian's metrics registry: a
// mutex-protected set of counters and histograms that feeds both a
// Prometheus exposition endpoint and the SSE metrics digest. There is
// exactly one Registry per process; it is constructed explicitly and
// passed to every component that records metrics, never reached via a
// package-level global, so tests can construct an isolated Registry
// and reset it between cases without touching shared state.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the single source of truth for Guardian's operational
// metrics. All mutating methods are safe for concurrent use.
type Registry struct {
	mu sync.Mutex

	reg *prometheus.Registry

	// Prometheus families (registered once, in NewRegistry).
	promLogLevelTotal       *prometheus.CounterVec
	promLogLevelChangeTotal *prometheus.CounterVec
	promLogLevelState       *prometheus.GaugeVec
	promRestartJitterMs     *prometheus.HistogramVec
	promTransportFallback   *prometheus.CounterVec
	promRetentionDiskSaved  prometheus.Counter
	promDetectorCounter     *prometheus.CounterVec

	// In-memory structural state. Some mutators also update the
	// Prometheus families above; detector latency, channel health,
	// channel timers and retention warnings are kept here only.
	pipelines map[string]*pipelineKindState // key: "ffmpeg" | "audio"
	logs      logState
	latencies map[string]*latencyState
	detectors map[string]*detectorState
	retention retentionState
}

// NewRegistry creates a Registry with its own private Prometheus
// registry (never the global DefaultRegisterer), so multiple independent
// Registries — one per test case — never collide on family names.
func NewRegistry() *Registry {
	r := &Registry{
		reg:       prometheus.NewRegistry(),
		pipelines: make(map[string]*pipelineKindState),
		latencies: make(map[string]*latencyState),
		detectors: make(map[string]*detectorState),
	}
	r.logs.byLevel = make(map[string]int64)
	r.logs.histogram = make(map[string]int64)
	r.retention.warningsByCamera = make(map[string]int64)
	r.retention.totalsByCamera = make(map[string]cameraTotals)

	r.promLogLevelTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_log_level_total",
		Help: "Total log lines emitted, by level.",
	}, []string{"level"})
	r.promLogLevelChangeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_log_level_change_total",
		Help: "Total transitions of the active log level, by level transitioned to.",
	}, []string{"level"})
	r.promLogLevelState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "guardian_log_level_state",
		Help: "1 if this level is the last level logged, 0 otherwise.",
	}, []string{"level"})
	r.promRestartJitterMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guardian_ffmpeg_restart_jitter_ms",
		Help:    "Applied restart jitter in milliseconds, by pipeline kind and channel.",
		Buckets: []float64{-500, -250, -100, -25, 0, 25, 100, 250, 500, 1000},
	}, []string{"kind", "channel"})
	r.promTransportFallback = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_transport_fallback_total",
		Help: "Total RTSP transport fallback advances, by channel and reason.",
	}, []string{"channel", "reason"})
	r.promRetentionDiskSaved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "guardian_retention_disk_savings_bytes_total",
		Help: "Cumulative disk space reclaimed by the retention engine, in bytes.",
	})
	r.promDetectorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_detector_counter_total",
		Help: "Generic detector counters, by detector name and counter key.",
	}, []string{"detector", "key"})

	r.reg.MustRegister(
		r.promLogLevelTotal,
		r.promLogLevelChangeTotal,
		r.promLogLevelState,
		r.promRestartJitterMs,
		r.promTransportFallback,
		r.promRetentionDiskSaved,
		r.promDetectorCounter,
	)

	return r
}

// Gatherer exposes the private Prometheus registry for scraping.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Reset clears all counter and histogram state. Intended for use between
// test cases that each want a clean registry without sharing process-wide
// state.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pipelines = make(map[string]*pipelineKindState)
	r.logs = logState{byLevel: make(map[string]int64), histogram: make(map[string]int64)}
	r.latencies = make(map[string]*latencyState)
	r.detectors = make(map[string]*detectorState)
	r.retention = retentionState{
		warningsByCamera: make(map[string]int64),
		totalsByCamera:   make(map[string]cameraTotals),
	}

	r.reg.Unregister(r.promLogLevelTotal)
	r.reg.Unregister(r.promLogLevelChangeTotal)
	r.reg.Unregister(r.promLogLevelState)
	r.reg.Unregister(r.promRestartJitterMs)
	r.reg.Unregister(r.promTransportFallback)
	r.reg.Unregister(r.promRetentionDiskSaved)
	r.reg.Unregister(r.promDetectorCounter)

	fresh := NewRegistry()
	r.reg = fresh.reg
	r.promLogLevelTotal = fresh.promLogLevelTotal
	r.promLogLevelChangeTotal = fresh.promLogLevelChangeTotal
	r.promLogLevelState = fresh.promLogLevelState
	r.promRestartJitterMs = fresh.promRestartJitterMs
	r.promTransportFallback = fresh.promTransportFallback
	r.promRetentionDiskSaved = fresh.promRetentionDiskSaved
	r.promDetectorCounter = fresh.promDetectorCounter
}

func nowMs() int64 { return time.Now().UnixMilli() }
