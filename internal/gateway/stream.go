package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/guardian-io/guardian/internal/store"
	"github.com/guardian-io/guardian/internal/types"
)

const (
	heartbeatInterval   = 15 * time.Second
	retryHintInterval   = 30 * time.Second
	metricsPollInterval = 10 * time.Second
	maxBacklogBytes     = 256 * 1024
)

// sseClient is one connected SSE subscriber: a filter predicate, the
// event channel it reads from, and the metrics-digest subset it
// wants. The event channel is bounded (64 events); when it is full the
// incoming event is dropped for this client, which stays connected,
// rather than stalling the bus fan-out.
type sseClient struct {
	filter      store.Filter
	metricsWant map[string]bool // nil means "all"
	events      chan types.Event
}

func (c *sseClient) matches(e types.Event) bool {
	f := c.filter
	if f.Source != "" && f.Source != e.Source {
		return false
	}
	if f.Detector != "" && f.Detector != e.Detector {
		return false
	}
	if f.Severity != "" && f.Severity != string(e.Severity) {
		return false
	}
	if f.Camera != "" && f.Camera != e.Meta.Camera {
		return false
	}
	if len(f.Channels) > 0 {
		match := false
		for _, want := range f.Channels {
			if types.ChannelIDEqual(want, e.Meta.Channel, "video") {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

func parseMetricsWant(raw string) map[string]bool {
	if raw == "" || raw == "all" {
		return nil
	}
	if raw == "none" {
		return map[string]bool{}
	}
	want := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "all" {
			return nil
		}
		want[part] = true
	}
	return want
}

func clampRetryMs(q url.Values) int {
	if ms := q.Get("retryMs"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil {
			return clampInt(n, 1000, 60000)
		}
	}
	if secs := q.Get("retry"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil {
			return clampInt(n*1000, 1000, 60000)
		}
	}
	return 3000
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func writeSSEEvent(w http.ResponseWriter, event string, id int64, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if id > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

// handleStream implements GET /api/events/stream: connect handshake
// (retry line, stream-status), optional backlog resume/snapshot
// prefill, then a live loop fanning bus events, heartbeats, metrics
// digests, and retry hints to the client until it disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	q := r.URL.Query()
	filter, err := parseFilter(q)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	retryMs := clampRetryMs(q)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "retry: %d\n\n", retryMs)
	flusher.Flush()
	_ = writeSSEEvent(w, "stream-status", 0, map[string]any{"status": "connected", "retryMs": retryMs})
	flusher.Flush()

	if s.metrics != nil {
		_ = writeSSEEvent(w, "metrics", 0, s.filteredMetrics(parseMetricsWant(q.Get("metrics"))))
		flusher.Flush()
	}

	if q.Get("faces") == "1" || q.Get("search") != "" {
		if s.faces != nil {
			if matches, err := s.faces.Search(r.Context(), q.Get("channel"), q.Get("search")); err == nil {
				_ = writeSSEEvent(w, "faces", 0, map[string]any{
					"faces": matches, "count": len(matches), "query": q.Get("search"), "threshold": s.faceThreshold,
				})
				flusher.Flush()
			}
		}
	}

	client := &sseClient{filter: filter, metricsWant: parseMetricsWant(q.Get("metrics")), events: make(chan types.Event, 64)}

	if q.Get("backlog") == "1" {
		if lastID, err := strconv.ParseInt(q.Get("lastEventId"), 10, 64); err == nil && lastID > 0 {
			backlogFilter := filter
			backlogFilter.MinID = lastID
			backlogFilter.Limit = maxListLimit
			items, _, err := s.store.List(r.Context(), backlogFilter)
			if err == nil {
				for i := range items {
					s.attachDerived(&items[i])
					if err := writeSSEEvent(w, "message", items[i].ID, items[i]); err != nil {
						return
					}
					flusher.Flush()
				}
			}
		}
	}

	if q.Get("snapshots") == "1" {
		limit := 10
		if n, err := strconv.Atoi(q.Get("snapshotLimit")); err == nil && n > 0 {
			limit = n
		}
		snapFilter := filter
		withSnapshot := true
		snapFilter.WithSnapshot = &withSnapshot
		snapFilter.Limit = limit
		items, _, err := s.store.List(r.Context(), snapFilter)
		if err == nil {
			for i := range items {
				s.attachDerived(&items[i])
				if err := writeSSEEvent(w, "message", items[i].ID, items[i]); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}

	var cancel func()
	if s.bus != nil {
		var ch <-chan types.Event
		ch, cancel = s.bus.Subscribe(64)
		go func() {
			for e := range ch {
				select {
				case client.events <- e:
				default:
					// backlog overflow: drop the incoming event for this
					// client rather than block the bus fan-out.
				}
			}
		}()
	}
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		if cancel != nil {
			cancel()
		}
	}()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	retryHint := time.NewTicker(retryHintInterval)
	defer retryHint.Stop()

	var metricsPoll *time.Ticker
	var lastMetrics string
	if s.metrics != nil {
		if b, err := json.Marshal(s.filteredMetrics(client.metricsWant)); err == nil {
			lastMetrics = string(b)
		}
		metricsPoll = time.NewTicker(metricsPollInterval)
		defer metricsPoll.Stop()
	}
	var metricsPollC <-chan time.Time
	if metricsPoll != nil {
		metricsPollC = metricsPoll.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-client.events:
			if !ok {
				return
			}
			if !client.matches(e) {
				continue
			}
			s.attachDerived(&e)
			if err := writeSSEEvent(w, "message", e.ID, e); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if err := writeSSEEvent(w, "heartbeat", 0, map[string]int64{"ts": time.Now().UnixMilli()}); err != nil {
				return
			}
			flusher.Flush()
		case <-retryHint.C:
			base := int64(retryMs)
			hint := map[string]int64{"baseMs": base, "minMs": 1000, "maxMs": 60000, "recommendedMs": base}
			if err := writeSSEEvent(w, "retry-hint", 0, hint); err != nil {
				return
			}
			flusher.Flush()
		case <-metricsPollC:
			digest := s.filteredMetrics(client.metricsWant)
			b, err := json.Marshal(digest)
			if err != nil {
				continue
			}
			if string(b) == lastMetrics {
				continue
			}
			lastMetrics = string(b)
			if err := writeSSEEvent(w, "metrics", 0, digest); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) registerClient(c *sseClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) unregisterClient(c *sseClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

// filteredMetrics narrows a metrics snapshot to the families named in
// want (nil means everything).
func (s *Server) filteredMetrics(want map[string]bool) any {
	snap := s.metrics.Snapshot()
	if want == nil {
		return snap
	}
	out := map[string]any{}
	if want["events"] || want["all"] {
		out["detectors"] = snap.Detectors
	}
	if want["pipelines"] {
		out["pipelines"] = snap.Pipelines
	}
	if want["audio"] {
		out["audio"] = snap.Pipelines["audio"]
	}
	if want["retention"] {
		out["retention"] = snap.Retention
	}
	return out
}
