package gateway

import (
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/guardian-io/guardian/internal/store"
	"github.com/guardian-io/guardian/internal/types"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// parseFilter builds a store.Filter from query parameters: source,
// camera, channel (repeatable), channels (CSV), detector, severity,
// from/to (ISO-8601 or epoch ms), search, snapshot/faceSnapshot ∈
// {with,without}, limit.
func parseFilter(q url.Values) (store.Filter, error) {
	f := store.Filter{
		Source:   q.Get("source"),
		Camera:   q.Get("camera"),
		Detector: q.Get("detector"),
		Severity: q.Get("severity"),
		Search:   q.Get("search"),
	}

	var channels []string
	channels = append(channels, q["channel"]...)
	if csv := q.Get("channels"); csv != "" {
		channels = append(channels, strings.Split(csv, ",")...)
	}
	for i, c := range channels {
		channels[i] = strings.TrimSpace(c)
	}
	f.Channels = channels

	if from := q.Get("from"); from != "" {
		ms, err := parseTimeParam(from)
		if err != nil {
			return f, err
		}
		f.FromMs = ms
	}
	if to := q.Get("to"); to != "" {
		ms, err := parseTimeParam(to)
		if err != nil {
			return f, err
		}
		f.ToMs = ms
	}

	if v, err := parseWithParam(q.Get("snapshot")); err != nil {
		return f, err
	} else {
		f.WithSnapshot = v
	}
	if v, err := parseWithParam(q.Get("faceSnapshot")); err != nil {
		return f, err
	} else {
		f.WithFace = v
	}

	limit := defaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return f, errInvalidQuery("limit must be a positive integer")
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	f.Limit = limit

	return f, nil
}

type errInvalidQuery string

func (e errInvalidQuery) Error() string { return string(e) }

func parseTimeParam(raw string) (int64, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, errInvalidQuery("invalid time value: " + raw)
	}
	return t.UnixMilli(), nil
}

func parseWithParam(raw string) (*bool, error) {
	switch raw {
	case "":
		return nil, nil
	case "with":
		v := true
		return &v, nil
	case "without":
		v := false
		return &v, nil
	default:
		return nil, errInvalidQuery("must be 'with' or 'without': " + raw)
	}
}

// eventsResponse is the shape GET /api/events returns.
type eventsResponse struct {
	Items   []types.Event `json:"items"`
	Total   int           `json:"total"`
	Summary summary       `json:"summary"`
	Metrics any           `json:"metrics,omitempty"`
}

type summary struct {
	Detectors    map[string]int `json:"detectors"`
	Severities   map[string]int `json:"severities"`
	ByChannel    map[string]int `json:"byChannel"`
	PoseSummary  map[string]int `json:"poseSummary"`
}

func buildSummary(items []types.Event) summary {
	s := summary{
		Detectors:   map[string]int{},
		Severities:  map[string]int{},
		ByChannel:   map[string]int{},
		PoseSummary: map[string]int{},
	}
	for _, e := range items {
		s.Detectors[e.Detector]++
		s.Severities[string(e.Severity)]++
		if e.Meta.Channel != "" {
			s.ByChannel[e.Meta.Channel]++
		}
		if e.Meta.PoseThreatSummary != nil {
			for k := range e.Meta.PoseThreatSummary {
				s.PoseSummary[k]++
			}
		}
	}
	return s
}

// attachDerived populates the gateway-computed fields —
// snapshotUrl/faceSnapshotUrl/snapshotDiffUrl and resolvedChannels.
// These are never persisted, only attached on read.
func (s *Server) attachDerived(e *types.Event) {
	if e.Meta.Snapshot != "" {
		e.Meta.SnapshotURL = "/api/events/" + strconv.FormatInt(e.ID, 10) + "/snapshot"
	}
	if e.Meta.FaceSnapshot != "" {
		e.Meta.FaceSnapshotURL = "/api/events/" + strconv.FormatInt(e.ID, 10) + "/face-snapshot"
	}
	if e.Meta.Snapshot != "" {
		e.Meta.SnapshotDiffURL = "/api/events/" + strconv.FormatInt(e.ID, 10) + "/snapshot/diff"
	}
	if e.Meta.Channel != "" {
		e.Meta.ResolvedChannels = []string{types.NormalizeChannelID(e.Meta.Channel, "video")}
	}
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	s.listEvents(w, r, false)
}

func (s *Server) handleListSnapshotEvents(w http.ResponseWriter, r *http.Request) {
	s.listEvents(w, r, true)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request, snapshotOnly bool) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if snapshotOnly {
		v := true
		f.WithSnapshot = &v
	}

	items, total, err := s.store.List(r.Context(), f)
	if err != nil {
		s.logger.Warn("list events failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	for i := range items {
		s.attachDerived(&items[i])
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	resp := eventsResponse{
		Items:   items,
		Total:   total,
		Summary: buildSummary(items),
	}
	if s.metrics != nil {
		resp.Metrics = s.metrics.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	e, found, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to fetch event")
		return
	}
	if !found {
		writeJSONError(w, http.StatusNotFound, "event not found")
		return
	}
	s.attachDerived(&e)
	writeJSON(w, http.StatusOK, e)
}
