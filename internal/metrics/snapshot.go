package metrics

// Snapshot is a read-only structural view of the Registry, shaped for
// direct JSON emission to the SSE metrics digest and GET /api/metrics/pipelines.
type Snapshot struct {
	Pipelines map[string]PipelineKindSnapshot `json:"pipelines"`
	Logs      LogsSnapshot                    `json:"logs"`
	Latencies map[string]LatencySnapshot      `json:"latencies"`
	Detectors map[string]DetectorSnapshot     `json:"detectors"`
	Retention RetentionSnapshot               `json:"retention"`
}

// PipelineKindSnapshot is the per-kind ("ffmpeg"/"audio") view.
type PipelineKindSnapshot struct {
	Restarts          int64                           `json:"restarts"`
	LastRestartAt     int64                           `json:"lastRestartAt,omitempty"`
	LastRestart       *RestartDescriptor              `json:"lastRestart,omitempty"`
	ByReason          map[string]int64                `json:"byReason"`
	ByChannel         map[string]ChannelSnapshot       `json:"byChannel"`
	TransportFallback TransportFallbackSnapshot        `json:"transportFallbacks"`
	Timers            map[string]map[string]int64      `json:"timers"`
}

// ChannelSnapshot is the per-channel view within a pipeline kind.
type ChannelSnapshot struct {
	Restarts           int64              `json:"restarts"`
	ByReason           map[string]int64   `json:"byReason"`
	LastRestart        *RestartDescriptor `json:"lastRestart,omitempty"`
	LastRestartAt      int64              `json:"lastRestartAt,omitempty"`
	WatchdogBackoffMs  int64              `json:"watchdogBackoffMs"`
	LastWatchdogJitter int64              `json:"lastWatchdogJitterMs"`
	RestartHistory     []RestartDescriptor `json:"restartHistory"`
	HistoryLimit       int                `json:"historyLimit"`
	DelayHistogram     map[string]int64   `json:"delayHistogram"`
	AttemptHistogram   map[string]int64   `json:"attemptHistogram"`
	Health             ChannelHealth      `json:"health"`
}

// TransportFallbackSnapshot is the per-kind transport fallback totals.
type TransportFallbackSnapshot struct {
	Total     int64                              `json:"total"`
	ByChannel map[string]ChannelTransportSnapshot `json:"byChannel"`
	Last      *TransportFallbackEvent             `json:"last,omitempty"`
}

// ChannelTransportSnapshot is the per-channel transport fallback total.
type ChannelTransportSnapshot struct {
	Total int64                    `json:"total"`
	Last  *TransportFallbackEvent  `json:"last,omitempty"`
}

// LogsSnapshot mirrors the logs side of the registry.
type LogsSnapshot struct {
	ByLevel   map[string]int64 `json:"byLevel"`
	Histogram map[string]int64 `json:"histogram"`
}

// LatencySnapshot is a simple count+sum pair; callers divide for an average.
type LatencySnapshot struct {
	Count int64   `json:"count"`
	SumMs float64 `json:"sumMs"`
}

// DetectorSnapshot holds a detector's named counters and latency.
type DetectorSnapshot struct {
	Counters map[string]int64 `json:"counters"`
	Latency  LatencySnapshot  `json:"latency"`
}

// RetentionSnapshot mirrors the retention side of the registry.
type RetentionSnapshot struct {
	Runs             int64                      `json:"runs"`
	LastRunAt        int64                      `json:"lastRunAt,omitempty"`
	Warnings         int64                      `json:"warnings"`
	WarningsByCamera map[string]int64           `json:"warningsByCamera"`
	LastWarning      *RetentionWarning          `json:"lastWarning,omitempty"`
	Totals           retentionTotalsSnapshot    `json:"totals"`
	TotalsByCamera   map[string]cameraTotals    `json:"totalsByCamera"`
}

type retentionTotalsSnapshot struct {
	RemovedEvents     int64 `json:"removedEvents"`
	ArchivedSnapshots int64 `json:"archivedSnapshots"`
	PrunedArchives    int64 `json:"prunedArchives"`
	DiskSavingsBytes  int64 `json:"diskSavingsBytes"`
}

// Snapshot returns a copy of the registry's current state. Maps and
// slices are copied; pointer-valued fields (LastRestart, Last,
// LastWarning) still point at the registry's own values.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := Snapshot{
		Pipelines: make(map[string]PipelineKindSnapshot, len(r.pipelines)),
		Logs: LogsSnapshot{
			ByLevel:   copyInt64Map(r.logs.byLevel),
			Histogram: copyInt64Map(r.logs.histogram),
		},
		Latencies: make(map[string]LatencySnapshot, len(r.latencies)),
		Detectors: make(map[string]DetectorSnapshot, len(r.detectors)),
		Retention: RetentionSnapshot{
			Runs:             r.retention.runs,
			LastRunAt:        r.retention.lastRunAt,
			Warnings:         r.retention.warnings,
			WarningsByCamera: copyInt64Map(r.retention.warningsByCamera),
			LastWarning:      r.retention.lastWarning,
			Totals: retentionTotalsSnapshot{
				RemovedEvents:     r.retention.totals.RemovedEvents,
				ArchivedSnapshots: r.retention.totals.ArchivedSnapshots,
				PrunedArchives:    r.retention.totals.PrunedArchives,
				DiskSavingsBytes:  r.retention.totals.DiskSavingsBytes,
			},
			TotalsByCamera: make(map[string]cameraTotals, len(r.retention.totalsByCamera)),
		},
	}

	for camera, t := range r.retention.totalsByCamera {
		out.Retention.TotalsByCamera[camera] = t
	}

	for kind, ks := range r.pipelines {
		pks := PipelineKindSnapshot{
			Restarts:      ks.restarts,
			LastRestartAt: ks.lastRestartAt,
			LastRestart:   ks.lastRestart,
			ByReason:      copyInt64Map(ks.byReason),
			ByChannel:     make(map[string]ChannelSnapshot, len(ks.byChannel)),
			TransportFallback: TransportFallbackSnapshot{
				Total:     ks.transportFallback.total,
				ByChannel: make(map[string]ChannelTransportSnapshot, len(ks.transportFallback.byChannel)),
				Last:      ks.transportFallback.last,
			},
			Timers: make(map[string]map[string]int64, len(ks.timersByChannel)),
		}

		for ch, cts := range ks.transportFallback.byChannel {
			pks.TransportFallback.ByChannel[ch] = ChannelTransportSnapshot{Total: cts.total, Last: cts.last}
		}
		for ch, timers := range ks.timersByChannel {
			pks.Timers[ch] = copyInt64Map(timers)
		}

		for ch, cs := range ks.byChannel {
			history := make([]RestartDescriptor, len(cs.restartHistory))
			copy(history, cs.restartHistory)
			pks.ByChannel[ch] = ChannelSnapshot{
				Restarts:           cs.restarts,
				ByReason:           copyInt64Map(cs.byReason),
				LastRestart:        cs.lastRestart,
				LastRestartAt:      cs.lastRestartAt,
				WatchdogBackoffMs:  cs.watchdogBackoffMs,
				LastWatchdogJitter: cs.lastWatchdogJitter,
				RestartHistory:     history,
				HistoryLimit:       RestartHistoryLimit,
				DelayHistogram:     copyInt64Map(cs.delayHistogram),
				AttemptHistogram:   copyInt64Map(cs.attemptHistogram),
				Health:             cs.health,
			}
		}

		out.Pipelines[kind] = pks
	}

	for name, lat := range r.latencies {
		out.Latencies[name] = LatencySnapshot{Count: lat.count, SumMs: lat.sumMs}
	}
	for name, d := range r.detectors {
		out.Detectors[name] = DetectorSnapshot{
			Counters: copyInt64Map(d.counters),
			Latency:  LatencySnapshot{Count: d.latency.count, SumMs: d.latency.sumMs},
		}
	}

	return out
}

func copyInt64Map(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
