package metrics

// RetentionWarning records one per-file or per-run retention warning
// (cross-device move failure, vacuum failure, rename failure).
type RetentionWarning struct {
	Camera string `json:"camera,omitempty"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
	At     int64  `json:"at"`
}

type cameraTotals struct {
	ArchivedSnapshots int64
	PrunedArchives    int64
}

type retentionTotals struct {
	RemovedEvents     int64
	ArchivedSnapshots int64
	PrunedArchives    int64
	DiskSavingsBytes  int64
}

type retentionState struct {
	runs             int64
	lastRunAt        int64
	warnings         int64
	warningsByCamera map[string]int64
	lastWarning      *RetentionWarning
	totals           retentionTotals
	totalsByCamera   map[string]cameraTotals
}

// RetentionRunResult is the summary of a single retention run.
type RetentionRunResult struct {
	RemovedEvents     int64
	ArchivedSnapshots int64
	PrunedArchives    int64
	DiskSavingsBytes  int64
	PerCamera         map[string]CameraRunResult
}

// CameraRunResult is the per-camera slice of a RetentionRunResult.
type CameraRunResult struct {
	ArchivedSnapshots int64
	PrunedArchives    int64
}

// RecordRetentionRun folds one completed run's results into the
// cumulative totals.
func (r *Registry) RecordRetentionRun(result RetentionRunResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.retention.runs++
	r.retention.lastRunAt = nowMs()
	r.retention.totals.RemovedEvents += result.RemovedEvents
	r.retention.totals.ArchivedSnapshots += result.ArchivedSnapshots
	r.retention.totals.PrunedArchives += result.PrunedArchives
	r.retention.totals.DiskSavingsBytes += result.DiskSavingsBytes

	for camera, sub := range result.PerCamera {
		agg := r.retention.totalsByCamera[camera]
		agg.ArchivedSnapshots += sub.ArchivedSnapshots
		agg.PrunedArchives += sub.PrunedArchives
		r.retention.totalsByCamera[camera] = agg
	}

	if result.DiskSavingsBytes > 0 {
		r.promRetentionDiskSaved.Add(float64(result.DiskSavingsBytes))
	}
}

// RecordRetentionWarning records one warning surfaced during a run
// (e.g. a failed archive move, or a failed vacuum).
func (r *Registry) RecordRetentionWarning(w RetentionWarning) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w.At = nowMs()
	r.retention.warnings++
	if w.Camera != "" {
		r.retention.warningsByCamera[w.Camera]++
	}
	r.retention.lastWarning = &w
}
