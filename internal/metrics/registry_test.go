package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordPipelineRestartBuckets(t *testing.T) {
	r := NewRegistry()

	r.RecordPipelineRestart("ffmpeg", "rtsp-timeout", RestartOpts{
		Channel: "video:lobby", DelayMs: 30, Attempt: 1, JitterMs: 0,
	})
	r.RecordPipelineRestart("ffmpeg", "rtsp-timeout", RestartOpts{
		Channel: "video:lobby", DelayMs: 90, Attempt: 2, JitterMs: 30,
	})

	snap := r.Snapshot()
	ks := snap.Pipelines["ffmpeg"]
	require.EqualValues(t, 2, ks.Restarts)
	cs := ks.ByChannel["video:lobby"]
	require.EqualValues(t, 2, cs.Restarts)
	require.EqualValues(t, 2, cs.ByReason["rtsp-timeout"])
	require.EqualValues(t, 1, cs.DelayHistogram["25-50"])
	require.EqualValues(t, 1, cs.DelayHistogram["50-100"])
	require.EqualValues(t, 1, cs.AttemptHistogram["1"])
	require.EqualValues(t, 1, cs.AttemptHistogram["2"])
	require.Equal(t, "rtsp-timeout", cs.LastRestart.Reason)
}

func TestResetClearsState(t *testing.T) {
	r := NewRegistry()
	r.RecordPipelineRestart("ffmpeg", "stream-idle", RestartOpts{Channel: "video:a", Attempt: 1})
	r.IncrementLogLevel("warn", IncrementLogLevelOpts{})
	r.Reset()

	snap := r.Snapshot()
	require.Empty(t, snap.Pipelines)
	require.Empty(t, snap.Logs.ByLevel)
}

func TestPrometheusHandlerServesFamilies(t *testing.T) {
	r := NewRegistry()
	r.IncrementLogLevel("info", IncrementLogLevelOpts{})

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "guardian_log_level_total")
}

func TestRetentionRunAggregatesPerCamera(t *testing.T) {
	r := NewRegistry()
	r.RecordRetentionRun(RetentionRunResult{
		RemovedEvents:     5,
		ArchivedSnapshots: 3,
		DiskSavingsBytes:  1024,
		PerCamera: map[string]CameraRunResult{
			"lobby": {ArchivedSnapshots: 3},
		},
	})

	snap := r.Snapshot()
	require.EqualValues(t, 1, snap.Retention.Runs)
	require.EqualValues(t, 5, snap.Retention.Totals.RemovedEvents)
	require.EqualValues(t, 3, snap.Retention.TotalsByCamera["lobby"].ArchivedSnapshots)
}
