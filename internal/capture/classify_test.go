package capture

import "testing"

func TestClassifyStderrLinePriorityOrder(t *testing.T) {
	cases := []struct {
		line string
		want FailureClass
	}{
		{"RTSP/1.0 401 Unauthorized", ClassRTSPAuthFailure},
		{"method DESCRIBE failed: 403 Forbidden", ClassRTSPAuthFailure},
		{"method DESCRIBE failed: 404 Not Found", ClassRTSPNotFound},
		{"454 Session Not Found", ClassRTSPNotFound},
		{"method DESCRIBE failed: timed out", ClassRTSPTimeout},
		{"Read timeout occurred", ClassRTSPTimeout},
		{"Connection timed out", ClassRTSPTimeout},
		{"connection refused", ClassRTSPConnectionFailure},
		{"network is unreachable", ClassRTSPConnectionFailure},
		{"some unrelated informational line", ""},
	}
	for _, c := range cases {
		if got := ClassifyStderrLine(c.line); got != c.want {
			t.Errorf("ClassifyStderrLine(%q) = %q, want %q", c.line, got, c.want)
		}
	}
}

func TestClassifySpawnError(t *testing.T) {
	if got := ClassifySpawnError(nil); got != "" {
		t.Errorf("ClassifySpawnError(nil) = %q, want empty", got)
	}
}

func TestAdvancesTransport(t *testing.T) {
	if !ClassRTSPTimeout.AdvancesTransport() {
		t.Error("rtsp-timeout should advance transport")
	}
	if !ClassRTSPConnectionFailure.AdvancesTransport() {
		t.Error("rtsp-connection-failure should advance transport")
	}
	if ClassRTSPAuthFailure.AdvancesTransport() {
		t.Error("rtsp-auth-failure should not advance transport")
	}
	if ClassRTSPNotFound.AdvancesTransport() {
		t.Error("rtsp-not-found should not advance transport")
	}
}

func TestClassDedupFirstOccurrenceOnly(t *testing.T) {
	d := newClassDedup()
	if !d.FirstOccurrence(ClassRTSPTimeout) {
		t.Fatal("expected first occurrence to report true")
	}
	if d.FirstOccurrence(ClassRTSPTimeout) {
		t.Fatal("expected repeated occurrence within lifecycle to report false")
	}
	d.reset()
	if !d.FirstOccurrence(ClassRTSPTimeout) {
		t.Fatal("expected first occurrence after reset to report true again")
	}
}
