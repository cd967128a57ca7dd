package capture

import "strings"

// FailureClass identifies why a capture subprocess needs to restart.
type FailureClass string

const (
	ClassFFmpegMissing        FailureClass = "ffmpeg-missing"
	ClassRTSPAuthFailure      FailureClass = "rtsp-auth-failure"
	ClassRTSPNotFound         FailureClass = "rtsp-not-found"
	ClassRTSPTimeout          FailureClass = "rtsp-timeout"
	ClassRTSPConnectionFailure FailureClass = "rtsp-connection-failure"
	ClassCorruptedFrame       FailureClass = "corrupted-frame"
	ClassStreamError          FailureClass = "stream-error"
	ClassFFmpegError          FailureClass = "ffmpeg-error"
	ClassFFmpegExit           FailureClass = "ffmpeg-exit"
	ClassForceKill            FailureClass = "force-kill"
)

// classifierEntry pairs a failure class with the substrings that
// identify it in a stderr line. Order is priority: the first class
// whose any substring matches wins.
type classifierEntry struct {
	class      FailureClass
	substrings []string
}

var stderrClassifiers = []classifierEntry{
	{ClassRTSPAuthFailure, []string{"401", "403 Forbidden"}},
	{ClassRTSPNotFound, []string{"404", "454 Session Not Found"}},
	{ClassRTSPTimeout, []string{"DESCRIBE failed: timed out", "Read timeout", "Connection timed out"}},
	{ClassRTSPConnectionFailure, []string{"connection refused", "network is unreachable"}},
}

// ClassifyStderrLine returns the failure class matched by a single
// stderr line, in priority order, or "" if none match. ENOENT-on-spawn
// is classified separately by ClassifySpawnError, and corrupted-frame/
// stream-error/ffmpeg-error/ffmpeg-exit/force-kill are classified by
// their own call sites (internal events, not stderr text).
func ClassifyStderrLine(line string) FailureClass {
	for _, entry := range stderrClassifiers {
		for _, sub := range entry.substrings {
			if strings.Contains(line, sub) {
				return entry.class
			}
		}
	}
	return ""
}

// ClassifySpawnError classifies a failure to even start the subprocess.
func ClassifySpawnError(err error) FailureClass {
	if err == nil {
		return ""
	}
	if strings.Contains(err.Error(), "no such file or directory") || strings.Contains(err.Error(), "executable file not found") {
		return ClassFFmpegMissing
	}
	return ClassFFmpegError
}

// AdvancesTransport reports whether a failure class should advance the
// RTSP transport fallback sequence. Only network-class failures
// advance it; auth and not-found failures do not, since switching
// transport cannot fix a credentials or path problem.
func (c FailureClass) AdvancesTransport() bool {
	return c == ClassRTSPTimeout || c == ClassRTSPConnectionFailure
}

// classDedup tracks which failure classes have already triggered a recovery
// within the lifecycle of one subprocess attempt; a repeated match of
// the same class within one lifecycle is deduplicated.
type classDedup struct {
	seen map[FailureClass]bool
}

func newClassDedup() *classDedup {
	return &classDedup{seen: make(map[FailureClass]bool)}
}

// FirstOccurrence reports true (and marks seen) the first time a class
// is observed; subsequent calls for the same class return false.
func (d *classDedup) FirstOccurrence(class FailureClass) bool {
	if d.seen[class] {
		return false
	}
	d.seen[class] = true
	return true
}

func (d *classDedup) reset() {
	d.seen = make(map[FailureClass]bool)
}
