package metrics

type logState struct {
	byLevel     map[string]int64
	histogram   map[string]int64
	lastLevel   string
}

// IncrementLogLevelOpts carries the optional message attached to a log
// level increment; the message itself is not retained in metrics, only
// counted.
type IncrementLogLevelOpts struct {
	Message string
}

// IncrementLogLevel records one emitted log line at the given level and
// updates the "last level logged" gauge family.
func (r *Registry) IncrementLogLevel(level string, _ IncrementLogLevelOpts) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logs.byLevel[level]++
	r.logs.histogram[level]++

	if r.logs.lastLevel != level {
		r.promLogLevelChangeTotal.WithLabelValues(level).Inc()
	}
	r.logs.lastLevel = level

	for lvl := range r.logs.byLevel {
		val := 0.0
		if lvl == level {
			val = 1.0
		}
		r.promLogLevelState.WithLabelValues(lvl).Set(val)
	}
	r.promLogLevelState.WithLabelValues(level).Set(1.0)

	r.promLogLevelTotal.WithLabelValues(level).Inc()
}
