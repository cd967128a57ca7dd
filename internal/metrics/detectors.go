package metrics

type latencyState struct {
	count int64
	sumMs float64
}

type detectorState struct {
	counters map[string]int64
	latency  latencyState
}

func newDetectorState() *detectorState {
	return &detectorState{counters: make(map[string]int64)}
}

func (r *Registry) detector(name string) *detectorState {
	d, ok := r.detectors[name]
	if !ok {
		d = newDetectorState()
		r.detectors[name] = d
	}
	return d
}

// ObserveDetectorLatency records one latency sample (milliseconds) for a
// named detector, both under the flat "latencies" map and the detector's
// own nested latency view.
func (r *Registry) ObserveDetectorLatency(detectorName string, ms float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lat, ok := r.latencies[detectorName]
	if !ok {
		lat = &latencyState{}
		r.latencies[detectorName] = lat
	}
	lat.count++
	lat.sumMs += ms

	d := r.detector(detectorName)
	d.latency.count++
	d.latency.sumMs += ms
}

// IncrementDetectorCounter bumps a named counter under a detector by n.
func (r *Registry) IncrementDetectorCounter(detectorName, key string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.detector(detectorName)
	d.counters[key] += n

	r.promDetectorCounter.WithLabelValues(detectorName, key).Add(float64(n))
}
