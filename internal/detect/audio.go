package detect

import (
	"math"
	"sync"
)

// AudioThresholds is one profile (day or night) of trigger
// sensitivity.
type AudioThresholds struct {
	RMS           float64
	CentroidJump  float64
}

// AudioOptions configures the audio anomaly detector's windowing,
// baselines, and day/night blending.
type AudioOptions struct {
	SampleRate           int
	FrameSize            int
	HopSize              int
	BaselineSmoothing    float64 // EMA alpha
	MinTriggerDurationMs int64
	MinIntervalMs        int64
	DayThresholds        AudioThresholds
	NightThresholds      AudioThresholds
	NightHours           [2]int // [startHour, endHour), wraps past midnight if start > end
	BlendMinutes         int
}

// DefaultAudioOptions returns a reasonable starting profile.
func DefaultAudioOptions() AudioOptions {
	return AudioOptions{
		SampleRate:           16000,
		FrameSize:            1024,
		HopSize:              512,
		BaselineSmoothing:    0.1,
		MinTriggerDurationMs: 500,
		MinIntervalMs:        2000,
		DayThresholds:        AudioThresholds{RMS: 0.08, CentroidJump: 400},
		NightThresholds:      AudioThresholds{RMS: 0.04, CentroidJump: 200},
		NightHours:           [2]int{22, 6},
		BlendMinutes:         30,
	}
}

func (o AudioOptions) hopDurationMs() int64 {
	if o.SampleRate <= 0 {
		return 0
	}
	return int64(float64(o.HopSize) / float64(o.SampleRate) * 1000)
}

// AudioEvent is emitted when accumulated triggered duration crosses
// minTriggerDurationMs and minIntervalMs has elapsed since the last.
type AudioEvent struct {
	TsMs          int64
	RMS           float64
	Centroid      float64
	TriggerReason string // "rms" or "centroid"
}

// AudioAnomalyDetector maintains a rolling int16 PCM buffer, EMA
// baselines for RMS and spectral centroid, and triggered-duration
// accumulators, mirroring the rolling-buffer + threshold +
// triggered-hop accounting shape of a resource monitor's
// metrics-map + thresholds + CheckThresholds split, applied here to
// audio features instead of process resources.
type AudioAnomalyDetector struct {
	mu   sync.Mutex
	opts AudioOptions

	fifo []int16

	baselineRMS      float64
	baselineCentroid float64
	baselineInit     bool

	rmsDurationMs      int64
	centroidDurationMs int64
	lastEventMs        int64
	hopIndex           int64
}

// NewAudioAnomalyDetector builds a detector with the given options.
func NewAudioAnomalyDetector(opts AudioOptions) *AudioAnomalyDetector {
	return &AudioAnomalyDetector{opts: opts}
}

// UpdateOptions applies new window geometry, truncating the existing
// FIFO to the new frame size and resetting accumulators, since a
// window-size change invalidates in-flight accumulation.
func (d *AudioAnomalyDetector) UpdateOptions(opts AudioOptions) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sizeChanged := opts.FrameSize != d.opts.FrameSize || opts.HopSize != d.opts.HopSize
	d.opts = opts
	if sizeChanged {
		if len(d.fifo) > opts.FrameSize {
			d.fifo = d.fifo[len(d.fifo)-opts.FrameSize:]
		}
		d.rmsDurationMs = 0
		d.centroidDurationMs = 0
	}
}

// PushSamples appends int16 PCM samples to the rolling buffer, and
// returns every AudioEvent produced by the hops processed during this
// call.
func (d *AudioAnomalyDetector) PushSamples(samples []int16, tsMs int64) []AudioEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.fifo = append(d.fifo, samples...)

	var events []AudioEvent
	for len(d.fifo) >= d.opts.FrameSize {
		frame := d.fifo[:d.opts.FrameSize]
		hopTs := tsMs + d.hopIndex*d.opts.hopDurationMs()
		if ev, ok := d.processHop(frame, hopTs); ok {
			events = append(events, ev)
		}
		d.hopIndex++

		if d.opts.HopSize >= len(d.fifo) {
			d.fifo = d.fifo[:0]
		} else {
			d.fifo = d.fifo[d.opts.HopSize:]
		}
	}
	return events
}

// processHop computes RMS/centroid for one Hanning-windowed frame,
// updates baselines and accumulators, and reports a trigger event
// when thresholds and timing conditions are satisfied. Caller holds
// d.mu.
func (d *AudioAnomalyDetector) processHop(frame []int16, tsMs int64) (AudioEvent, bool) {
	windowed := applyHanning(frame)
	rms := computeRMS(windowed)
	centroid := computeSpectralCentroid(windowed, d.opts.SampleRate)

	if !d.baselineInit {
		d.baselineRMS = rms
		d.baselineCentroid = centroid
		d.baselineInit = true
	}

	thresholds := d.effectiveThresholds(tsMs)

	rmsTriggered := (rms - d.baselineRMS) >= thresholds.RMS
	centroidTriggered := math.Abs(centroid-d.baselineCentroid) >= thresholds.CentroidJump

	hopMs := d.opts.hopDurationMs()
	reason := ""
	if rmsTriggered {
		d.rmsDurationMs += hopMs
		reason = "rms"
	} else if d.rmsDurationMs > 0 {
		d.rmsDurationMs -= hopMs
		if d.rmsDurationMs < 0 {
			d.rmsDurationMs = 0
		}
	}
	if centroidTriggered {
		d.centroidDurationMs += hopMs
		if reason == "" {
			reason = "centroid"
		}
	} else if d.centroidDurationMs > 0 {
		d.centroidDurationMs -= hopMs
		if d.centroidDurationMs < 0 {
			d.centroidDurationMs = 0
		}
	}

	alpha := d.opts.BaselineSmoothing
	if alpha <= 0 {
		alpha = 0.1
	}
	d.baselineRMS += alpha * (rms - d.baselineRMS)
	d.baselineCentroid += alpha * (centroid - d.baselineCentroid)

	triggered := d.rmsDurationMs >= d.opts.MinTriggerDurationMs || d.centroidDurationMs >= d.opts.MinTriggerDurationMs
	intervalOK := d.lastEventMs == 0 || tsMs-d.lastEventMs >= d.opts.MinIntervalMs
	if !triggered || !intervalOK {
		return AudioEvent{}, false
	}

	d.lastEventMs = tsMs
	d.rmsDurationMs = 0
	d.centroidDurationMs = 0
	return AudioEvent{TsMs: tsMs, RMS: rms, Centroid: centroid, TriggerReason: reason}, true
}

// effectiveThresholds blends day/night profiles within BlendMinutes/2
// of a day/night boundary using an eased ratio w = 1 - r^2, where r
// is the normalized distance to the boundary. Outside the blend
// window, the active profile is chosen by the hour-of-day test.
func (d *AudioAnomalyDetector) effectiveThresholds(tsMs int64) AudioThresholds {
	minutesOfDay := minutesSinceMidnightUTC(tsMs)
	nightStart := d.opts.NightHours[0] * 60
	nightEnd := d.opts.NightHours[1] * 60
	halfBlend := float64(d.opts.BlendMinutes) / 2

	if halfBlend <= 0 {
		if isNight(minutesOfDay, nightStart, nightEnd) {
			return d.opts.NightThresholds
		}
		return d.opts.DayThresholds
	}

	dist := distanceToBoundaryMinutes(minutesOfDay, nightStart, nightEnd)
	if dist >= halfBlend {
		if isNight(minutesOfDay, nightStart, nightEnd) {
			return d.opts.NightThresholds
		}
		return d.opts.DayThresholds
	}

	r := dist / halfBlend
	w := 1 - r*r // eased ratio toward the boundary-crossed profile

	// Inside the blend window, weight the other side's profile by w/2
	// and the current side's by 1-w/2, keeping the pair summing to 1
	// (0.5/0.5 at the boundary).
	night := isNight(minutesOfDay, nightStart, nightEnd)
	var nightWeight, dayWeight float64
	if night {
		nightWeight = 1 - w*0.5
		dayWeight = w * 0.5
	} else {
		dayWeight = 1 - w*0.5
		nightWeight = w * 0.5
	}

	return AudioThresholds{
		RMS:          dayWeight*d.opts.DayThresholds.RMS + nightWeight*d.opts.NightThresholds.RMS,
		CentroidJump: dayWeight*d.opts.DayThresholds.CentroidJump + nightWeight*d.opts.NightThresholds.CentroidJump,
	}
}

func isNight(minutesOfDay, nightStart, nightEnd int) bool {
	if nightStart <= nightEnd {
		return minutesOfDay >= nightStart && minutesOfDay < nightEnd
	}
	return minutesOfDay >= nightStart || minutesOfDay < nightEnd
}

// distanceToBoundaryMinutes returns the minutes from minutesOfDay to
// the nearest of the two day/night boundaries, on a 24h wraparound
// clock.
func distanceToBoundaryMinutes(minutesOfDay, nightStart, nightEnd int) float64 {
	const day = 24 * 60
	distTo := func(boundary int) float64 {
		d := math.Abs(float64(minutesOfDay - boundary))
		if d > day/2 {
			d = day - d
		}
		return d
	}
	dStart := distTo(nightStart)
	dEnd := distTo(nightEnd)
	if dStart < dEnd {
		return dStart
	}
	return dEnd
}

func minutesSinceMidnightUTC(tsMs int64) int {
	const dayMs = 24 * 60 * 60 * 1000
	msOfDay := tsMs % dayMs
	if msOfDay < 0 {
		msOfDay += dayMs
	}
	return int(msOfDay / (60 * 1000))
}

func applyHanning(frame []int16) []float64 {
	n := len(frame)
	out := make([]float64, n)
	for i, s := range frame {
		w := 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		out[i] = float64(s) / 32768.0 * w
	}
	return out
}

func computeRMS(samples []float64) float64 {
	var sumSq float64
	for _, s := range samples {
		sumSq += s * s
	}
	if len(samples) == 0 {
		return 0
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

// computeSpectralCentroid approximates the spectral centroid via a
// direct-form DFT magnitude spectrum; adequate for the frame sizes
// this detector operates on without pulling in an FFT dependency that
// nothing else in the module needs.
func computeSpectralCentroid(samples []float64, sampleRate int) float64 {
	n := len(samples)
	if n == 0 {
		return 0
	}
	bins := n / 2
	var weightedSum, magSum float64
	for k := 0; k < bins; k++ {
		var re, im float64
		for t, s := range samples {
			angle := -2 * math.Pi * float64(k) * float64(t) / float64(n)
			re += s * math.Cos(angle)
			im += s * math.Sin(angle)
		}
		mag := math.Hypot(re, im)
		freq := float64(k) * float64(sampleRate) / float64(n)
		weightedSum += freq * mag
		magSum += mag
	}
	if magSum == 0 {
		return 0
	}
	return weightedSum / magSum
}
