// Package detect implements Guardian's detector pipeline: a motion
// detector over decoded frames, a person-detector gate triggered by
// motion, and an audio anomaly detector over PCM samples with
// day/night threshold blending.
package detect

import (
	"sync"
)

// FrameStats is the plug-in contract a frame differencer must supply;
// the pixel-level numeric internals are out of scope here and are
// fed in as already-computed signals.
type FrameStats struct {
	MeanAbsDiff    float64
	AboveThreshArea float64 // fraction of pixels above the adaptive per-pixel threshold, in [0,1]
}

// FrameStatsFunc computes FrameStats for the current frame relative
// to the detector's retained previous frame.
type FrameStatsFunc func(prev, cur []byte) FrameStats

// MotionOptions are the motion detector's live-tunable parameters.
type MotionOptions struct {
	MinIntervalMs           int64
	EffectiveDebounceFrames int
	BackoffFrames           int
	DiffMultiple            float64
	AdaptiveAreaThreshold   float64
	BaselineSmoothing       float64 // EMA alpha for the noise baseline, in (0,1]
}

// DefaultMotionOptions returns conservative defaults grounded in the
// magnitudes implied by the threshold-blending scenario in the wider
// detector contract.
func DefaultMotionOptions() MotionOptions {
	return MotionOptions{
		MinIntervalMs:           1000,
		EffectiveDebounceFrames: 3,
		BackoffFrames:           10,
		DiffMultiple:            2.5,
		AdaptiveAreaThreshold:   0.02,
		BaselineSmoothing:       0.05,
	}
}

// MotionEvent is emitted when a candidate trigger survives debounce.
type MotionEvent struct {
	Ts   int64
	Mean float64
	Area float64
}

// MotionDetector holds adaptive baselines and debounce/cooldown state
// across successive handleFrame calls for one channel.
type MotionDetector struct {
	mu   sync.Mutex
	opts MotionOptions

	prevFrame      []byte
	baselineNoise  float64
	baselineArea   float64
	baselineInit   bool
	aboveStreak    int
	cooldownFrames int
	lastEventMs    int64

	statsFn FrameStatsFunc
}

// NewMotionDetector builds a detector; statsFn supplies the
// frame-to-frame diff signal since the pixel math is a plug-in.
func NewMotionDetector(opts MotionOptions, statsFn FrameStatsFunc) *MotionDetector {
	return &MotionDetector{opts: opts, statsFn: statsFn}
}

// UpdateOptions changes any tunable without resetting accumulated
// baselines or cooldown state.
func (d *MotionDetector) UpdateOptions(opts MotionOptions) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts = opts
}

// HandleFrame evaluates one frame and returns a MotionEvent when a
// candidate trigger survives debounce, minIntervalMs, and cooldown.
func (d *MotionDetector) HandleFrame(frame []byte, ts int64) (MotionEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.prevFrame
	d.prevFrame = frame
	if prev == nil {
		return MotionEvent{}, false
	}

	stats := d.statsFn(prev, frame)

	if !d.baselineInit {
		d.baselineNoise = stats.MeanAbsDiff
		d.baselineArea = stats.AboveThreshArea
		d.baselineInit = true
	}

	if d.cooldownFrames > 0 {
		d.cooldownFrames--
		d.updateBaselines(stats)
		return MotionEvent{}, false
	}

	candidate := stats.MeanAbsDiff > d.baselineNoise*d.opts.DiffMultiple &&
		stats.AboveThreshArea >= d.opts.AdaptiveAreaThreshold

	if !candidate {
		d.aboveStreak = 0
		d.updateBaselines(stats)
		return MotionEvent{}, false
	}

	d.aboveStreak++
	if d.aboveStreak < d.opts.EffectiveDebounceFrames {
		return MotionEvent{}, false
	}

	if d.lastEventMs != 0 && ts-d.lastEventMs < d.opts.MinIntervalMs {
		return MotionEvent{}, false
	}

	d.aboveStreak = 0
	d.cooldownFrames = d.opts.BackoffFrames
	d.lastEventMs = ts

	return MotionEvent{Ts: ts, Mean: stats.MeanAbsDiff, Area: stats.AboveThreshArea}, true
}

// updateBaselines exponentially smooths the noise/area baselines
// toward the latest observed stats. Caller holds d.mu.
func (d *MotionDetector) updateBaselines(stats FrameStats) {
	alpha := d.opts.BaselineSmoothing
	if alpha <= 0 {
		alpha = 0.05
	}
	d.baselineNoise = d.baselineNoise + alpha*(stats.MeanAbsDiff-d.baselineNoise)
	d.baselineArea = d.baselineArea + alpha*(stats.AboveThreshArea-d.baselineArea)
}

// PersonDetectFunc is the external person-detector collaborator's
// declared contract: given a frame, report whether a person was
// found and at what confidence score.
type PersonDetectFunc func(frame []byte) (found bool, score float64, err error)

// PersonGate arms itself on a motion event and invokes the person
// detector for up to checkEveryNFrames frames (capped at
// maxDetections calls) before disarming.
type PersonGate struct {
	mu               sync.Mutex
	checkEveryNFrames int
	maxDetections     int
	detect            PersonDetectFunc

	armed          bool
	framesRemaining int
	detectionsLeft  int
}

// NewPersonGate builds a gate around an external person detector.
func NewPersonGate(checkEveryNFrames, maxDetections int, detect PersonDetectFunc) *PersonGate {
	return &PersonGate{checkEveryNFrames: checkEveryNFrames, maxDetections: maxDetections, detect: detect}
}

// OnMotionEvent arms the gate for the configured window.
func (g *PersonGate) OnMotionEvent() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = true
	g.framesRemaining = g.checkEveryNFrames
	g.detectionsLeft = g.maxDetections
}

// PersonEvent is emitted when the gated person detector finds a hit.
type PersonEvent struct {
	Ts    int64
	Score float64
}

// HandleFrame runs the person detector while the gate is armed,
// disarming once the frame window or detection budget is exhausted.
func (g *PersonGate) HandleFrame(frame []byte, ts int64) (PersonEvent, bool, error) {
	g.mu.Lock()
	if !g.armed || g.detectionsLeft <= 0 {
		g.mu.Unlock()
		return PersonEvent{}, false, nil
	}
	g.framesRemaining--
	g.detectionsLeft--
	disarm := g.framesRemaining <= 0 || g.detectionsLeft <= 0
	g.mu.Unlock()

	found, score, err := g.detect(frame)

	if disarm {
		g.mu.Lock()
		g.armed = false
		g.mu.Unlock()
	}

	if err != nil {
		return PersonEvent{}, false, err
	}
	if !found {
		return PersonEvent{}, false, nil
	}
	return PersonEvent{Ts: ts, Score: score}, true, nil
}
