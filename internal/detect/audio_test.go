package detect

import (
	"math"
	"testing"
)

func TestThresholdBlendMidpointWeightsEqualAndSumToOne(t *testing.T) {
	opts := DefaultAudioOptions()
	opts.NightHours = [2]int{22, 6}
	opts.BlendMinutes = 60
	d := NewAudioAnomalyDetector(opts)

	// 22:00 UTC exactly is the night-start boundary, i.e. the midpoint
	// of the [21:30, 22:30] blend window.
	boundaryMs := int64(22*60*60*1000)

	got := d.effectiveThresholds(boundaryMs)

	dayW := (got.RMS - opts.NightThresholds.RMS) / (opts.DayThresholds.RMS - opts.NightThresholds.RMS)
	nightW := 1 - dayW

	const eps = 1e-9
	if math.Abs(dayW-0.5) > eps || math.Abs(nightW-0.5) > eps {
		t.Errorf("expected equal day/night contribution at blend midpoint, got dayW=%v nightW=%v", dayW, nightW)
	}
	if math.Abs((dayW+nightW)-1) > eps {
		t.Errorf("weights must sum to 1, got %v", dayW+nightW)
	}
}

func TestEffectiveThresholdsOutsideBlendWindowMatchProfile(t *testing.T) {
	opts := DefaultAudioOptions()
	opts.NightHours = [2]int{22, 6}
	opts.BlendMinutes = 30

	d := NewAudioAnomalyDetector(opts)

	noonMs := int64(12 * 60 * 60 * 1000)
	got := d.effectiveThresholds(noonMs)
	if got != opts.DayThresholds {
		t.Errorf("expected pure day thresholds at noon, got %+v", got)
	}

	midnightMs := int64(0)
	got = d.effectiveThresholds(midnightMs)
	if got != opts.NightThresholds {
		t.Errorf("expected pure night thresholds at midnight, got %+v", got)
	}
}

func TestPushSamplesAccumulatesAndEmitsOnSustainedTrigger(t *testing.T) {
	opts := DefaultAudioOptions()
	opts.FrameSize = 256
	opts.HopSize = 256
	opts.MinTriggerDurationMs = 1
	opts.MinIntervalMs = 0
	opts.DayThresholds = AudioThresholds{RMS: 0.01, CentroidJump: 1}
	opts.NightThresholds = opts.DayThresholds
	opts.BlendMinutes = 0

	d := NewAudioAnomalyDetector(opts)

	quiet := make([]int16, opts.FrameSize)
	loud := make([]int16, opts.FrameSize)
	for i := range loud {
		if i%2 == 0 {
			loud[i] = 20000
		} else {
			loud[i] = -20000
		}
	}

	d.PushSamples(quiet, 0) // establish a near-zero baseline
	events := d.PushSamples(loud, 100)
	if len(events) == 0 {
		t.Fatal("expected at least one anomaly event from a loud hop after a quiet baseline")
	}
}

func TestUpdateOptionsResizeTruncatesFIFOAndResetsAccumulators(t *testing.T) {
	opts := DefaultAudioOptions()
	opts.FrameSize = 512
	opts.HopSize = 512
	d := NewAudioAnomalyDetector(opts)

	d.fifo = make([]int16, 400)
	d.rmsDurationMs = 500
	d.centroidDurationMs = 500

	smaller := opts
	smaller.FrameSize = 128
	smaller.HopSize = 128
	d.UpdateOptions(smaller)

	if len(d.fifo) > 128 {
		t.Errorf("expected FIFO truncated to new frame size, got len=%d", len(d.fifo))
	}
	if d.rmsDurationMs != 0 || d.centroidDurationMs != 0 {
		t.Error("expected accumulators reset after window geometry change")
	}
}
