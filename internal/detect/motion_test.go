package detect

import "testing"

// seededThenElevatedStats returns a low, baseline-establishing signal
// on its first invocation (the detector's baseline auto-initializes
// from that first computed value) and an elevated signal thereafter,
// so the detector has something genuinely above baseline to react to.
func seededThenElevatedStats(elevatedMean, elevatedArea float64) FrameStatsFunc {
	calls := 0
	return func(prev, cur []byte) FrameStats {
		calls++
		if calls == 1 {
			return FrameStats{MeanAbsDiff: 1, AboveThreshArea: 0.001}
		}
		return FrameStats{MeanAbsDiff: elevatedMean, AboveThreshArea: elevatedArea}
	}
}

func TestMotionDetectorRequiresDebounceStreak(t *testing.T) {
	opts := DefaultMotionOptions()
	opts.EffectiveDebounceFrames = 3
	opts.MinIntervalMs = 0
	opts.BaselineSmoothing = 0

	d := NewMotionDetector(opts, seededThenElevatedStats(10, 0.5))

	frame := []byte{0}
	// idx0 seeds prevFrame (no stats call); idx1 establishes the
	// baseline from the first low reading; idx2-4 are elevated and
	// must accumulate a 3-frame streak before firing.
	var fired bool
	for i := int64(0); i <= 4; i++ {
		_, fired = d.HandleFrame(frame, i)
		if i < 4 && fired {
			t.Fatalf("fired early at frame %d", i)
		}
	}
	if !fired {
		t.Fatal("expected trigger after debounce streak satisfied")
	}
}

func TestMotionDetectorEntersCooldownAfterFiring(t *testing.T) {
	opts := DefaultMotionOptions()
	opts.EffectiveDebounceFrames = 1
	opts.BackoffFrames = 2
	opts.MinIntervalMs = 0
	opts.BaselineSmoothing = 0

	d := NewMotionDetector(opts, seededThenElevatedStats(10, 0.5))
	d.HandleFrame([]byte{0}, 0) // seed
	d.HandleFrame([]byte{0}, 1) // establish baseline
	_, fired := d.HandleFrame([]byte{0}, 2)
	if !fired {
		t.Fatal("expected trigger on first elevated frame with debounce=1")
	}

	if _, fired := d.HandleFrame([]byte{0}, 3); fired {
		t.Fatal("expected cooldown to suppress trigger")
	}
	if _, fired := d.HandleFrame([]byte{0}, 4); fired {
		t.Fatal("expected cooldown to still suppress trigger")
	}
}

func TestMotionDetectorRespectsMinInterval(t *testing.T) {
	opts := DefaultMotionOptions()
	opts.EffectiveDebounceFrames = 1
	opts.BackoffFrames = 0
	opts.MinIntervalMs = 1000
	opts.BaselineSmoothing = 0

	d := NewMotionDetector(opts, seededThenElevatedStats(10, 0.5))
	d.HandleFrame([]byte{0}, 0)
	d.HandleFrame([]byte{0}, 1)
	_, fired := d.HandleFrame([]byte{0}, 2)
	if !fired {
		t.Fatal("expected first trigger")
	}
	if _, fired := d.HandleFrame([]byte{0}, 500); fired {
		t.Fatal("expected suppression within minIntervalMs")
	}
}

func TestPersonGateDisarmsAfterMaxDetections(t *testing.T) {
	calls := 0
	detect := func(frame []byte) (bool, float64, error) {
		calls++
		return false, 0, nil
	}
	g := NewPersonGate(10, 2, detect)
	g.OnMotionEvent()

	for i := 0; i < 5; i++ {
		g.HandleFrame([]byte{0}, int64(i))
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 detector invocations, got %d", calls)
	}
}

func TestPersonGateReportsFoundEvent(t *testing.T) {
	detect := func(frame []byte) (bool, float64, error) { return true, 0.9, nil }
	g := NewPersonGate(5, 5, detect)
	g.OnMotionEvent()

	ev, found, err := g.HandleFrame([]byte{0}, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected a person event")
	}
	if ev.Score != 0.9 || ev.Ts != 42 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestPersonGateIgnoresFramesWhenUnarmed(t *testing.T) {
	calls := 0
	detect := func(frame []byte) (bool, float64, error) {
		calls++
		return false, 0, nil
	}
	g := NewPersonGate(5, 5, detect)
	g.HandleFrame([]byte{0}, 0)
	if calls != 0 {
		t.Fatal("expected no detector calls while disarmed")
	}
}
