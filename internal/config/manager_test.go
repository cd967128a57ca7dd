package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, contents string) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "default.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o640))

	mgr, err := NewManager(path, nil)
	require.NoError(t, err)
	return mgr, path
}

func TestManagerCurrentReturnsInitialConfig(t *testing.T) {
	mgr, _ := newTestManager(t, minimalJSON)
	require.Equal(t, "guardian", mgr.Current().App.Name)
}

func TestManagerReloadAppliesValidChangeAndPublishesDiff(t *testing.T) {
	mgr, path := newTestManager(t, minimalJSON)

	var gotDiff DiffSummary
	var calls int
	cancel := mgr.Subscribe(func(previous, next *Config, diff DiffSummary) error {
		calls++
		gotDiff = diff
		return nil
	})
	defer cancel()

	updated := `{
		"app": {"name": "guardian"},
		"video": {
			"framesPerSecond": 5,
			"cameras": [
				{"id": "front-door", "channel": "video:front-door", "input": "rtsp://cam1/stream"},
				{"id": "driveway", "channel": "video:driveway", "input": "rtsp://cam2/stream"}
			]
		},
		"motion": {"diffThreshold": 12, "areaThreshold": 0.02},
		"person": {"score": 0.6}
	}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o640))

	require.NoError(t, mgr.Reload())
	require.Equal(t, 1, calls)
	require.Equal(t, []string{"driveway"}, gotDiff.Cameras.Added)
	require.Len(t, mgr.Current().Video.Cameras, 2)
}

func TestManagerReloadKeepsPreviousConfigOnInvalidJSON(t *testing.T) {
	mgr, path := newTestManager(t, minimalJSON)
	before := mgr.Current()

	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o640))

	err := mgr.Reload()
	require.Error(t, err)
	require.Same(t, before, mgr.Current())

	restored, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, minimalJSON, string(restored))
}

func TestManagerReloadKeepsPreviousConfigOnValidationFailure(t *testing.T) {
	mgr, path := newTestManager(t, minimalJSON)
	before := mgr.Current()

	invalid := `{
		"app": {"name": "guardian"},
		"motion": {"diffThreshold": -5, "areaThreshold": 0.02},
		"person": {"score": 0.6}
	}`
	require.NoError(t, os.WriteFile(path, []byte(invalid), 0o640))

	err := mgr.Reload()
	require.Error(t, err)
	require.Same(t, before, mgr.Current())

	restored, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, minimalJSON, string(restored))
}

func TestManagerReloadRollsBackWhenSubscriberRejects(t *testing.T) {
	mgr, path := newTestManager(t, minimalJSON)
	before := mgr.Current()

	var undoCalled bool
	cancel1 := mgr.Subscribe(func(previous, next *Config, diff DiffSummary) error {
		if previous == before {
			return nil
		}
		undoCalled = true
		return nil
	})
	defer cancel1()

	cancel2 := mgr.Subscribe(func(previous, next *Config, diff DiffSummary) error {
		if previous == before {
			return fmt.Errorf("simulated apply failure")
		}
		return nil
	})
	defer cancel2()

	updated := `{
		"app": {"name": "guardian-v2"},
		"motion": {"diffThreshold": 12, "areaThreshold": 0.02},
		"person": {"score": 0.6}
	}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o640))

	err := mgr.Reload()
	require.Error(t, err)
	require.Contains(t, err.Error(), "simulated apply failure")
	require.Same(t, before, mgr.Current())
	require.True(t, undoCalled, "already-applied listener must be re-invoked to undo its change")

	restored, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, minimalJSON, string(restored))
}

func TestManagerSubscribeCancelStopsDelivery(t *testing.T) {
	mgr, path := newTestManager(t, minimalJSON)

	var calls int
	cancel := mgr.Subscribe(func(previous, next *Config, diff DiffSummary) error {
		calls++
		return nil
	})
	cancel()

	updated := `{
		"app": {"name": "guardian-v3"},
		"motion": {"diffThreshold": 12, "areaThreshold": 0.02},
		"person": {"score": 0.6}
	}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o640))
	require.NoError(t, mgr.Reload())
	require.Equal(t, 0, calls)
}
