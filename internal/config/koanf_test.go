package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const minimalJSON = `{
	"app": {"name": "guardian"},
	"video": {
		"framesPerSecond": 5,
		"cameras": [
			{"id": "front-door", "channel": "video:front-door", "input": "rtsp://cam1/stream"}
		]
	},
	"motion": {"diffThreshold": 12, "areaThreshold": 0.02},
	"person": {"score": 0.6}
}`

func writeJSONFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "default.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o640))
	return path
}

func TestLoaderLoadsJSONFile(t *testing.T) {
	path := writeJSONFile(t, minimalJSON)

	loader, err := NewLoader(WithJSONFile(path))
	require.NoError(t, err)

	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, "guardian", cfg.App.Name)
	require.Len(t, cfg.Video.Cameras, 1)
	require.Equal(t, "front-door", cfg.Video.Cameras[0].ID)
	require.Equal(t, 0.02, cfg.Motion.AreaThreshold)
}

func TestLoaderEnvOverridesFile(t *testing.T) {
	path := writeJSONFile(t, minimalJSON)

	t.Setenv("GUARDIAN_APP_NAME", "guardian-test")
	t.Setenv("GUARDIAN_MOTION_DIFFTHRESHOLD", "20")

	loader, err := NewLoader(WithJSONFile(path))
	require.NoError(t, err)

	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, "guardian-test", cfg.App.Name)
	require.Equal(t, float64(20), cfg.Motion.DiffThreshold)
}

func TestLoaderWithEnvPrefixOption(t *testing.T) {
	path := writeJSONFile(t, minimalJSON)

	t.Setenv("GRD_APP_NAME", "prefixed")

	loader, err := NewLoader(WithJSONFile(path), WithEnvPrefix("GRD"))
	require.NoError(t, err)

	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, "prefixed", cfg.App.Name)
}

func TestLoaderLoadRejectsInvalidConfig(t *testing.T) {
	path := writeJSONFile(t, `{"motion": {"diffThreshold": -5}}`)

	loader, err := NewLoader(WithJSONFile(path))
	require.NoError(t, err)

	cfg, err := loader.Load()
	require.Error(t, err)
	require.Nil(t, cfg)
	require.Contains(t, err.Error(), "motion.diffThreshold")
}

func TestLoaderReloadPicksUpFileChanges(t *testing.T) {
	path := writeJSONFile(t, minimalJSON)

	loader, err := NewLoader(WithJSONFile(path))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{
		"app": {"name": "guardian"},
		"motion": {"diffThreshold": 99, "areaThreshold": 0.02},
		"person": {"score": 0.6}
	}`), 0o640))

	require.NoError(t, loader.Reload())

	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, float64(99), cfg.Motion.DiffThreshold)
}

func TestLoaderWithoutFileUsesEnvAndDefaults(t *testing.T) {
	t.Setenv("GUARDIAN_APP_NAME", "env-only")

	loader, err := NewLoader()
	require.NoError(t, err)

	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, "env-only", cfg.App.Name)
}
