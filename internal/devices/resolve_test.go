// SPDX-License-Identifier: MIT

package devices

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/guardian-io/guardian/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCardFixture(t *testing.T, asoundPath string, card int, name, usbID string) {
	t.Helper()
	cardDir := filepath.Join(asoundPath, "card"+strconv.Itoa(card))
	require.NoError(t, os.MkdirAll(cardDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cardDir, "id"), []byte(name+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cardDir, "usbid"), []byte(usbID+"\n"), 0o644))
}

func TestResolveMatchesConfiguredFallbackOverPrimary(t *testing.T) {
	asoundPath := t.TempDir()
	writeCardFixture(t, asoundPath, 0, "BuiltInMic", "0d8c:0010")
	writeCardFixture(t, asoundPath, 1, "USB Fallback Mic", "0d8c:0014")

	fallbacks := config.MicFallbacksConfig{
		Linux: []config.FallbackDevice{{Device: "USB Fallback Mic"}},
	}

	res, err := Resolve(asoundPath, fallbacks)
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, 0, res.FallbackIndex)
	assert.Equal(t, "hw:1,0", res.ALSADevice)
}

func TestResolveFallsBackToFirstDetectedWhenNoMatch(t *testing.T) {
	asoundPath := t.TempDir()
	writeCardFixture(t, asoundPath, 0, "BuiltInMic", "0d8c:0010")

	res, err := Resolve(asoundPath, config.MicFallbacksConfig{})
	require.NoError(t, err)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, -1, res.FallbackIndex)
	assert.Equal(t, "hw:0,0", res.ALSADevice)
}

func TestResolveReturnsErrWhenNoDevicesDetected(t *testing.T) {
	asoundPath := t.TempDir()
	_, err := Resolve(asoundPath, config.MicFallbacksConfig{})
	assert.ErrorIs(t, err, ErrNoCaptureDevice)
}

func TestResolveReturnsErrOnMissingAsoundPath(t *testing.T) {
	_, err := Resolve(filepath.Join(t.TempDir(), "does-not-exist"), config.MicFallbacksConfig{})
	assert.Error(t, err)
}
