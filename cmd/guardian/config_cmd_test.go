// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/guardian-io/guardian/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigSubflagsConfigAndForce(t *testing.T) {
	path := "default.json"
	force := false
	parseConfigSubflags([]string{"--config=/tmp/custom.json", "--force"}, &path, &force)
	assert.Equal(t, "/tmp/custom.json", path)
	assert.True(t, force)
}

func TestParseConfigSubflagsIgnoresUnknown(t *testing.T) {
	path := "default.json"
	force := false
	parseConfigSubflags([]string{"--bogus=1"}, &path, &force)
	assert.Equal(t, "default.json", path)
	assert.False(t, force)
}

func writeConfigFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg := config.DefaultConfig()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func TestRunConfigValidateAcceptsDefaultConfig(t *testing.T) {
	path := writeConfigFixture(t)
	code := runConfigValidate([]string{"--config=" + path})
	assert.Equal(t, 0, code)
}

func TestRunConfigValidateRejectsMissingFile(t *testing.T) {
	code := runConfigValidate([]string{"--config=/nonexistent/guardian.json"})
	assert.Equal(t, 1, code)
}

func TestRunConfigDumpEmitsJSON(t *testing.T) {
	path := writeConfigFixture(t)
	code := runConfigDump([]string{"--config=" + path})
	assert.Equal(t, 0, code)
}

func TestRunConfigCLIUnknownSubcommand(t *testing.T) {
	assert.Equal(t, 2, runConfigCLI([]string{"bogus"}))
}

func TestRunConfigCLIHelp(t *testing.T) {
	assert.Equal(t, 0, runConfigCLI([]string{"--help"}))
	assert.Equal(t, 0, runConfigCLI(nil))
}
