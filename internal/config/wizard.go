// SPDX-License-Identifier: MIT

package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
)

// RunInitWizard interactively builds a starting configuration and
// writes it to path, refusing to overwrite an existing file unless
// force is set. Grounded in the interactive-form pattern used
// throughout the menu package, generalized from single prompts to a
// single multi-field huh.Form covering the fields an operator must
// decide before first run: everything else is filled in from
// DefaultConfig.
func RunInitWizard(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config: %s already exists (use --force to overwrite)", path)
		}
	}

	cfg := DefaultConfig()

	var appName, dbPath, cameraID, cameraChannel, cameraInput, audioChannel string
	appName = cfg.App.Name
	dbPath = cfg.Database.Path

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Deployment name").Value(&appName),
			huh.NewInput().Title("Event database path").Value(&dbPath),
		),
		huh.NewGroup(
			huh.NewInput().Title("First camera id").Value(&cameraID),
			huh.NewInput().Title("First camera's video channel").Value(&cameraChannel),
			huh.NewInput().Title("First camera's input URL").Value(&cameraInput),
		),
		huh.NewGroup(
			huh.NewInput().Title("Audio anomaly channel (blank to skip)").Value(&audioChannel),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("config: wizard cancelled: %w", err)
	}

	cfg.App.Name = appName
	cfg.Database.Path = dbPath

	if cameraID != "" {
		cfg.Video.Cameras = []CameraConfig{{ID: cameraID, Channel: cameraChannel, Input: cameraInput}}
		cfg.Video.Channels = map[string]VideoChannelEntry{cameraChannel: {Cameras: []string{cameraID}}}
	}
	if audioChannel != "" {
		cfg.Audio.Channel = audioChannel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: generated configuration is invalid: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
