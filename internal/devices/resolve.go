// SPDX-License-Identifier: MIT

// Package devices resolves the capture source for Guardian's audio
// channel: the first entry of the platform's configured fallback list
// that matches a detected device, else the first detected device.
package devices

import (
	"fmt"
	"runtime"

	"github.com/guardian-io/guardian/internal/audio"
	"github.com/guardian-io/guardian/internal/config"
)

// Resolution is the outcome of resolving an audio capture source.
type Resolution struct {
	ALSADevice    string // "hw:N,0" form suitable for ffmpeg's alsa input
	Device        *audio.Device
	Capabilities  *audio.Capabilities // nil if capability probing failed
	UsedFallback  bool
	FallbackIndex int // -1 when the primary device was used
}

// ErrNoCaptureDevice is returned when neither the primary device nor
// any configured fallback could be matched against detected hardware.
var ErrNoCaptureDevice = fmt.Errorf("devices: no usable capture device found")

// Resolve detects USB audio hardware under asoundPath and matches it
// against fallbacks.Linux/Mac/Windows for the running GOOS, returning
// the first device whose sanitized name matches a configured entry.
// An empty fallback list for the running platform falls back to the
// first detected device, mirroring a single-device deployment that
// never configured alternates.
func Resolve(asoundPath string, fallbacks config.MicFallbacksConfig) (Resolution, error) {
	detected, err := audio.DetectDevices(asoundPath)
	if err != nil {
		return Resolution{}, fmt.Errorf("devices: detect: %w", err)
	}
	if len(detected) == 0 {
		return Resolution{}, ErrNoCaptureDevice
	}

	byFriendlyName := make(map[string]*audio.Device, len(detected))
	for _, d := range detected {
		byFriendlyName[d.FriendlyName()] = d
	}

	candidates := fallbacksForPlatform(fallbacks)
	for i, c := range candidates {
		if d, ok := byFriendlyName[audio.SanitizeDeviceName(c.Device)]; ok {
			return Resolution{
				ALSADevice:    alsaDeviceString(d),
				Device:        d,
				Capabilities:  probeCapabilities(asoundPath, d),
				UsedFallback:  true,
				FallbackIndex: i,
			}, nil
		}
	}

	d := detected[0]
	return Resolution{
		ALSADevice:    alsaDeviceString(d),
		Device:        d,
		Capabilities:  probeCapabilities(asoundPath, d),
		UsedFallback:  false,
		FallbackIndex: -1,
	}, nil
}

// probeCapabilities reads d's supported formats/rates/channels without
// opening it. Capability data is informational (logged, surfaced to the
// dashboard) so a probe failure never blocks device resolution.
func probeCapabilities(asoundPath string, d *audio.Device) *audio.Capabilities {
	caps, err := audio.DetectCapabilities(asoundPath, d.CardNumber)
	if err != nil {
		return nil
	}
	return caps
}

func fallbacksForPlatform(fallbacks config.MicFallbacksConfig) []config.FallbackDevice {
	switch runtime.GOOS {
	case "darwin":
		return fallbacks.Mac
	case "windows":
		return fallbacks.Windows
	default:
		return fallbacks.Linux
	}
}

func alsaDeviceString(d *audio.Device) string {
	return fmt.Sprintf("hw:%d,0", d.CardNumber)
}
