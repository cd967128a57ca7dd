package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func validCameraConfig() *Config {
	cfg := DefaultConfig()
	cfg.Video.Cameras = []CameraConfig{
		{ID: "front-door", Channel: "video:front-door", Input: "rtsp://cam1/stream"},
		{ID: "driveway", Channel: "video:driveway", Input: "rtsp://cam2/stream"},
	}
	cfg.Video.Channels = map[string]VideoChannelEntry{
		"video:front-door": {Cameras: []string{"front-door"}},
	}
	return cfg
}

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidateAcceptsWellFormedCameraConfig(t *testing.T) {
	require.NoError(t, validCameraConfig().Validate())
}

func TestValidateDetectsDuplicateCameraIDs(t *testing.T) {
	cfg := validCameraConfig()
	cfg.Video.Cameras[1].ID = "front-door"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate camera id")
}

func TestValidateDetectsDuplicateCameraChannels(t *testing.T) {
	cfg := validCameraConfig()
	cfg.Video.Cameras[1].Channel = cfg.Video.Cameras[0].Channel

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate camera channel")
}

func TestValidateDetectsEmptyCameraChannel(t *testing.T) {
	cfg := validCameraConfig()
	cfg.Video.Cameras[0].Channel = ""

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "channel must not be empty")
}

func TestValidateDetectsVideoChannelWithoutCamera(t *testing.T) {
	cfg := validCameraConfig()
	cfg.Video.Channels["video:unknown"] = VideoChannelEntry{}

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "references no configured camera")
}

func TestValidateMotionThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Motion.DiffThreshold = -1
	cfg.Motion.AreaThreshold = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "motion.diffThreshold")
	require.Contains(t, err.Error(), "motion.areaThreshold")
}

func TestValidatePersonScoreRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Person.Score = 1.2
	cfg.Person.PerCamera = map[string]float64{"front-door": -0.1}

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "person.score")
	require.Contains(t, err.Error(), `person.perCamera["front-door"]`)
}

func TestValidateAudioChannelMustNotMatchVideoChannel(t *testing.T) {
	cfg := validCameraConfig()
	cfg.Audio.Channel = "VIDEO:front-door"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not equal a video channel")
}

func TestValidateFallbackDeviceMustNotBeEmpty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Audio.MicFallbacks.Linux = []FallbackDevice{{Device: ""}}

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "audio.micFallbacks.linux[0].device")
}

func TestValidateSuppressionRulePerMsMustCoverMaxEvents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Events.Suppression.Rules = []SuppressionRuleConfig{
		{ID: "r1", MaxEvents: 5, PerMs: 1000, SuppressForMs: 1000},
	}
	require.NoError(t, cfg.Validate())

	cfg.Events.Suppression.Rules[0].PerMs = 3
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "perMs must be >= maxEvents")
}

func TestValidateSuppressionMaxEventsRequiresSuppressForMs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Events.Suppression.Rules = []SuppressionRuleConfig{
		{ID: "r1", MaxEvents: 5, PerMs: 1000},
	}

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "maxEvents requires suppressForMs")
}

func TestValidateGatewayListenAddrMustNotBeEmpty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gateway.ListenAddr = "  "

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "gateway.listenAddr must not be empty")
}

func TestValidateGatewayFaceThresholdRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gateway.DefaultFaceThreshold = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "gateway.defaultFaceThreshold")
}

func TestValidateGatewayRateLimitMustNotBeNegative(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gateway.RateLimitRPS = -1

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "gateway.rateLimitRps")
}

func TestValidateAggregatesAllViolations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Motion.DiffThreshold = -1
	cfg.Person.Score = 2
	cfg.Audio.MicFallbacks.Mac = []FallbackDevice{{Device: " "}}

	err := cfg.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.GreaterOrEqual(t, len(verr.Violations), 3)

	msg := err.Error()
	require.True(t, strings.Contains(msg, "diffThreshold") && strings.Contains(msg, "person.score") && strings.Contains(msg, "micFallbacks.mac"),
		"expected all three violations to be aggregated in one error, got: %s", msg)
}
