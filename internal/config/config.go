// SPDX-License-Identifier: MIT

// Package config implements Guardian's hot-reloadable configuration: a
// JSON document describing cameras, detector tuning, suppression rules,
// and retention/storage paths, loaded through koanf with environment
// variable overrides, watched for changes, and validated as a single
// aggregated error rather than fail-fast.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/guardian-io/guardian/internal/types"
)

// ConfigFilePath is the default location for the configuration file.
const ConfigFilePath = "config/default.json"

// Config is Guardian's complete, immutable-once-loaded configuration.
// Unknown top-level keys present in the JSON source (or the env layer)
// are preserved in Extra by Loader.Load but never acted upon.
type Config struct {
	App      AppConfig      `json:"app" koanf:"app"`
	Logging  LoggingConfig  `json:"logging" koanf:"logging"`
	Database DatabaseConfig `json:"database" koanf:"database"`
	Events   EventsConfig   `json:"events" koanf:"events"`
	Video    VideoConfig    `json:"video" koanf:"video"`
	Person   PersonConfig   `json:"person" koanf:"person"`
	Motion   MotionConfig   `json:"motion" koanf:"motion"`
	Audio    AudioConfig    `json:"audio" koanf:"audio"`
	Gateway  GatewayConfig  `json:"gateway" koanf:"gateway"`

	Extra map[string]any `json:"-" koanf:"-"`
}

// GatewayConfig configures the HTTP/SSE gateway's listener and
// request handling.
type GatewayConfig struct {
	ListenAddr           string  `json:"listenAddr" koanf:"listenAddr"`
	StaticDir            string  `json:"staticDir" koanf:"staticDir"`
	RateLimitRPS         int     `json:"rateLimitRps" koanf:"rateLimitRps"`
	DefaultFaceThreshold float64 `json:"defaultFaceThreshold" koanf:"defaultFaceThreshold"`
	SnapshotMaxAgeMs     int64   `json:"snapshotMaxAgeMs" koanf:"snapshotMaxAgeMs"`
}

type AppConfig struct {
	Name string `json:"name" koanf:"name"`
}

type LoggingConfig struct {
	Level string `json:"level" koanf:"level"`
}

type DatabaseConfig struct {
	Path string `json:"path" koanf:"path"`
}

// EventsConfig bundles the thresholds a severity is assigned at,
// retention policy, and suppression ruleset.
type EventsConfig struct {
	Thresholds  map[string]any      `json:"thresholds" koanf:"thresholds"`
	Retention   RetentionFileConfig `json:"retention" koanf:"retention"`
	Suppression SuppressionConfig   `json:"suppression" koanf:"suppression"`
}

// RetentionFileConfig is the on-disk shape of the retention engine's
// tuning; internal/retention.Config is built from this plus wiring only
// known at startup (the store and metrics registry).
type RetentionFileConfig struct {
	Enabled              bool             `json:"enabled" koanf:"enabled"`
	RetentionDays        int              `json:"retentionDays" koanf:"retentionDays"`
	IntervalMs           int64            `json:"intervalMs" koanf:"intervalMs"`
	ArchiveDir           string           `json:"archiveDir" koanf:"archiveDir"`
	SnapshotDirs         []string         `json:"snapshotDirs" koanf:"snapshotDirs"`
	SnapshotMode         string           `json:"snapshotMode" koanf:"snapshotMode"`
	MaxArchivesPerCamera int              `json:"maxArchivesPerCamera" koanf:"maxArchivesPerCamera"`
	PerCameraMax         map[string]int   `json:"perCameraMax" koanf:"perCameraMax"`
	Vacuum               VacuumFileConfig `json:"vacuum" koanf:"vacuum"`
}

type VacuumFileConfig struct {
	Run      string   `json:"run" koanf:"run"` // never|always|on-change
	Reindex  bool     `json:"reindex" koanf:"reindex"`
	Analyze  bool     `json:"analyze" koanf:"analyze"`
	Optimize bool     `json:"optimize" koanf:"optimize"`
	Pragmas  []string `json:"pragmas" koanf:"pragmas"`
}

type SuppressionConfig struct {
	Rules []SuppressionRuleConfig `json:"rules" koanf:"rules"`
}

// SuppressionRuleConfig mirrors internal/bus.SuppressionRule in the
// config file's wire shape.
type SuppressionRuleConfig struct {
	ID              string `json:"id" koanf:"id"`
	Detector        string `json:"detector" koanf:"detector"`
	Source          string `json:"source" koanf:"source"`
	Channel         string `json:"channel" koanf:"channel"`
	SeverityAtLeast string `json:"severityAtLeast" koanf:"severityAtLeast"`
	SuppressForMs   int64  `json:"suppressForMs" koanf:"suppressForMs"`
	MaxEvents       int    `json:"maxEvents" koanf:"maxEvents"`
	PerMs           int64  `json:"perMs" koanf:"perMs"`
	TimelineTTLMs   int64  `json:"timelineTtlMs" koanf:"timelineTtlMs"`
	Reason          string `json:"reason" koanf:"reason"`
}

// VideoConfig declares the camera fleet and the logical channels they
// feed.
type VideoConfig struct {
	FramesPerSecond int                          `json:"framesPerSecond" koanf:"framesPerSecond"`
	Cameras         []CameraConfig               `json:"cameras" koanf:"cameras"`
	Channels        map[string]VideoChannelEntry `json:"channels" koanf:"channels"`
	FFmpeg          FFmpegConfig                 `json:"ffmpeg" koanf:"ffmpeg"`
}

type CameraConfig struct {
	ID      string `json:"id" koanf:"id"`
	Channel string `json:"channel" koanf:"channel"`
	Input   string `json:"input" koanf:"input"`
}

// VideoChannelEntry configures one logical video channel; Cameras lists
// the camera ids that feed it (a channel key that no camera's Channel
// matches fails reload-time validation).
type VideoChannelEntry struct {
	Cameras []string `json:"cameras" koanf:"cameras"`
}

type FFmpegConfig struct {
	Binary        string   `json:"binary" koanf:"binary"`
	InputArgs     []string `json:"inputArgs" koanf:"inputArgs"`
	RTSPTransport string   `json:"rtspTransport" koanf:"rtspTransport"`
}

// PersonConfig is the global person-detector score gate, with optional
// per-camera/channel overrides.
type PersonConfig struct {
	Score             float64            `json:"score" koanf:"score"`
	CheckEveryNFrames int                `json:"checkEveryNFrames" koanf:"checkEveryNFrames"`
	MaxDetections     int                `json:"maxDetections" koanf:"maxDetections"`
	PerCamera         map[string]float64 `json:"perCamera" koanf:"perCamera"`
	PerChannel        map[string]float64 `json:"perChannel" koanf:"perChannel"`
}

// MotionConfig is the global motion-detector tuning, with optional
// per-camera/channel overrides.
type MotionConfig struct {
	DiffThreshold float64                   `json:"diffThreshold" koanf:"diffThreshold"`
	AreaThreshold float64                   `json:"areaThreshold" koanf:"areaThreshold"`
	MinIntervalMs int64                     `json:"minIntervalMs" koanf:"minIntervalMs"`
	PerCamera     map[string]MotionOverride `json:"perCamera" koanf:"perCamera"`
	PerChannel    map[string]MotionOverride `json:"perChannel" koanf:"perChannel"`
}

type MotionOverride struct {
	DiffThreshold *float64 `json:"diffThreshold,omitempty" koanf:"diffThreshold"`
	AreaThreshold *float64 `json:"areaThreshold,omitempty" koanf:"areaThreshold"`
}

// AudioConfig configures the single audio-anomaly channel, its mic
// fallback list, and anomaly detector thresholds.
type AudioConfig struct {
	Channel       string             `json:"channel" koanf:"channel"`
	IdleTimeoutMs int64              `json:"idleTimeoutMs" koanf:"idleTimeoutMs"`
	MicFallbacks  MicFallbacksConfig `json:"micFallbacks" koanf:"micFallbacks"`
	Anomaly       AudioAnomalyConfig `json:"anomaly" koanf:"anomaly"`
}

// MicFallbacksConfig lists, per host platform, the fallback capture
// devices to try in order when the primary device is unavailable.
type MicFallbacksConfig struct {
	Linux   []FallbackDevice `json:"linux" koanf:"linux"`
	Mac     []FallbackDevice `json:"mac" koanf:"mac"`
	Windows []FallbackDevice `json:"windows" koanf:"windows"`
}

type FallbackDevice struct {
	Device string `json:"device" koanf:"device"`
}

type AudioAnomalyConfig struct {
	SampleRate           int                  `json:"sampleRate" koanf:"sampleRate"`
	FrameSize            int                  `json:"frameSize" koanf:"frameSize"`
	HopSize              int                  `json:"hopSize" koanf:"hopSize"`
	BaselineSmoothing    float64              `json:"baselineSmoothing" koanf:"baselineSmoothing"`
	MinTriggerDurationMs int64                `json:"minTriggerDurationMs" koanf:"minTriggerDurationMs"`
	MinIntervalMs        int64                `json:"minIntervalMs" koanf:"minIntervalMs"`
	DayThresholds        AudioThresholdConfig `json:"dayThresholds" koanf:"dayThresholds"`
	NightThresholds      AudioThresholdConfig `json:"nightThresholds" koanf:"nightThresholds"`
	NightHours           [2]int               `json:"nightHours" koanf:"nightHours"`
	BlendMinutes         int                  `json:"blendMinutes" koanf:"blendMinutes"`
}

type AudioThresholdConfig struct {
	RMS          float64 `json:"rms" koanf:"rms"`
	CentroidJump float64 `json:"centroidJump" koanf:"centroidJump"`
}

// DefaultConfig returns a minimal, internally-consistent configuration
// suitable as a starting point for a first-run wizard or for tests.
func DefaultConfig() *Config {
	return &Config{
		App:     AppConfig{Name: "guardian"},
		Logging: LoggingConfig{Level: "info"},
		Database: DatabaseConfig{
			Path: "var/guardian/events.db",
		},
		Events: EventsConfig{
			Retention: RetentionFileConfig{
				Enabled:              true,
				RetentionDays:        30,
				IntervalMs:           int64(3600_000),
				MaxArchivesPerCamera: 50,
				Vacuum:               VacuumFileConfig{Run: "on-change"},
			},
		},
		Video: VideoConfig{
			FramesPerSecond: 5,
			Channels:        map[string]VideoChannelEntry{},
			FFmpeg: FFmpegConfig{
				Binary: "ffmpeg",
			},
		},
		Person: PersonConfig{
			Score:             0.6,
			CheckEveryNFrames: 10,
			MaxDetections:     30,
		},
		Motion: MotionConfig{
			DiffThreshold: 12,
			AreaThreshold: 0.02,
			MinIntervalMs: 1000,
		},
		Audio: AudioConfig{
			Channel:       "audio:primary",
			IdleTimeoutMs: 30_000,
			Anomaly: AudioAnomalyConfig{
				SampleRate:           16000,
				FrameSize:            1024,
				HopSize:              512,
				BaselineSmoothing:    0.1,
				MinTriggerDurationMs: 500,
				MinIntervalMs:        2000,
				NightHours:           [2]int{22, 6},
				BlendMinutes:         30,
			},
		},
		Gateway: GatewayConfig{
			ListenAddr:           ":8443",
			RateLimitRPS:         20,
			DefaultFaceThreshold: 0.75,
			SnapshotMaxAgeMs:     int64(time.Hour / time.Millisecond),
		},
	}
}

// ValidationError aggregates every rule violation found in a single
// Validate call, rather than stopping at the first.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration (%d violation(s)): %s", len(e.Violations), strings.Join(e.Violations, "; "))
}

func (e *ValidationError) add(format string, args ...any) {
	e.Violations = append(e.Violations, fmt.Sprintf(format, args...))
}

// Validate checks structural and range constraints across the whole
// configuration and returns a single *ValidationError listing every
// violation found, or nil if the configuration is valid.
func (c *Config) Validate() error {
	verr := &ValidationError{}

	cameraIDs := make(map[string]bool)
	cameraChannels := make(map[string]bool)
	videoChannels := make(map[string]bool)

	for i, cam := range c.Video.Cameras {
		if cam.ID == "" {
			verr.add("video.cameras[%d]: id must not be empty", i)
		} else if cameraIDs[cam.ID] {
			verr.add("video.cameras[%d]: duplicate camera id %q", i, cam.ID)
		} else {
			cameraIDs[cam.ID] = true
		}

		norm := types.NormalizeChannelID(cam.Channel, "video")
		if strings.TrimSpace(cam.Channel) == "" {
			verr.add("video.cameras[%d]: channel must not be empty", i)
		} else if cameraChannels[norm] {
			verr.add("video.cameras[%d]: duplicate camera channel %q", i, cam.Channel)
		} else {
			cameraChannels[norm] = true
		}
		videoChannels[norm] = true
	}

	for key := range c.Video.Channels {
		norm := types.NormalizeChannelID(key, "video")
		referencesCamera := false
		for _, cam := range c.Video.Cameras {
			if types.NormalizeChannelID(cam.Channel, "video") == norm {
				referencesCamera = true
				break
			}
		}
		if !referencesCamera {
			verr.add("video.channels[%q]: references no configured camera", key)
		}
	}

	if c.Motion.DiffThreshold < 0 {
		verr.add("motion.diffThreshold must be >= 0 (got %v)", c.Motion.DiffThreshold)
	}
	if c.Motion.AreaThreshold < 0 || c.Motion.AreaThreshold > 1 {
		verr.add("motion.areaThreshold must be in [0,1] (got %v)", c.Motion.AreaThreshold)
	}
	for key, o := range c.Motion.PerCamera {
		validateMotionOverride(verr, fmt.Sprintf("motion.perCamera[%q]", key), o)
	}
	for key, o := range c.Motion.PerChannel {
		validateMotionOverride(verr, fmt.Sprintf("motion.perChannel[%q]", key), o)
	}

	if c.Person.Score < 0 || c.Person.Score > 1 {
		verr.add("person.score must be in [0,1] (got %v)", c.Person.Score)
	}
	for key, score := range c.Person.PerCamera {
		if score < 0 || score > 1 {
			verr.add("person.perCamera[%q] must be in [0,1] (got %v)", key, score)
		}
	}
	for key, score := range c.Person.PerChannel {
		if score < 0 || score > 1 {
			verr.add("person.perChannel[%q] must be in [0,1] (got %v)", key, score)
		}
	}

	if c.Audio.Channel != "" {
		normAudio := types.NormalizeChannelID(c.Audio.Channel, "audio")
		for videoChannel := range videoChannels {
			if strings.EqualFold(normAudio, videoChannel) {
				verr.add("audio.channel %q must not equal a video channel", c.Audio.Channel)
				break
			}
		}
	}

	validateFallbackList(verr, "audio.micFallbacks.linux", c.Audio.MicFallbacks.Linux)
	validateFallbackList(verr, "audio.micFallbacks.mac", c.Audio.MicFallbacks.Mac)
	validateFallbackList(verr, "audio.micFallbacks.windows", c.Audio.MicFallbacks.Windows)

	for i, rule := range c.Events.Suppression.Rules {
		path := fmt.Sprintf("events.suppression.rules[%d]", i)
		if rule.MaxEvents > 0 && rule.PerMs < int64(rule.MaxEvents) {
			verr.add("%s: perMs must be >= maxEvents (got perMs=%d maxEvents=%d)", path, rule.PerMs, rule.MaxEvents)
		}
		if rule.MaxEvents > 0 && rule.SuppressForMs <= 0 {
			verr.add("%s: maxEvents requires suppressForMs to be set", path)
		}
	}

	if strings.TrimSpace(c.Gateway.ListenAddr) == "" {
		verr.add("gateway.listenAddr must not be empty")
	}
	if c.Gateway.RateLimitRPS < 0 {
		verr.add("gateway.rateLimitRps must be >= 0 (got %v)", c.Gateway.RateLimitRPS)
	}
	if c.Gateway.DefaultFaceThreshold < 0 || c.Gateway.DefaultFaceThreshold > 1 {
		verr.add("gateway.defaultFaceThreshold must be in [0,1] (got %v)", c.Gateway.DefaultFaceThreshold)
	}
	if c.Gateway.SnapshotMaxAgeMs < 0 {
		verr.add("gateway.snapshotMaxAgeMs must be >= 0 (got %v)", c.Gateway.SnapshotMaxAgeMs)
	}

	if len(verr.Violations) == 0 {
		return nil
	}
	sort.Strings(verr.Violations)
	return verr
}

func validateMotionOverride(verr *ValidationError, path string, o MotionOverride) {
	if o.DiffThreshold != nil && *o.DiffThreshold < 0 {
		verr.add("%s.diffThreshold must be >= 0 (got %v)", path, *o.DiffThreshold)
	}
	if o.AreaThreshold != nil && (*o.AreaThreshold < 0 || *o.AreaThreshold > 1) {
		verr.add("%s.areaThreshold must be in [0,1] (got %v)", path, *o.AreaThreshold)
	}
}

func validateFallbackList(verr *ValidationError, path string, devices []FallbackDevice) {
	for i, d := range devices {
		if strings.TrimSpace(d.Device) == "" {
			verr.add("%s[%d].device must not be empty", path, i)
		}
	}
}
