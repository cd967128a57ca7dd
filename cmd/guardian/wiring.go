// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/guardian-io/guardian/internal/bus"
	"github.com/guardian-io/guardian/internal/capture"
	"github.com/guardian-io/guardian/internal/config"
	"github.com/guardian-io/guardian/internal/detect"
	"github.com/guardian-io/guardian/internal/devices"
	"github.com/guardian-io/guardian/internal/gateway"
	"github.com/guardian-io/guardian/internal/metrics"
	"github.com/guardian-io/guardian/internal/retention"
	"github.com/guardian-io/guardian/internal/store"
	"github.com/guardian-io/guardian/internal/types"
)

// app bundles the long-lived components one configuration produces.
// It is built once at startup. A hot reload only replaces the
// suppression rules and retention config in place (applyConfigDiff);
// camera, audio-channel and gateway settings are not re-applied to the
// running app.
type app struct {
	logger    *slog.Logger
	metrics   *metrics.Registry
	store     *store.Store
	bus       *bus.Bus
	retention *retention.Engine
	capture   *capture.Supervisor
	gateway   *gateway.Server
}

// buildApp wires every subsystem from cfg. The store is opened once
// per process lifetime by the caller and passed in, since closing and
// reopening a SQLite handle on every config reload would interrupt
// in-flight gateway reads.
func buildApp(cfg *config.Config, st *store.Store, logger *slog.Logger) (*app, error) {
	reg := metrics.NewRegistry()

	eb := bus.New(bus.Options{
		Store: st,
		OnWarning: func(w bus.Warning) {
			logger.Warn("suppression warning", "rule", w.RuleID, "type", w.Type, "channel", w.Channel)
		},
	})
	eb.ConfigureSuppression(suppressionRulesFromConfig(cfg))

	ret := retention.New(st, reg, logger, retentionConfigFromFile(cfg.Events.Retention))

	sup := capture.NewSupervisor(logger)
	if err := wireCameras(sup, eb, reg, cfg); err != nil {
		return nil, fmt.Errorf("wire cameras: %w", err)
	}
	if err := wireAudio(sup, eb, reg, cfg, logger); err != nil {
		return nil, fmt.Errorf("wire audio: %w", err)
	}

	gw := gateway.New(gateway.Options{
		Store:                st,
		Bus:                  eb,
		Metrics:              reg,
		StaticDir:            cfg.Gateway.StaticDir,
		SnapshotDirs:         cfg.Events.Retention.SnapshotDirs,
		SnapshotMaxAge:       time.Duration(cfg.Gateway.SnapshotMaxAgeMs) * time.Millisecond,
		DefaultFaceThreshold: cfg.Gateway.DefaultFaceThreshold,
		RateLimitRPS:         cfg.Gateway.RateLimitRPS,
		Logger:               logger,
	})

	return &app{
		logger:    logger,
		metrics:   reg,
		store:     st,
		bus:       eb,
		retention: ret,
		capture:   sup,
		gateway:   gw,
	}, nil
}

func suppressionRulesFromConfig(cfg *config.Config) []bus.SuppressionRule {
	rules := make([]bus.SuppressionRule, 0, len(cfg.Events.Suppression.Rules))
	for _, r := range cfg.Events.Suppression.Rules {
		rules = append(rules, bus.SuppressionRule{
			ID: r.ID,
			Matcher: bus.Matcher{
				Detector:        r.Detector,
				Source:          r.Source,
				Channel:         r.Channel,
				SeverityAtLeast: types.Severity(r.SeverityAtLeast),
			},
			SuppressForMs: r.SuppressForMs,
			MaxEvents:     r.MaxEvents,
			PerMs:         r.PerMs,
			TimelineTTLMs: r.TimelineTTLMs,
			Reason:        r.Reason,
		})
	}
	return rules
}

func retentionConfigFromFile(rc config.RetentionFileConfig) retention.Config {
	mode := retention.SnapshotArchive
	if rc.SnapshotMode == string(retention.SnapshotDelete) {
		mode = retention.SnapshotDelete
	}
	return retention.Config{
		Enabled:       rc.Enabled,
		RetentionDays: rc.RetentionDays,
		IntervalMs:    rc.IntervalMs,
		ArchiveDir:    rc.ArchiveDir,
		SnapshotDirs:  rc.SnapshotDirs,
		Snapshot: retention.SnapshotPolicy{
			Mode:                 mode,
			RetentionDays:        rc.RetentionDays,
			MaxArchivesPerCamera: rc.MaxArchivesPerCamera,
			PerCameraMax:         rc.PerCameraMax,
		},
		Vacuum: retention.VacuumConfig{
			Run:      retention.VacuumRun(rc.Vacuum.Run),
			Reindex:  rc.Vacuum.Reindex,
			Analyze:  rc.Vacuum.Analyze,
			Optimize: rc.Vacuum.Optimize,
			Pragmas:  rc.Vacuum.Pragmas,
		},
	}
}

// wireCameras registers one capture pipeline per configured camera,
// each feeding a motion detector (and, behind it, a person-detection
// gate whose actual inference backend is an external collaborator
// this module never implements) that publishes accepted events onto
// the bus.
func wireCameras(sup *capture.Supervisor, eb *bus.Bus, reg *metrics.Registry, cfg *config.Config) error {
	for _, cam := range cfg.Video.Cameras {
		cam := cam
		motionOpts := detect.DefaultMotionOptions()
		if cfg.Motion.MinIntervalMs > 0 {
			motionOpts.MinIntervalMs = cfg.Motion.MinIntervalMs
		}
		detector := detect.NewMotionDetector(motionOpts, detect.PNGFrameStats)

		// PersonDetectFunc has no in-tree implementation; absent an
		// external inference backend, the gate never fires.
		gate := detect.NewPersonGate(cfg.Person.CheckEveryNFrames, cfg.Person.MaxDetections,
			func(frame []byte) (bool, float64, error) { return false, 0, nil })

		handlers := capture.Handlers{
			OnFrame: func(channel string, data []byte, ts time.Time) {
				tsMs := ts.UnixMilli()
				if ev, ok := detector.HandleFrame(data, tsMs); ok {
					gate.OnMotionEvent()
					publishDetectorEvent(eb, "motion", cam.ID, channel, ev.Mean, ev.Area)
				}
				if pev, found, err := gate.HandleFrame(data, tsMs); err == nil && found {
					publishDetectorEvent(eb, "person", cam.ID, channel, pev.Score, 0)
				}
			},
			OnRecover: func(ev capture.RecoverEvent) {
				reg.RecordPipelineRestart("ffmpeg", ev.Reason, metrics.RestartOpts{
					Channel: ev.Channel, DelayMs: ev.DelayMs, Attempt: ev.Attempt,
					JitterMs: ev.Meta.AppliedJitterMs,
				})
			},
			OnTransportChange: func(ev capture.TransportChangeEvent) {
				reg.RecordTransportFallback("ffmpeg", ev.Reason, metrics.TransportOpts{
					Channel: ev.Channel, From: ev.From, To: ev.To,
					ResetsBackoff: ev.ResetsBackoff, ResetsCircuitBreaker: ev.ResetsCircuitBreaker,
				})
			},
		}

		pcfg := capture.PipelineConfig{
			Channel:    cam.Channel,
			Format:     capture.FormatVideo,
			Input:      cam.Input,
			FFmpegPath: cfg.Video.FFmpeg.Binary,
			InputArgs:  cfg.Video.FFmpeg.InputArgs,
			FrameMagic: []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'},
			RTSPTransportSequence: []string{cfg.Video.FFmpeg.RTSPTransport, "tcp", "udp"},
		}
		if _, err := sup.Add(pcfg, handlers); err != nil {
			return fmt.Errorf("camera %s: %w", cam.ID, err)
		}
	}
	return nil
}

// wireAudio registers the single audio-anomaly capture pipeline, when
// configured.
func wireAudio(sup *capture.Supervisor, eb *bus.Bus, reg *metrics.Registry, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Audio.Channel == "" {
		return nil
	}

	res, err := devices.Resolve(procASoundPath, cfg.Audio.MicFallbacks)
	if err != nil {
		return fmt.Errorf("resolve audio capture device: %w", err)
	}
	if res.Capabilities != nil {
		logger.Info("audio capture device resolved",
			"device", res.ALSADevice, "usedFallback", res.UsedFallback,
			"sampleRates", res.Capabilities.SampleRates, "channels", res.Capabilities.Channels)
	} else {
		logger.Info("audio capture device resolved", "device", res.ALSADevice, "usedFallback", res.UsedFallback)
	}

	audioDetector := detect.NewAudioAnomalyDetector(detect.DefaultAudioOptions())
	handlers := capture.Handlers{
		OnFrame: func(channel string, data []byte, ts time.Time) {
			samples := bytesToInt16(data)
			for _, ev := range audioDetector.PushSamples(samples, ts.UnixMilli()) {
				publishDetectorEvent(eb, "audio", "", channel, ev.RMS, ev.Centroid)
			}
		},
		OnRecover: func(ev capture.RecoverEvent) {
			reg.RecordPipelineRestart("audio", ev.Reason, metrics.RestartOpts{
				Channel: ev.Channel, DelayMs: ev.DelayMs, Attempt: ev.Attempt,
				JitterMs: ev.Meta.AppliedJitterMs,
			})
		},
	}

	pcfg := capture.PipelineConfig{
		Channel:       cfg.Audio.Channel,
		Format:        capture.FormatAudio,
		Input:         res.ALSADevice,
		FFmpegPath:    cfg.Video.FFmpeg.Binary,
		PCMChunkBytes: 4096,
	}
	_, err = sup.Add(pcfg, handlers)
	return err
}

// procASoundPath is the kernel-exposed directory audio device detection
// reads from on Linux hosts.
const procASoundPath = "/proc/asound"

func bytesToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(data[2*i]) | int16(data[2*i+1])<<8
	}
	return out
}

func publishDetectorEvent(eb *bus.Bus, detector, camera, channel string, a, b float64) {
	sev := types.SeverityInfo
	if a > 0 {
		sev = types.SeverityWarning
	}
	_, _ = eb.Publish(types.Event{
		Ts:       time.Now().UnixMilli(),
		Source:   "capture",
		Detector: detector,
		Severity: sev,
		Message:  fmt.Sprintf("%s detector triggered on %s", detector, channel),
		Meta: types.Meta{
			Channel: channel,
			Camera:  camera,
			Thresholds: map[string]any{
				"metricA": a,
				"metricB": b,
			},
		},
	})
}

// applyConfigDiff mutates the live bus/retention config in place for a
// successful reload. It does not start, stop or update capture
// pipelines, so added, removed or changed cameras keep their startup
// wiring.
func applyConfigDiff(a *app, next *config.Config) {
	a.bus.ConfigureSuppression(suppressionRulesFromConfig(next))
	a.retention.UpdateConfig(retentionConfigFromFile(next.Events.Retention))
}

// runRetentionLoop starts the retention engine's ticker and blocks
// until ctx is cancelled.
func runRetentionLoop(ctx context.Context, ret *retention.Engine) {
	stop := ret.Start(ctx)
	<-ctx.Done()
	stop()
}
