// SPDX-License-Identifier: MIT

// Command guardian runs the edge surveillance supervisor: capture
// pipelines for each configured camera and the audio-anomaly channel,
// the detector-to-event bus with suppression, the retention engine,
// and the HTTP/SSE gateway that exposes all of it to a dashboard.
//
// Usage:
//
//	guardian [--config=PATH] [--log-level=LEVEL]
//	guardian config validate|dump|init [--config=PATH] [--force]
//	guardian devices udev-rule --port=PORT --bus=BUS --dev=DEV [--reload]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/guardian-io/guardian/internal/config"
	"github.com/guardian-io/guardian/internal/lock"
	"github.com/guardian-io/guardian/internal/store"
)

const defaultConfigPath = config.ConfigFilePath

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "devices":
			os.Exit(runDevicesCLI(os.Args[2:]))
		}
	}
	os.Exit(runDaemon(os.Args[1:]))
}

func runDaemon(args []string) int {
	path := defaultConfigPath
	logLevel := "info"
	for _, a := range args {
		switch {
		case a == "-h" || a == "--help":
			printDaemonUsage()
			return 0
		case strings.HasPrefix(a, "--config="):
			path = strings.TrimPrefix(a, "--config=")
		case strings.HasPrefix(a, "--log-level="):
			logLevel = strings.TrimPrefix(a, "--log-level=")
		}
	}

	logger := newLogger(logLevel)

	mgr, err := config.NewManager(path, logger)
	if err != nil {
		logger.Error("load configuration", "path", path, "error", err)
		return 1
	}
	cfg := mgr.Current()

	fl, err := lock.NewFileLock(daemonLockPath(cfg.Database.Path))
	if err != nil {
		logger.Error("prepare instance lock", "error", err)
		return 1
	}
	if err := fl.Acquire(lock.DefaultAcquireTimeout); err != nil {
		logger.Error("another guardian instance is already running against this database", "error", err)
		return 1
	}
	defer fl.Close()

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("open event store", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer st.Close()

	guardian, err := buildApp(cfg, st, logger)
	if err != nil {
		logger.Error("build application", "error", err)
		return 1
	}

	cancelSub := mgr.Subscribe(func(previous, next *config.Config, diff config.DiffSummary) error {
		applyConfigDiff(guardian, next)
		logger.Info("configuration reloaded",
			"camerasAdded", diff.Cameras.Added, "camerasRemoved", diff.Cameras.Removed,
			"camerasChanged", diff.Cameras.Changed)
		return nil
	})
	defer cancelSub()

	if err := mgr.Watch(); err != nil {
		logger.Warn("configuration hot-reload disabled", "error", err)
	}
	defer mgr.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runRetentionLoop(ctx, guardian.retention)

	captureErrCh := make(chan error, 1)
	go func() { captureErrCh <- guardian.capture.Run(ctx) }()

	httpServer := &http.Server{
		Addr:    cfg.Gateway.ListenAddr,
		Handler: guardian.gateway,
	}
	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.Gateway.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
			return
		}
		httpErrCh <- nil
	}()

	captureDone := false
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-captureErrCh:
		captureDone = true
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("capture supervisor exited", "error", err)
		}
		stop()
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("gateway server exited", "error", err)
		}
		stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown", "error", err)
	}

	if !captureDone {
		<-captureErrCh
	}

	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// daemonLockPath derives the single-instance lock path from the event
// database path so two daemons pointed at the same database can never
// run concurrently and race its writes.
func daemonLockPath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), "guardian.lock")
}

func printDaemonUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  guardian [--config=path] [--log-level=level]")
	fmt.Fprintln(os.Stderr, "  guardian config validate|dump|init [--config=path] [--force]")
	fmt.Fprintln(os.Stderr, "  guardian devices udev-rule --port=P --bus=B --dev=D [--reload]")
}
