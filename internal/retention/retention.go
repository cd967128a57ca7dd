// Package retention implements the periodic job that prunes expired
// events, rotates per-camera snapshot archives, keeps database indexes
// current, and compacts the store.
package retention

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/guardian-io/guardian/internal/metrics"
)

// SnapshotMode selects how expired snapshot files are disposed of.
type SnapshotMode string

const (
	SnapshotArchive SnapshotMode = "archive"
	SnapshotDelete  SnapshotMode = "delete"
)

// VacuumRun selects when the vacuum sequence executes.
type VacuumRun string

const (
	VacuumNever    VacuumRun = "never"
	VacuumAlways   VacuumRun = "always"
	VacuumOnChange VacuumRun = "on-change"
)

// VacuumConfig controls the compaction sequence run at the end of
// each retention pass.
type VacuumConfig struct {
	Run      VacuumRun
	Reindex  bool
	Analyze  bool
	Optimize bool
	Pragmas  []string
}

// SnapshotPolicy governs expiry and disposal of files under a
// snapshot directory.
type SnapshotPolicy struct {
	Mode             SnapshotMode
	RetentionDays    int
	MaxArchivesPerCamera int
	PerCameraMax     map[string]int
}

// Config is the Retention Engine's full configuration, matching the
// RetentionConfig data model.
type Config struct {
	Enabled       bool
	RetentionDays int
	IntervalMs    int64
	ArchiveDir    string
	SnapshotDirs  []string
	Snapshot      SnapshotPolicy
	Vacuum        VacuumConfig
}

// Store is the subset of the event store's contract the retention
// engine needs beyond plain persistence: disk accounting, bulk
// deletion, and index/vacuum maintenance.
type Store interface {
	DeleteOlderThan(ctx context.Context, cutoffMs int64) (int, error)
	DiskUsageBytes() (int64, error)
	EnsureIndexes(ctx context.Context) ([]string, error)
	Vacuum(ctx context.Context, reindex, analyze, optimize bool, extraPragmas []string) error
}

// Clock abstracts "now" so tests can drive deterministic cutoffs.
type Clock func() time.Time

// Result summarizes one retention run, matching recordRetentionRun's
// payload shape.
type Result struct {
	RemovedEvents       int
	ArchivedSnapshots   int
	PrunedArchives      int
	DiskSavingsBytes    int64
	EnsuredIndexes      []string
	IndexVersionChanged bool
	PerCamera           map[string]CameraResult
	Warnings            []Warning
}

// CameraResult is the per-camera sub-total within a Result.
type CameraResult struct {
	ArchivedSnapshots int
	PrunedArchives    int
}

// Warning mirrors recordRetentionWarning's payload: camera is empty
// for engine-wide failures (e.g. vacuum).
type Warning struct {
	Camera string
	Path   string
	Reason string
}

// Engine runs retention passes on a timer, coalescing concurrent
// invocations so a tick arriving while a run is in flight is skipped
// rather than queued.
type Engine struct {
	store   Store
	metrics *metrics.Registry
	logger  *slog.Logger
	clock   Clock

	mu     sync.Mutex
	cfg    Config
	cancel context.CancelFunc
	group  singleflight.Group
}

// New builds an Engine. metricsReg and logger may be nil in tests.
func New(store Store, metricsReg *metrics.Registry, logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		store:   store,
		metrics: metricsReg,
		logger:  logger,
		clock:   time.Now,
		cfg:     cfg,
	}
}

// UpdateConfig swaps the active configuration. A running periodic
// timer keeps its interval until Start is invoked again; it re-reads
// Enabled on every tick, and the other settings apply from the next
// run.
func (e *Engine) UpdateConfig(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

// RunOnce executes a single retention pass synchronously, coalescing
// with any run already in flight: a caller invoking RunOnce while one
// is active receives that in-flight run's result rather than starting
// a second pass.
func (e *Engine) RunOnce(ctx context.Context) (Result, error) {
	v, err, _ := e.group.Do("run", func() (any, error) {
		return e.runOnceLocked(ctx)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// Start launches the periodic timer; it returns a stop function. A
// disabled config is observable as a single "retention disabled,
// skipping scheduled run" log line and no further runOnce calls until
// Start is invoked again with Enabled=true.
func (e *Engine) Start(ctx context.Context) func() {
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	cfg := e.cfg
	e.mu.Unlock()

	if !cfg.Enabled {
		e.logger.Info("retention disabled, skipping scheduled run")
		return cancel
	}

	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				e.mu.Lock()
				enabled := e.cfg.Enabled
				e.mu.Unlock()
				if !enabled {
					e.logger.Info("retention disabled, skipping scheduled run")
					continue
				}
				if _, err := e.RunOnce(runCtx); err != nil {
					e.logger.Error("retention run failed", "error", err)
				}
				// Drop a tick that fired while the run was in flight so
				// it does not start a second run straight away.
				select {
				case <-ticker.C:
				default:
				}
			}
		}
	}()

	return cancel
}

func (e *Engine) runOnceLocked(ctx context.Context) (Result, error) {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	result := Result{PerCamera: make(map[string]CameraResult)}

	diskBefore, err := e.store.DiskUsageBytes()
	if err != nil {
		return Result{}, fmt.Errorf("retention: disk usage before: %w", err)
	}

	now := e.clock()
	cutoff := now.Add(-time.Duration(cfg.RetentionDays) * 24 * time.Hour).UnixMilli()
	removed, err := e.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return Result{}, fmt.Errorf("retention: delete events: %w", err)
	}
	result.RemovedEvents = removed

	snapshotCutoff := now.Add(-time.Duration(cfg.Snapshot.RetentionDays) * 24 * time.Hour)
	for _, dir := range cfg.SnapshotDirs {
		camera := filepath.Base(dir)
		archived, warnings := e.sweepSnapshotDir(dir, camera, cfg, snapshotCutoff)
		result.Warnings = append(result.Warnings, warnings...)
		if archived > 0 {
			cr := result.PerCamera[camera]
			cr.ArchivedSnapshots += archived
			result.PerCamera[camera] = cr
			result.ArchivedSnapshots += archived
		}
	}

	if cfg.ArchiveDir != "" {
		pruned, err := e.rotateArchives(cfg)
		if err != nil {
			result.Warnings = append(result.Warnings, Warning{Path: cfg.ArchiveDir, Reason: "archive-rotation-failed"})
		}
		for camera, n := range pruned {
			cr := result.PerCamera[camera]
			cr.PrunedArchives += n
			result.PerCamera[camera] = cr
			result.PrunedArchives += n
		}
	}

	ensured, err := e.store.EnsureIndexes(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("retention: ensure indexes: %w", err)
	}
	result.EnsuredIndexes = ensured
	result.IndexVersionChanged = len(ensured) > 0

	shouldVacuum := false
	switch cfg.Vacuum.Run {
	case VacuumAlways:
		shouldVacuum = true
	case VacuumOnChange:
		shouldVacuum = result.RemovedEvents > 0 || result.PrunedArchives > 0 || result.ArchivedSnapshots > 0 || result.IndexVersionChanged
	case VacuumNever, "":
		shouldVacuum = false
	}

	if shouldVacuum {
		if err := e.store.Vacuum(ctx, cfg.Vacuum.Reindex, cfg.Vacuum.Analyze, cfg.Vacuum.Optimize, cfg.Vacuum.Pragmas); err != nil {
			e.logger.Warn("vacuum failed", "error", err)
			result.Warnings = append(result.Warnings, Warning{Path: "vacuum", Reason: "vacuum-failed"})
		}
	}

	diskAfter, err := e.store.DiskUsageBytes()
	if err != nil {
		return Result{}, fmt.Errorf("retention: disk usage after: %w", err)
	}
	savings := diskBefore - diskAfter
	if savings < 0 {
		savings = 0
	}
	result.DiskSavingsBytes = savings

	if e.metrics != nil {
		perCamera := make(map[string]metrics.CameraRunResult, len(result.PerCamera))
		for camera, cr := range result.PerCamera {
			perCamera[camera] = metrics.CameraRunResult{
				ArchivedSnapshots: int64(cr.ArchivedSnapshots),
				PrunedArchives:    int64(cr.PrunedArchives),
			}
		}
		e.metrics.RecordRetentionRun(metrics.RetentionRunResult{
			RemovedEvents:     int64(result.RemovedEvents),
			ArchivedSnapshots: int64(result.ArchivedSnapshots),
			PrunedArchives:    int64(result.PrunedArchives),
			DiskSavingsBytes:  result.DiskSavingsBytes,
			PerCamera:         perCamera,
		})
		for _, w := range result.Warnings {
			e.metrics.RecordRetentionWarning(metrics.RetentionWarning{
				Camera: w.Camera,
				Path:   w.Path,
				Reason: w.Reason,
			})
		}
	}

	return result, nil
}

// sweepSnapshotDir walks dir recursively, disposing of any file older
// than cutoff per the configured SnapshotMode, and returns the count
// archived (0 for delete mode) plus any per-file warnings.
func (e *Engine) sweepSnapshotDir(dir, camera string, cfg Config, cutoff time.Time) (int, []Warning) {
	var archived int
	var warnings []Warning

	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			warnings = append(warnings, Warning{Camera: camera, Path: path, Reason: "walk-failed"})
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}

		switch cfg.Snapshot.Mode {
		case SnapshotDelete:
			if err := os.Remove(path); err != nil {
				warnings = append(warnings, Warning{Camera: camera, Path: path, Reason: "delete-failed"})
			}
		default: // SnapshotArchive
			rel, relErr := filepath.Rel(dir, path)
			if relErr != nil {
				rel = filepath.Base(path)
			}
			dest := filepath.Join(cfg.ArchiveDir, camera, info.ModTime().UTC().Format("2006-01-02"), rel)
			if err := moveFile(path, dest); err != nil {
				warnings = append(warnings, Warning{Camera: camera, Path: path, Reason: "archive-move-failed"})
				return nil
			}
			archived++
		}
		return nil
	})

	return archived, warnings
}

// moveFile renames src to dest, falling back to copy-then-unlink on a
// cross-device rename (EXDEV), which a plain os.Rename cannot satisfy
// when the archive directory lives on a different filesystem.
func moveFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return err
	}
	return copyThenUnlink(src, dest)
}

func copyThenUnlink(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// rotateArchives retains the most recent N files per camera directory
// under ArchiveDir and deletes the rest, returning the prune count per
// camera.
func (e *Engine) rotateArchives(cfg Config) (map[string]int, error) {
	entries, err := os.ReadDir(cfg.ArchiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	pruned := make(map[string]int)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		camera := entry.Name()
		limit := cfg.Snapshot.MaxArchivesPerCamera
		if n, ok := cfg.Snapshot.PerCameraMax[camera]; ok {
			limit = n
		}
		if limit <= 0 {
			continue
		}

		var files []string
		_ = filepath.Walk(filepath.Join(cfg.ArchiveDir, camera), func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return nil
			}
			files = append(files, path)
			return nil
		})
		if len(files) <= limit {
			continue
		}

		sort.Slice(files, func(i, j int) bool {
			fi, _ := os.Stat(files[i])
			fj, _ := os.Stat(files[j])
			return fi.ModTime().After(fj.ModTime())
		})

		for _, stale := range files[limit:] {
			if err := os.Remove(stale); err == nil {
				pruned[camera]++
			}
		}
	}
	return pruned, nil
}
