package retention

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store double that tracks index state so
// tests can force idx_events_ts to go missing between runs, the way
// spec scenario S4 requires.
type fakeStore struct {
	events         map[int64]int64 // id -> ts
	nextID         int64
	diskBytes      int64
	indexes        map[string]bool
	vacuumCalls    int
	vacuumErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:  make(map[int64]int64),
		indexes: make(map[string]bool),
	}
}

func (s *fakeStore) add(ts int64) {
	s.nextID++
	s.events[s.nextID] = ts
}

func (s *fakeStore) DeleteOlderThan(ctx context.Context, cutoffMs int64) (int, error) {
	n := 0
	for id, ts := range s.events {
		if ts < cutoffMs {
			delete(s.events, id)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) DiskUsageBytes() (int64, error) { return s.diskBytes, nil }

func (s *fakeStore) EnsureIndexes(ctx context.Context) ([]string, error) {
	declared := []string{"idx_events_ts", "idx_events_detector"}
	var created []string
	for _, name := range declared {
		if !s.indexes[name] {
			s.indexes[name] = true
			created = append(created, name)
		}
	}
	return created, nil
}

func (s *fakeStore) Vacuum(ctx context.Context, reindex, analyze, optimize bool, pragmas []string) error {
	s.vacuumCalls++
	return s.vacuumErr
}

func (s *fakeStore) dropIndex(name string) {
	delete(s.indexes, name)
}

func baseConfig() Config {
	return Config{
		Enabled:       true,
		RetentionDays: 30,
		Vacuum:        VacuumConfig{Run: VacuumOnChange},
	}
}

func TestRunOnceDeletesExpiredEvents(t *testing.T) {
	store := newFakeStore()
	store.add(0)
	store.add(time.Now().UnixMilli())

	e := New(store, nil, nil, baseConfig())
	result, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.RemovedEvents)
}

// TestOnChangeVacuumSkippedWhenNothingChangedThenRunsAfterIndexDrop
// mirrors spec scenario S4: a no-op run does not vacuum; dropping
// idx_events_ts forces ensuredIndexes/indexVersionChanged/vacuum on
// the next run.
func TestOnChangeVacuumSkippedWhenNothingChangedThenRunsAfterIndexDrop(t *testing.T) {
	store := newFakeStore()
	e := New(store, nil, nil, baseConfig())

	// Prime the indexes so the first accounted run is a true no-op.
	_, err := store.EnsureIndexes(context.Background())
	require.NoError(t, err)

	result, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	require.False(t, result.IndexVersionChanged)
	require.Equal(t, 0, store.vacuumCalls)

	store.dropIndex("idx_events_ts")

	result, err = e.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, result.IndexVersionChanged)
	require.Contains(t, result.EnsuredIndexes, "idx_events_ts")
	require.Equal(t, 1, store.vacuumCalls)
}

func TestVacuumNeverSkipsEvenOnChange(t *testing.T) {
	store := newFakeStore()
	store.add(0)
	cfg := baseConfig()
	cfg.Vacuum.Run = VacuumNever
	e := New(store, nil, nil, cfg)

	_, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, store.vacuumCalls)
}

func TestSweepSnapshotDirArchivesExpiredFiles(t *testing.T) {
	store := newFakeStore()
	snapDir := t.TempDir()
	archiveDir := t.TempDir()

	stale := filepath.Join(snapDir, "old.png")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	oldTime := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, oldTime, oldTime))

	cfg := baseConfig()
	cfg.ArchiveDir = archiveDir
	cfg.SnapshotDirs = []string{snapDir}
	cfg.Snapshot = SnapshotPolicy{Mode: SnapshotArchive, RetentionDays: 1}

	e := New(store, nil, nil, cfg)
	result, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.ArchivedSnapshots)

	_, statErr := os.Stat(stale)
	require.True(t, os.IsNotExist(statErr), "original file should have been moved")
}

func TestSweepSnapshotDirDeletesExpiredFilesInDeleteMode(t *testing.T) {
	store := newFakeStore()
	snapDir := t.TempDir()

	stale := filepath.Join(snapDir, "old.png")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	oldTime := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, oldTime, oldTime))

	cfg := baseConfig()
	cfg.SnapshotDirs = []string{snapDir}
	cfg.Snapshot = SnapshotPolicy{Mode: SnapshotDelete, RetentionDays: 1}

	e := New(store, nil, nil, cfg)
	_, err := e.RunOnce(context.Background())
	require.NoError(t, err)

	_, statErr := os.Stat(stale)
	require.True(t, os.IsNotExist(statErr))
}
