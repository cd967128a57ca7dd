package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/guardian-io/guardian/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveEventAssignsMonotonicID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e1, err := s.SaveEvent(types.Event{Ts: 100, Source: "video:lobby", Detector: "motion", Severity: types.SeverityWarning, Message: "m1"})
	require.NoError(t, err)
	e2, err := s.SaveEvent(types.Event{Ts: 50, Source: "video:lobby", Detector: "motion", Severity: types.SeverityWarning, Message: "m2"})
	require.NoError(t, err)

	require.Greater(t, e2.ID, e1.ID)

	items, total, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, items, 2)
}

func TestFilterByChannelAndSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.SaveEvent(types.Event{Ts: 1, Source: "video:lobby", Detector: "motion", Severity: types.SeverityWarning, Message: "Front door motion", Meta: types.Meta{Channel: "video:lobby"}})
	require.NoError(t, err)
	_, err = s.SaveEvent(types.Event{Ts: 2, Source: "video:porch", Detector: "person", Severity: types.SeverityCritical, Message: "Person detected", Meta: types.Meta{Channel: "video:porch"}})
	require.NoError(t, err)

	items, total, err := s.List(ctx, Filter{Channels: []string{"video:porch"}})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "video:porch", items[0].Meta.Channel)

	items, total, err = s.List(ctx, Filter{Search: "motion"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "Front door motion", items[0].Message)
}

func TestListResumeByMinID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		e, err := s.SaveEvent(types.Event{Ts: int64(i), Source: "video:lobby", Detector: "motion", Severity: types.SeverityInfo, Message: "x"})
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	items, _, err := s.List(ctx, Filter{MinID: ids[0]})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, ids[1], items[0].ID)
	require.Equal(t, ids[2], items[1].ID)
}

func TestDeleteOlderThan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.SaveEvent(types.Event{Ts: 1000, Source: "x", Detector: "motion", Severity: types.SeverityInfo, Message: "old"})
	require.NoError(t, err)
	_, err = s.SaveEvent(types.Event{Ts: 5000, Source: "x", Detector: "motion", Severity: types.SeverityInfo, Message: "new"})
	require.NoError(t, err)

	removed, err := s.DeleteOlderThan(ctx, 2000)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, total, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func TestEnsureIndexesReportsCreatedOnlyOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.EnsureIndexes(ctx)
	require.NoError(t, err)
	require.Contains(t, created, "idx_events_ts")

	createdAgain, err := s.EnsureIndexes(ctx)
	require.NoError(t, err)
	require.Empty(t, createdAgain)

	_, err = s.DB().Exec(`DROP INDEX idx_events_ts`)
	require.NoError(t, err)

	createdAfterDrop, err := s.EnsureIndexes(ctx)
	require.NoError(t, err)
	require.Contains(t, createdAfterDrop, "idx_events_ts")
}
