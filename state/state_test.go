package state

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T, opts ...Option) *Store {
	t.Helper()

	opts = append([]Option{WithNow(func() time.Time { return testNow })}, opts...)
	s := New(opts...)
	require.NoError(t, s.Open(filepath.Join(t.TempDir(), "state.db")))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(n int) ToggleRecord {
	return ToggleRecord{
		ProfileID:   "abc123",
		ProfileName: "Home",
		Action:      "paused",
		Until:       testNow.Add(time.Hour),
		At:          testNow.Add(time.Duration(n) * time.Minute),
	}
}

func TestSelectedProfile(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, err := s.SelectedProfile(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetSelectedProfile(ctx, "abc123"))

	id, err := s.SelectedProfile(ctx)
	require.NoError(t, err)
	require.Equal(t, "abc123", id)

	require.NoError(t, s.SetSelectedProfile(ctx, "def456"))
	id, err = s.SelectedProfile(ctx)
	require.NoError(t, err)
	require.Equal(t, "def456", id)
}

func TestPauseDuration(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, err := s.PauseDuration(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetPauseDuration(ctx, 45*time.Minute))

	d, err := s.PauseDuration(ctx)
	require.NoError(t, err)
	require.Equal(t, 45*time.Minute, d)
}

func TestAppendToggleAssignsIDAndTime(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.AppendToggle(ctx, ToggleRecord{ProfileID: "abc123", Action: "resumed"}))

	records, err := s.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotEmpty(t, records[0].ID)
	require.Equal(t, testNow, records[0].At)
}

func TestHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	for i := 0; i < 5; i++ {
		rec := record(i)
		rec.ID = fmt.Sprintf("rec-%d", i)
		require.NoError(t, s.AppendToggle(ctx, rec))
	}

	records, err := s.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 5)
	require.Equal(t, "rec-4", records[0].ID)
	require.Equal(t, "rec-0", records[4].ID)

	limited, err := s.History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, "rec-4", limited[0].ID)
	require.Equal(t, "rec-3", limited[1].ID)
}

func TestHistoryPruned(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, WithMaxHistory(3))

	for i := 0; i < 10; i++ {
		rec := record(i)
		rec.ID = fmt.Sprintf("rec-%d", i)
		require.NoError(t, s.AppendToggle(ctx, rec))
	}

	records, err := s.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "rec-9", records[0].ID)
	require.Equal(t, "rec-7", records[2].ID)
}

func TestExportRestore(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.SetSelectedProfile(ctx, "abc123"))
	for i := 0; i < 3; i++ {
		rec := record(i)
		rec.ID = fmt.Sprintf("rec-%d", i)
		require.NoError(t, s.AppendToggle(ctx, rec))
	}

	snap, err := s.Export(ctx)
	require.NoError(t, err)
	require.Equal(t, "abc123", snap.SelectedProfile)
	require.Len(t, snap.History, 3)
	require.Equal(t, testNow, snap.CreatedAt)

	// Restore into a fresh store.
	other := openStore(t)
	require.NoError(t, other.SetSelectedProfile(ctx, "stale"))
	require.NoError(t, other.AppendToggle(ctx, record(99)))

	require.NoError(t, other.Restore(ctx, snap))

	id, err := other.SelectedProfile(ctx)
	require.NoError(t, err)
	require.Equal(t, "abc123", id)

	records, err := other.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "rec-2", records[0].ID)
	require.Equal(t, "rec-0", records[2].ID)
}

func TestRestoreClearsSelectionWhenSnapshotHasNone(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.SetSelectedProfile(ctx, "abc123"))
	require.NoError(t, s.Restore(ctx, &Snapshot{CreatedAt: testNow}))

	_, err := s.SelectedProfile(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	records, err := s.History(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s := New()
	require.NoError(t, s.Open(path))
	require.NoError(t, s.SetSelectedProfile(ctx, "abc123"))
	require.NoError(t, s.AppendToggle(ctx, record(0)))
	require.NoError(t, s.Close())

	s = New()
	require.NoError(t, s.Open(path))
	defer func() { _ = s.Close() }()

	id, err := s.SelectedProfile(ctx)
	require.NoError(t, err)
	require.Equal(t, "abc123", id)

	records, err := s.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
}
