package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spacecal/internal/model"
)

func openTestSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := OpenSQLite(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := openTestSQLite(t)

	created := time.Date(2024, time.March, 5, 8, 0, 0, 0, time.UTC)
	require.NoError(t, b.Insert(ctx, model.Event{
		ID: "e1", UserID: "alice", Text: "Launch", Date: "2024-03-05",
		AlarmTime: "08:30", CreatedAt: created,
	}))
	require.NoError(t, b.Insert(ctx, model.Event{
		ID: "e2", UserID: "alice", Text: "Debrief", Date: "2024-03-06",
		CreatedAt: created.Add(time.Minute),
	}))
	require.NoError(t, b.Insert(ctx, model.Event{
		ID: "e3", UserID: "bob", Text: "Other", Date: "2024-03-06", CreatedAt: created,
	}))

	events, err := b.ListByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "08:30", events[0].AlarmTime)
	assert.True(t, events[0].CreatedAt.Equal(created))
	assert.Empty(t, events[1].AlarmTime)
}

func TestSQLitePatchKeepsAlarmTriggered(t *testing.T) {
	ctx := context.Background()
	b := openTestSQLite(t)
	require.NoError(t, b.Insert(ctx, model.Event{ID: "e1", UserID: "alice", Text: "x", Date: "2024-03-05", AlarmTime: "08:00"}))

	owner, err := b.Patch(ctx, "e1", model.MarkTriggered())
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	// An explicit false never clears the flag at the storage layer either.
	reset := false
	_, err = b.Patch(ctx, "e1", model.EventPatch{AlarmTriggered: &reset, Completed: boolPtr(true)})
	require.NoError(t, err)

	events, err := b.ListByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].AlarmTriggered)
	assert.True(t, events[0].Completed)
}

func TestSQLiteMissingRows(t *testing.T) {
	ctx := context.Background()
	b := openTestSQLite(t)

	_, err := b.Patch(ctx, "nope", model.SetCompleted(true))
	assert.ErrorIs(t, err, ErrNotFound)
	err = b.Remove(ctx, "alice", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteRemove(t *testing.T) {
	ctx := context.Background()
	b := openTestSQLite(t)
	require.NoError(t, b.Insert(ctx, model.Event{ID: "e1", UserID: "alice", Text: "x", Date: "2024-03-05"}))

	assert.ErrorIs(t, b.Remove(ctx, "bob", "e1"), ErrNotFound)
	events, err := b.ListByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.NoError(t, b.Remove(ctx, "alice", "e1"))
	events, err = b.ListByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSQLiteBackedStoreFeed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, openTestSQLite(t))

	sub, err := s.Subscribe(ctx, "alice")
	require.NoError(t, err)
	defer sub.Close()
	nextSnapshot(t, sub, hasLen(0))

	id, err := s.Create(ctx, model.NewEvent{Text: "Orbit", Date: "2024-03-05", AlarmTime: "10:00", UserID: "alice"})
	require.NoError(t, err)
	nextSnapshot(t, sub, hasLen(1))

	require.NoError(t, s.Update(ctx, id, model.MarkTriggered()))
	snap := nextSnapshot(t, sub, func(evs []model.Event) bool { return len(evs) == 1 && evs[0].AlarmTriggered })
	assert.Equal(t, "10:00", snap[0].AlarmTime)
}

func boolPtr(v bool) *bool { return &v }

func TestSQLiteImportLedger(t *testing.T) {
	ctx := context.Background()
	b := openTestSQLite(t)
	at := time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)

	found, err := b.HasImport(ctx, "alice", "standup|2024-03-04")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, b.RecordImport(ctx, "alice", "standup|2024-03-04", at))
	require.NoError(t, b.RecordImport(ctx, "alice", "standup|2024-03-04", at.Add(time.Hour)))

	found, err = b.HasImport(ctx, "alice", "standup|2024-03-04")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = b.HasImport(ctx, "bob", "standup|2024-03-04")
	require.NoError(t, err)
	assert.False(t, found)
}
