package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spacecal/internal/model"
)

func newMockPostgres(t *testing.T) (*PostgresBackend, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS events").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_events_user").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS imports").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	b, err := newPostgresBackend(context.Background(), mock)
	require.NoError(t, err)
	return b, mock
}

func TestPostgresInsert(t *testing.T) {
	b, mock := newMockPostgres(t)
	created := time.Date(2024, time.March, 5, 8, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO events").
		WithArgs("e1", "alice", "Launch", "2024-03-05", pgxmock.AnyArg(), false, false, created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := b.Insert(context.Background(), model.Event{
		ID: "e1", UserID: "alice", Text: "Launch", Date: "2024-03-05", AlarmTime: "08:30", CreatedAt: created,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPatchReturnsOwner(t *testing.T) {
	b, mock := newMockPostgres(t)

	mock.ExpectQuery("UPDATE events").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "e1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow("alice"))

	owner, err := b.Patch(context.Background(), "e1", model.MarkTriggered())
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMissingRowsMapToNotFound(t *testing.T) {
	b, mock := newMockPostgres(t)

	mock.ExpectQuery("UPDATE events").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "nope").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("DELETE FROM events").
		WithArgs("nope", "alice").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	_, err := b.Patch(context.Background(), "nope", model.SetCompleted(true))
	assert.ErrorIs(t, err, ErrNotFound)
	err = b.Remove(context.Background(), "alice", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRemoveIsScopedToOwner(t *testing.T) {
	b, mock := newMockPostgres(t)

	mock.ExpectExec("DELETE FROM events WHERE id=\\$1 AND user_id=\\$2").
		WithArgs("e1", "alice").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, b.Remove(context.Background(), "alice", "e1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListByUser(t *testing.T) {
	b, mock := newMockPostgres(t)
	created := time.Date(2024, time.March, 5, 8, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"id", "user_id", "text", "date", "alarm_time", "completed", "alarm_triggered", "created_at"}).
		AddRow("e1", "alice", "Launch", "2024-03-05", "08:30", false, true, created).
		AddRow("e2", "alice", "Debrief", "2024-03-06", nil, true, false, created.Add(time.Minute))
	mock.ExpectQuery("SELECT id, user_id, text, date, alarm_time").
		WithArgs("alice").
		WillReturnRows(rows)

	events, err := b.ListByUser(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "08:30", events[0].AlarmTime)
	assert.True(t, events[0].AlarmTriggered)
	assert.Empty(t, events[1].AlarmTime)
	assert.True(t, events[1].Completed)
	assert.True(t, events[1].CreatedAt.Equal(created.Add(time.Minute)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresImportLedger(t *testing.T) {
	b, mock := newMockPostgres(t)
	at := time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("alice", "standup|2024-03-04").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO imports").
		WithArgs("alice", "standup|2024-03-04", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	found, err := b.HasImport(context.Background(), "alice", "standup|2024-03-04")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, b.RecordImport(context.Background(), "alice", "standup|2024-03-04", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}
