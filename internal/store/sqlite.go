package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"spacecal/internal/model"
)

// SQLiteBackend stores events in a single SQLite file.
type SQLiteBackend struct {
	db *sql.DB // single writer, WAL mode
	mu sync.Mutex
}

// OpenSQLite opens (and if needed creates) the database at path.
// ":memory:" is accepted for tests.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open sqlite database: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	b := &SQLiteBackend{db: db}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to initialize sqlite schema: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	for _, stmt := range sqliteSchema() {
		if _, err := b.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (b *SQLiteBackend) Insert(ctx context.Context, ev model.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO events (id, user_id, text, date, alarm_time, completed, alarm_triggered, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UserID, ev.Text, ev.Date, nullString(ev.AlarmTime),
		ev.Completed, ev.AlarmTriggered, ev.CreatedAt.UnixNano())
	return err
}

func (b *SQLiteBackend) Patch(ctx context.Context, id string, patch model.EventPatch) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var owner string
	err := b.db.QueryRowContext(ctx, `
		UPDATE events
		SET completed = COALESCE(?, completed),
		    alarm_triggered = MAX(alarm_triggered, COALESCE(?, 0))
		WHERE id = ?
		RETURNING user_id`,
		nullBool(patch.Completed), nullBool(patch.AlarmTriggered), id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return owner, err
}

func (b *SQLiteBackend) Remove(ctx context.Context, userID, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	res, err := b.db.ExecContext(ctx, `DELETE FROM events WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *SQLiteBackend) ListByUser(ctx context.Context, userID string) ([]model.Event, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, user_id, text, date, alarm_time, completed, alarm_triggered, created_at
		FROM events
		WHERE user_id = ?
		ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]model.Event, 0)
	for rows.Next() {
		var (
			ev        model.Event
			alarm     sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Text, &ev.Date, &alarm,
			&ev.Completed, &ev.AlarmTriggered, &createdAt); err != nil {
			return nil, err
		}
		ev.AlarmTime = alarm.String
		ev.CreatedAt = time.Unix(0, createdAt).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (b *SQLiteBackend) HasImport(ctx context.Context, userID, key string) (bool, error) {
	var found bool
	err := b.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM imports WHERE user_id = ? AND key = ?)`, userID, key).Scan(&found)
	return found, err
}

func (b *SQLiteBackend) RecordImport(ctx context.Context, userID, key string, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO imports (user_id, key, imported_at) VALUES (?, ?, ?)`,
		userID, key, at.UnixNano())
	return err
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}
