package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"spacecal/internal/model"
)

// pgxConn is the subset of *pgxpool.Pool the backend needs.
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresBackend stores events in a Postgres table.
type PostgresBackend struct {
	conn pgxConn
}

// OpenPostgres connects to dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: failed to connect to postgres: %w", err)
	}
	b, err := newPostgresBackend(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func newPostgresBackend(ctx context.Context, conn pgxConn) (*PostgresBackend, error) {
	for _, stmt := range postgresSchema() {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("store: failed to initialize postgres schema: %w", err)
		}
	}
	return &PostgresBackend{conn: conn}, nil
}

func (b *PostgresBackend) Insert(ctx context.Context, ev model.Event) error {
	_, err := b.conn.Exec(ctx, `INSERT INTO events(id, user_id, text, date, alarm_time, completed, alarm_triggered, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.UserID, ev.Text, ev.Date, pgText(ev.AlarmTime),
		ev.Completed, ev.AlarmTriggered, ev.CreatedAt)
	return err
}

func (b *PostgresBackend) Patch(ctx context.Context, id string, patch model.EventPatch) (string, error) {
	var owner string
	err := b.conn.QueryRow(ctx, `UPDATE events
SET completed=COALESCE($1, completed), alarm_triggered=(alarm_triggered OR COALESCE($2, FALSE))
WHERE id=$3
RETURNING user_id`, patch.Completed, patch.AlarmTriggered, id).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return owner, err
}

func (b *PostgresBackend) Remove(ctx context.Context, userID, id string) error {
	tag, err := b.conn.Exec(ctx, `DELETE FROM events WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *PostgresBackend) ListByUser(ctx context.Context, userID string) ([]model.Event, error) {
	rows, err := b.conn.Query(ctx, `SELECT id, user_id, text, date, alarm_time, completed, alarm_triggered, created_at
FROM events
WHERE user_id=$1
ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]model.Event, 0)
	for rows.Next() {
		var (
			ev    model.Event
			alarm pgtype.Text
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Text, &ev.Date, &alarm,
			&ev.Completed, &ev.AlarmTriggered, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.AlarmTime = alarm.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (b *PostgresBackend) HasImport(ctx context.Context, userID, key string) (bool, error) {
	var found bool
	err := b.conn.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM imports WHERE user_id=$1 AND key=$2)`, userID, key).Scan(&found)
	return found, err
}

func (b *PostgresBackend) RecordImport(ctx context.Context, userID, key string, at time.Time) error {
	_, err := b.conn.Exec(ctx, `INSERT INTO imports(user_id, key, imported_at)
VALUES($1, $2, $3)
ON CONFLICT (user_id, key) DO NOTHING`, userID, key, at)
	return err
}

func (b *PostgresBackend) Close() error {
	b.conn.Close()
	return nil
}

func pgText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
