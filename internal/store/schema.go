package store

// SQLite schema. Booleans are stored as 0/1 and created_at as unix nanos.
const createEventsTableSQLite = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    text TEXT NOT NULL,
    date TEXT NOT NULL,
    alarm_time TEXT,
    completed INTEGER NOT NULL DEFAULT 0,
    alarm_triggered INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
)`

// Postgres schema.
const createEventsTablePostgres = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    text TEXT NOT NULL,
    date TEXT NOT NULL,
    alarm_time TEXT,
    completed BOOLEAN NOT NULL DEFAULT FALSE,
    alarm_triggered BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL
)`

// imports remembers which feed occurrences a user has already received.
// Rows are never deleted, so deleting an imported event is final.
const createImportsTableSQLite = `
CREATE TABLE IF NOT EXISTS imports (
    user_id TEXT NOT NULL,
    key TEXT NOT NULL,
    imported_at INTEGER NOT NULL,
    PRIMARY KEY (user_id, key)
)`

const createImportsTablePostgres = `
CREATE TABLE IF NOT EXISTS imports (
    user_id TEXT NOT NULL,
    key TEXT NOT NULL,
    imported_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, key)
)`

// Every subscription query filters on user_id.
const createEventsUserIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_events_user ON events(user_id, created_at)`

func sqliteSchema() []string {
	return []string{createEventsTableSQLite, createEventsUserIndexSQL, createImportsTableSQLite}
}

func postgresSchema() []string {
	return []string{createEventsTablePostgres, createEventsUserIndexSQL, createImportsTablePostgres}
}
