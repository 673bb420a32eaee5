package storage

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS active_chats (
        chat_id    BIGINT PRIMARY KEY,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
	`CREATE TABLE IF NOT EXISTS active_crypto_chats (
        chat_id    BIGINT PRIMARY KEY,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
	`CREATE TABLE IF NOT EXISTS mapping (
        user_id  BIGINT PRIMARY KEY,
        username TEXT NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS trend_alerts (
        id         BIGSERIAL PRIMARY KEY,
        symbol     TEXT NOT NULL,
        rate       NUMERIC NOT NULL,
        grew       BOOLEAN NOT NULL,
        recipients INTEGER NOT NULL DEFAULT 0,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
	`CREATE INDEX IF NOT EXISTS trend_alerts_created_at_idx ON trend_alerts (created_at);`,
}

// created_at columns hold unix milliseconds in sqlite.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS active_chats (
        chat_id    INTEGER PRIMARY KEY,
        created_at INTEGER NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS active_crypto_chats (
        chat_id    INTEGER PRIMARY KEY,
        created_at INTEGER NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS mapping (
        user_id  INTEGER PRIMARY KEY,
        username TEXT NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS trend_alerts (
        id         INTEGER PRIMARY KEY AUTOINCREMENT,
        symbol     TEXT NOT NULL,
        rate       TEXT NOT NULL,
        grew       INTEGER NOT NULL,
        recipients INTEGER NOT NULL DEFAULT 0,
        created_at INTEGER NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS trend_alerts_created_at_idx ON trend_alerts (created_at);`,
}
