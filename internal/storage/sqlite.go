package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const (
	sqliteListChatsSQL   = `SELECT chat_id FROM %s ORDER BY chat_id;`
	sqliteAddChatSQL     = `INSERT OR IGNORE INTO %s (chat_id, created_at) VALUES (?, ?);`
	sqliteRemoveChatSQL  = `DELETE FROM %s WHERE chat_id = ?;`
	sqliteSetNameSQL     = `INSERT INTO mapping (user_id, username) VALUES (?, ?) ON CONFLICT(user_id) DO UPDATE SET username = excluded.username;`
	sqliteInsertAlertSQL = `INSERT INTO trend_alerts (symbol, rate, grew, recipients, created_at) VALUES (?, ?, ?, ?, ?);`
	sqliteAlertColumns   = `id, symbol, rate, grew, recipients, created_at`
)

// SQLiteStore is a single-file backend for small deployments.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:"
// yields a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// EnsureSchema creates the tables when they do not exist.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) ListActiveChats(ctx context.Context, sub Subscription) ([]int64, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	table, err := sub.table()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(sqliteListChatsSQL, table))
	if err != nil {
		return nil, fmt.Errorf("list %s chats: %w", sub, err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) AddChat(ctx context.Context, sub Subscription, chatID int64) error {
	return s.execChat(ctx, sqliteAddChatSQL, sub, chatID, s.now().UTC().UnixMilli())
}

func (s *SQLiteStore) RemoveChat(ctx context.Context, sub Subscription, chatID int64) error {
	return s.execChat(ctx, sqliteRemoveChatSQL, sub, chatID)
}

func (s *SQLiteStore) execChat(ctx context.Context, query string, sub Subscription, args ...any) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	table, err := sub.table()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(query, table), args...); err != nil {
		return fmt.Errorf("update %s chat %v: %w", sub, args[0], err)
	}
	return nil
}

func (s *SQLiteStore) DisplayNames(ctx context.Context) (map[int64]string, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, listDisplayNamesSQL)
	if err != nil {
		return nil, fmt.Errorf("list display names: %w", err)
	}
	defer rows.Close()

	names := make(map[int64]string)
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

func (s *SQLiteStore) SetDisplayName(ctx context.Context, userID int64, name string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, sqliteSetNameSQL, userID, name); err != nil {
		return fmt.Errorf("set display name: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertTrendAlert(ctx context.Context, alert TrendAlert) (TrendAlert, error) {
	db, err := s.getDB()
	if err != nil {
		return TrendAlert{}, err
	}
	created := s.now().UTC().Truncate(time.Millisecond)
	res, err := db.ExecContext(ctx, sqliteInsertAlertSQL,
		alert.Symbol,
		alert.Rate.String(),
		alert.Grew,
		alert.Recipients,
		created.UnixMilli(),
	)
	if err != nil {
		return TrendAlert{}, fmt.Errorf("insert trend alert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return TrendAlert{}, fmt.Errorf("insert trend alert: %w", err)
	}
	alert.ID = id
	alert.CreatedAt = created
	return alert, nil
}

func (s *SQLiteStore) ListRecentTrendAlerts(ctx context.Context, limit int) ([]TrendAlert, error) {
	return s.queryAlerts(ctx,
		`SELECT `+sqliteAlertColumns+` FROM trend_alerts ORDER BY created_at DESC, id DESC LIMIT ?;`, limit)
}

func (s *SQLiteStore) ListTrendAlertsBetween(ctx context.Context, from, to time.Time) ([]TrendAlert, error) {
	return s.queryAlerts(ctx,
		`SELECT `+sqliteAlertColumns+` FROM trend_alerts WHERE created_at >= ? AND created_at < ? ORDER BY created_at, id;`,
		from.UTC().UnixMilli(), to.UTC().UnixMilli())
}

func (s *SQLiteStore) DeleteTrendAlertsBefore(ctx context.Context, olderThan time.Time) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM trend_alerts WHERE created_at < ?;`, olderThan.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("delete trend alerts before: %w", err)
	}
	return nil
}

func (s *SQLiteStore) queryAlerts(ctx context.Context, query string, args ...any) ([]TrendAlert, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trend alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]TrendAlert, 0)
	for rows.Next() {
		var (
			rec     TrendAlert
			rateStr string
			created int64
		)
		if err := rows.Scan(&rec.ID, &rec.Symbol, &rateStr, &rec.Grew, &rec.Recipients, &created); err != nil {
			return nil, err
		}
		rate, err := decimal.NewFromString(rateStr)
		if err != nil {
			return nil, fmt.Errorf("parse rate: %w", err)
		}
		rec.Rate = rate
		rec.CreatedAt = time.UnixMilli(created).UTC()
		alerts = append(alerts, rec)
	}
	return alerts, rows.Err()
}

var _ Backend = (*SQLiteStore)(nil)
