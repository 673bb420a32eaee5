package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	listActiveChatsSQL = `SELECT chat_id FROM %s ORDER BY chat_id;`
	addChatSQL         = `INSERT INTO %s (chat_id) VALUES ($1) ON CONFLICT (chat_id) DO NOTHING;`
	removeChatSQL      = `DELETE FROM %s WHERE chat_id = $1;`

	listDisplayNamesSQL = `SELECT user_id, username FROM mapping;`
	setDisplayNameSQL   = `INSERT INTO mapping (user_id, username) VALUES ($1, $2)
    ON CONFLICT (user_id) DO UPDATE SET username = EXCLUDED.username;`

	insertTrendAlertSQL = `INSERT INTO trend_alerts (
        symbol,
        rate,
        grew,
        recipients
    ) VALUES (
        $1,$2,$3,$4
    )
    RETURNING id, symbol, rate::text, grew, recipients, created_at;`

	listRecentTrendAlertsSQL = `SELECT
        id,
        symbol,
        rate::text,
        grew,
        recipients,
        created_at
    FROM trend_alerts
    ORDER BY created_at DESC, id DESC
    LIMIT $1;`

	listTrendAlertsBetweenSQL = `SELECT
        id,
        symbol,
        rate::text,
        grew,
        recipients,
        created_at
    FROM trend_alerts
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at, id;`

	deleteTrendAlertsBeforeSQL = `DELETE FROM trend_alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL backend.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// A failed unlock is released together with the session.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// ListActiveChats returns every chat subscribed to sub.
func (s *Store) ListActiveChats(ctx context.Context, sub Subscription) ([]int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	table, err := sub.table()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, fmt.Sprintf(listActiveChatsSQL, table))
	if err != nil {
		return nil, fmt.Errorf("list %s chats: %w", sub, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan %s chats: %w", sub, err)
	}
	return ids, nil
}

// AddChat subscribes chatID; existing entries are kept.
func (s *Store) AddChat(ctx context.Context, sub Subscription, chatID int64) error {
	return s.execChat(ctx, addChatSQL, sub, chatID)
}

// RemoveChat unsubscribes chatID.
func (s *Store) RemoveChat(ctx context.Context, sub Subscription, chatID int64) error {
	return s.execChat(ctx, removeChatSQL, sub, chatID)
}

func (s *Store) execChat(ctx context.Context, query string, sub Subscription, chatID int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	table, err := sub.table()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(query, table), chatID); err != nil {
		return fmt.Errorf("update %s chat %d: %w", sub, chatID, err)
	}
	return nil
}

// DisplayNames returns the user id to display name mapping.
func (s *Store) DisplayNames(ctx context.Context) (map[int64]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listDisplayNamesSQL)
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
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return names, nil
}

// SetDisplayName upserts the display name of userID.
func (s *Store) SetDisplayName(ctx context.Context, userID int64, name string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, setDisplayNameSQL, userID, name); err != nil {
		return fmt.Errorf("set display name: %w", err)
	}
	return nil
}

// InsertTrendAlert persists a delivered trend alert.
func (s *Store) InsertTrendAlert(ctx context.Context, alert TrendAlert) (TrendAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return TrendAlert{}, err
	}

	row := pool.QueryRow(ctx, insertTrendAlertSQL,
		alert.Symbol,
		alert.Rate.String(),
		alert.Grew,
		alert.Recipients,
	)
	rec, err := scanTrendAlert(row)
	if err != nil {
		return TrendAlert{}, fmt.Errorf("insert trend alert: %w", err)
	}
	return rec, nil
}

// ListRecentTrendAlerts lists most recent alerts.
func (s *Store) ListRecentTrendAlerts(ctx context.Context, limit int) ([]TrendAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listRecentTrendAlertsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent trend alerts: %w", err)
	}
	return collectTrendAlerts(rows)
}

// ListTrendAlertsBetween lists alerts within a time window.
func (s *Store) ListTrendAlertsBetween(ctx context.Context, from, to time.Time) ([]TrendAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listTrendAlertsBetweenSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("list trend alerts between: %w", err)
	}
	return collectTrendAlerts(rows)
}

// DeleteTrendAlertsBefore deletes historical alerts.
func (s *Store) DeleteTrendAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, deleteTrendAlertsBeforeSQL, olderThan); err != nil {
		return fmt.Errorf("delete trend alerts before: %w", err)
	}
	return nil
}

func collectTrendAlerts(rows pgx.Rows) ([]TrendAlert, error) {
	defer rows.Close()
	alerts := make([]TrendAlert, 0)
	for rows.Next() {
		rec, err := scanTrendAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanTrendAlert(row pgx.Row) (TrendAlert, error) {
	var (
		rec     TrendAlert
		rateStr string
	)
	if err := row.Scan(&rec.ID, &rec.Symbol, &rateStr, &rec.Grew, &rec.Recipients, &rec.CreatedAt); err != nil {
		return TrendAlert{}, err
	}
	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return TrendAlert{}, fmt.Errorf("parse rate: %w", err)
	}
	rec.Rate = rate
	return rec, nil
}

var (
	_ Backend        = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
