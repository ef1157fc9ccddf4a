package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable Store implementation: a single-file
// modernc.org/sqlite database holding opt-in durable copies of whatever
// in-memory state a caller chooses to persist. It is never consulted on
// the hot path; callers read it only on startup/recovery.
type SQLiteStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteStore opens (creating if absent) the sqlite file at path and
// prepares its schema.
func NewSQLiteStore(logger *zap.Logger, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway

	s := &SQLiteStore{logger: logger.Named("sqlite-store"), db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv_store (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at DATETIME
		)
	`)
	if err != nil {
		return fmt.Errorf("create kv_store table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS channel_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel TEXT NOT NULL,
			payload BLOB NOT NULL,
			published_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create channel_messages table: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_channel_messages_channel ON channel_messages(channel, id)`)
	if err != nil {
		return fmt.Errorf("create channel_messages index: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv_store WHERE key = ?`, key).
		Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	if expiresAt.Valid && time.Now().After(expiresAt.Time) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key)
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_store (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Publish persists payload as the newest entry in channel's append-only
// log. Unlike MemoryStore there is no live push; other processes sharing
// this database file observe new messages by polling PendingMessages.
func (s *SQLiteStore) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_messages (channel, payload, published_at) VALUES (?, ?, ?)
	`, channel, payload, time.Now())
	if err != nil {
		return fmt.Errorf("publish to %q: %w", channel, err)
	}
	return nil
}

// PendingMessages returns channel's messages published strictly after
// since, oldest first. Callers track their own high-water mark.
func (s *SQLiteStore) PendingMessages(ctx context.Context, channel string, since time.Time) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM channel_messages
		WHERE channel = ? AND published_at > ?
		ORDER BY id ASC
	`, channel, since)
	if err != nil {
		return nil, fmt.Errorf("pending messages for %q: %w", channel, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, payload)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
