// sqlite.go -- database/sql KV on a local SQLite file (modernc.org/sqlite, pure Go).
//
// Single-node persistence without a server. Expiry is stored as unix millis;
// reads ignore expired rows and Sweep deletes them.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MGallo-Code/warden/internal/clock"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS kv_expires_at ON kv (expires_at) WHERE expires_at > 0;
`

// SQLiteKV implements KV on a SQLite database.
type SQLiteKV struct {
	db  *sql.DB
	clk clock.Clock
}

// OpenSQLiteKV opens (creating if needed) the database at path and ensures the schema.
// Use ":memory:" for a throwaway database. nil clk means the wall clock.
func OpenSQLiteKV(ctx context.Context, path string, clk clock.Clock) (*SQLiteKV, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	// One writer at a time; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating kv schema: %w", err)
	}
	return &SQLiteKV{db: db, clk: clock.OrReal(clk)}, nil
}

// Close releases the database handle.
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}

func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		key, s.clk.Now().UnixMilli(),
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.clk.Now().Add(ttl).UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("deleting keys: %w", err)
	}
	return nil
}

// Sweep deletes expired rows and returns how many were removed.
func (s *SQLiteKV) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE expires_at > 0 AND expires_at <= ?`, s.clk.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweeping kv: %w", err)
	}
	return res.RowsAffected()
}

// CheckHealth pings the database.
func (s *SQLiteKV) CheckHealth(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
