// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and queries.
// Creates a connection pool at startup, shared by the user store and the KV.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MGallo-Code/warden/internal/clock"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUniqueViolation is the SQLSTATE for unique constraint failures.
const pgUniqueViolation = "23505"

// The store used by program to connect with Postgres db
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates and returns a verified connection pool
// to PostgreSQL wrapped in a store.
// Call once at startup from main.go...the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Ping db to make sure connection works
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings Postgres.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const userColumns = `id, email, username, role, credential, active, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.Role, &u.Credential, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts u. The caller generates the UUID v7 and credential BEFORE calling this.
// Returns ErrUserExists on a duplicate email or username.
func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, username, role, credential, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, u.ID, u.Email, u.Username, u.Role, u.Credential, u.Active).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrUserExists
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetUserByIdentifier matches identifier against email or username, case-insensitively.
// Returns ErrNotFound if no row matches.
func (s *PostgresStore) GetUserByIdentifier(ctx context.Context, identifier string) (*User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1) OR lower(username) = lower($1) LIMIT 1`,
		identifier))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("fetching user by identifier: %w", err)
	}
	return u, err
}

// GetUserByID returns ErrNotFound if no row matches.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("fetching user by id: %w", err)
	}
	return u, err
}

// UpdateCredential replaces the stored credential and bumps updated_at.
func (s *PostgresStore) UpdateCredential(ctx context.Context, id uuid.UUID, credential string) error {
	return s.updateUser(ctx, "updating credential",
		`UPDATE users SET credential = $2, updated_at = now() WHERE id = $1`, id, credential)
}

// SetActive activates or deactivates a user.
func (s *PostgresStore) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return s.updateUser(ctx, "updating active flag",
		`UPDATE users SET active = $2, updated_at = now() WHERE id = $1`, id, active)
}

func (s *PostgresStore) updateUser(ctx context.Context, what, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// KV returns a KV over the kv_entries table sharing this pool.
// nil clk means the wall clock.
func (s *PostgresStore) KV(clk clock.Clock) *PostgresKV {
	return &PostgresKV{pool: s.pool, clk: clock.OrReal(clk)}
}

// PostgresKV implements KV on the kv_entries table.
// Expiry is compared against the injected clock, not the database's now().
type PostgresKV struct {
	pool *pgxpool.Pool
	clk  clock.Clock
}

func (s *PostgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM kv_entries WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		key, s.clk.Now()).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching %s: %w", key, err)
	}
	return value, nil
}

func (s *PostgresKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := s.clk.Now().Add(ttl)
		expiresAt = &t
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_entries (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}
	return nil
}

func (s *PostgresKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM kv_entries WHERE key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("deleting keys: %w", err)
	}
	return nil
}

// Sweep deletes expired rows and returns how many were removed.
func (s *PostgresKV) Sweep(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= $1`, s.clk.Now())
	if err != nil {
		return 0, fmt.Errorf("sweeping kv_entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CheckHealth pings Postgres.
func (s *PostgresKV) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
