// models.go -- Shared types and sentinel errors for the store package.
// Used by every KV backend and both user stores.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrNotFound is returned when a key or user does not exist (or has expired).
// Callers use errors.Is to distinguish a true miss from a backend failure.
var ErrNotFound = errors.New("not found")

// ErrUserExists is returned by CreateUser when the email or username is taken.
var ErrUserExists = errors.New("user already exists")

// KV is the contract every key-value backend satisfies.
// Get returns ErrNotFound on a miss; ttl <= 0 on Set means no expiry;
// Delete ignores missing keys.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	CheckHealth(ctx context.Context) error
}

// User represents a row in the users table.
// Nullable columns are pointers; nil means SQL NULL.
// Credential holds the encoded credential string (hashed, imported, or legacy plaintext).
type User struct {
	ID         uuid.UUID
	Email      string
	Username   *string
	Role       string
	Credential string
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Roles understood by the API layer.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
