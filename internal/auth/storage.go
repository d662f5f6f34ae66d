package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MGallo-Code/warden/internal/store"
)

// Storage is the scoped key-value storage AttemptTracker and SessionManager
// keep their state in. Satisfied by store.MemoryKV, store.RedisKV,
// store.SQLiteKV and store.PostgresKV.
type Storage interface {
	// Get returns store.ErrNotFound when key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value; ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// storageGrace is added to every TTL handed to Storage. Expiry decisions are
// made against the clock here; backend TTLs only garbage-collect abandoned keys.
const storageGrace = time.Minute

// errCorruptRecord marks a stored value that exists but cannot be decoded.
var errCorruptRecord = errors.New("corrupt record")

// getJSON loads key into v. found is false on a miss.
func getJSON(ctx context.Context, kv Storage, key string, v any) (found bool, err error) {
	raw, err := kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("loading %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("%w: decoding %s: %w", errCorruptRecord, key, err)
	}
	return true, nil
}

func setJSON(ctx context.Context, kv Storage, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := kv.Set(ctx, key, raw, ttl); err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}
	return nil
}

// NormalizeIdentifier lower-cases and trims a login identifier (username or email).
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// maskIdentifier keeps identifiers out of logs in the clear.
func maskIdentifier(id string) string {
	if len(id) <= 2 {
		return "***"
	}
	return id[:2] + "***"
}
