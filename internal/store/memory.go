// memory.go -- In-process KV and user directory.
//
// Used by the memory storage backend, tests, and single-node deployments.
// Nothing survives a restart.
package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MGallo-Code/warden/internal/clock"
	"github.com/gofrs/uuid/v5"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// MemoryKV is a mutex-guarded map with clock-driven expiry.
// Expired entries are dropped on read and by Sweep.
type MemoryKV struct {
	clk clock.Clock

	mu      sync.Mutex
	entries map[string]memEntry
}

// NewMemoryKV returns an empty store. nil clk means the wall clock.
func NewMemoryKV(clk clock.Clock) *MemoryKV {
	return &MemoryKV{clk: clock.OrReal(clk), entries: make(map[string]memEntry)}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if m.expired(e) {
		delete(m.entries, key)
		return nil, ErrNotFound
	}
	return slices.Clone(e.value), nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memEntry{value: slices.Clone(value)}
	if ttl > 0 {
		e.expiresAt = m.clk.Now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	m.mu.Unlock()
	return nil
}

// CheckHealth always succeeds.
func (m *MemoryKV) CheckHealth(context.Context) error { return nil }

// Sweep drops expired entries and returns how many were removed.
func (m *MemoryKV) Sweep(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, e := range m.entries {
		if m.expired(e) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// Len counts live entries.
func (m *MemoryKV) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if !m.expired(e) {
			n++
		}
	}
	return n
}

func (m *MemoryKV) expired(e memEntry) bool {
	return !e.expiresAt.IsZero() && !m.clk.Now().Before(e.expiresAt)
}

// MemoryUsers is an in-process user directory with the same methods as PostgresStore.
type MemoryUsers struct {
	clk clock.Clock

	mu    sync.RWMutex
	users map[uuid.UUID]*User
}

// NewMemoryUsers returns an empty directory. nil clk means the wall clock.
func NewMemoryUsers(clk clock.Clock) *MemoryUsers {
	return &MemoryUsers{clk: clock.OrReal(clk), users: make(map[uuid.UUID]*User)}
}

// CreateUser stores u. Email and username are unique case-insensitively.
// Returns ErrUserExists on collision.
func (m *MemoryUsers) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.ID == u.ID || strings.EqualFold(existing.Email, u.Email) {
			return ErrUserExists
		}
		if u.Username != nil && existing.Username != nil && strings.EqualFold(*existing.Username, *u.Username) {
			return ErrUserExists
		}
	}
	now := m.clk.Now()
	stored := *u
	stored.CreatedAt, stored.UpdatedAt = now, now
	m.users[u.ID] = &stored
	u.CreatedAt, u.UpdatedAt = now, now
	return nil
}

// GetUserByIdentifier matches identifier against email or username, case-insensitively.
func (m *MemoryUsers) GetUserByIdentifier(_ context.Context, identifier string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, identifier) || (u.Username != nil && strings.EqualFold(*u.Username, identifier)) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryUsers) GetUserByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// UpdateCredential replaces the stored credential string.
func (m *MemoryUsers) UpdateCredential(_ context.Context, id uuid.UUID, credential string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Credential = credential
	u.UpdatedAt = m.clk.Now()
	return nil
}

// SetActive activates or deactivates a user.
func (m *MemoryUsers) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Active = active
	u.UpdatedAt = m.clk.Now()
	return nil
}

// CheckHealth always succeeds.
func (m *MemoryUsers) CheckHealth(context.Context) error { return nil }
