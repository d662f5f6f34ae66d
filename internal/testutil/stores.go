// stores.go
//
// Shared mock implementations of api.UserStore and auth.Storage.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MGallo-Code/warden/internal/clock"
	"github.com/MGallo-Code/warden/internal/store"
	"github.com/gofrs/uuid/v5"
)

// MockUsers implements api.UserStore for tests.

// Always stateful...Users is a map, like a real store.
// Use *Err fields to inject errors for specific operations.
// Use NewMockUsers to seed users; or construct directly and set *Err fields for error-path tests.
type MockUsers struct {
	// Error injection...zero value means no error
	CreateUserErr       error
	GetUserErr          error
	UpdateCredentialErr error
	HealthErr           error

	Users map[uuid.UUID]*store.User

	// CredentialUpdates counts successful UpdateCredential calls.
	CredentialUpdates int

	mu sync.Mutex
}

// NewMockUsers returns a MockUsers seeded with the given users.
func NewMockUsers(users ...*store.User) *MockUsers {
	m := &MockUsers{Users: make(map[uuid.UUID]*store.User)}
	for _, u := range users {
		m.Users[u.ID] = u
	}
	return m
}

func (m *MockUsers) CreateUser(_ context.Context, u *store.User) error {
	if m.CreateUserErr != nil {
		return m.CreateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Users == nil {
		m.Users = make(map[uuid.UUID]*store.User)
	}
	for _, existing := range m.Users {
		if strings.EqualFold(existing.Email, u.Email) {
			return store.ErrUserExists
		}
		if u.Username != nil && existing.Username != nil && strings.EqualFold(*existing.Username, *u.Username) {
			return store.ErrUserExists
		}
	}
	cp := *u
	m.Users[u.ID] = &cp
	return nil
}

func (m *MockUsers) GetUserByIdentifier(_ context.Context, identifier string) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if strings.EqualFold(u.Email, identifier) || (u.Username != nil && strings.EqualFold(*u.Username, identifier)) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MockUsers) GetUserByID(_ context.Context, id uuid.UUID) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MockUsers) UpdateCredential(_ context.Context, id uuid.UUID, credential string) error {
	if m.UpdateCredentialErr != nil {
		return m.UpdateCredentialErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Credential = credential
	m.CredentialUpdates++
	return nil
}

func (m *MockUsers) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Active = active
	return nil
}

func (m *MockUsers) CheckHealth(context.Context) error {
	return m.HealthErr
}

// Credential returns the stored credential string for id, "" if absent.
func (m *MockUsers) Credential(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.Users[id]; ok {
		return u.Credential
	}
	return ""
}

// MockKV implements auth.Storage (and the api health check) over a
// store.MemoryKV, with per-operation error injection.
type MockKV struct {
	// Error injection...zero value means no error
	GetErr    error
	SetErr    error
	DeleteErr error
	HealthErr error

	*store.MemoryKV
}

// NewMockKV returns an empty MockKV driven by clk (nil means the wall clock).
func NewMockKV(clk clock.Clock) *MockKV {
	return &MockKV{MemoryKV: store.NewMemoryKV(clk)}
}

func (m *MockKV) Get(ctx context.Context, key string) ([]byte, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	return m.MemoryKV.Get(ctx, key)
}

func (m *MockKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.SetErr != nil {
		return m.SetErr
	}
	return m.MemoryKV.Set(ctx, key, value, ttl)
}

func (m *MockKV) Delete(ctx context.Context, keys ...string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	return m.MemoryKV.Delete(ctx, keys...)
}

func (m *MockKV) CheckHealth(ctx context.Context) error {
	if m.HealthErr != nil {
		return m.HealthErr
	}
	return m.MemoryKV.CheckHealth(ctx)
}
