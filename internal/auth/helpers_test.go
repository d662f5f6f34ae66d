package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MGallo-Code/warden/internal/clock"
	"github.com/MGallo-Code/warden/internal/store"
	"github.com/gofrs/uuid/v5"
)

var t0 = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

// failingReader stands in for an unavailable random source.
type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

// brokenStorage fails every call with err.
type brokenStorage struct{ err error }

func (b brokenStorage) Get(context.Context, string) ([]byte, error)              { return nil, b.err }
func (b brokenStorage) Set(context.Context, string, []byte, time.Duration) error { return b.err }
func (b brokenStorage) Delete(context.Context, ...string) error                  { return b.err }

// fixture wires the core over an in-memory KV and a fake clock.
type fixture struct {
	clk      *clock.Fake
	kv       *store.MemoryKV
	hasher   *Hasher
	attempts *AttemptTracker
	sessions *SessionManager
	coord    *Coordinator
	users    *principalDir
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(t0)
	kv := store.NewMemoryKV(clk)
	f := &fixture{
		clk:      clk,
		kv:       kv,
		hasher:   NewHasher(MinIterations),
		attempts: NewAttemptTracker(kv, DefaultLockoutPolicy(), WithClock(clk)),
		sessions: NewSessionManager(kv, DefaultSessionPolicy(), WithClock(clk)),
		users:    &principalDir{byID: map[string]*Principal{}},
	}
	f.coord = &Coordinator{Hasher: f.hasher, Attempts: f.attempts, Sessions: f.sessions}
	return f
}

// addUser registers a principal under identifier with a freshly hashed password.
func (f *fixture) addUser(t *testing.T, identifier, password string) *Principal {
	t.Helper()
	hc, err := f.hasher.Hash(password)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	return f.addPrincipal(identifier, hc)
}

func (f *fixture) addPrincipal(identifier string, c Credential) *Principal {
	p := &Principal{ID: uuid.Must(uuid.NewV7()), Email: identifier, Role: "user", Credential: c, Active: true}
	f.users.mu.Lock()
	f.users.byID[NormalizeIdentifier(identifier)] = p
	f.users.mu.Unlock()
	return p
}

// principalDir is a LookupFunc source plus a CredentialUpdater.
type principalDir struct {
	mu        sync.Mutex
	byID      map[string]*Principal
	updates   int
	updateErr error
}

func (d *principalDir) lookup(_ context.Context, identifier string) (*Principal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.byID[identifier]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *p
	return &cp, nil
}

func (d *principalDir) UpdateCredential(_ context.Context, id uuid.UUID, c HashedCredential) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.updateErr != nil {
		return d.updateErr
	}
	for _, p := range d.byID {
		if p.ID == id {
			p.Credential = c
			d.updates++
			return nil
		}
	}
	return ErrAccountNotFound
}
