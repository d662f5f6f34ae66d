// session.go

// Opaque session issuance and dual-expiry validation.
//
// A session lives in one storage scope (one browser or device). The full
// record and the bare token are stored as separate values; validation needs
// both present and equal. Sessions have a hard absolute lifetime and a sliding
// inactivity window underneath it. Nothing renews the absolute expiry.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MGallo-Code/warden/internal/clock"
	"github.com/MGallo-Code/warden/internal/store"
	"github.com/gofrs/uuid/v5"
)

const (
	DefaultAbsoluteTimeout   = 8 * time.Hour
	DefaultInactivityTimeout = 2 * time.Hour
	// TokenLen is the raw session token size in bytes (256 bits).
	TokenLen = 32
)

// SessionPolicy configures SessionManager.
type SessionPolicy struct {
	AbsoluteTimeout   time.Duration
	InactivityTimeout time.Duration
}

// DefaultSessionPolicy returns 8h absolute / 2h inactivity.
func DefaultSessionPolicy() SessionPolicy {
	return SessionPolicy{AbsoluteTimeout: DefaultAbsoluteTimeout, InactivityTimeout: DefaultInactivityTimeout}
}

// Session is the stored session record.
type Session struct {
	Token             string        `json:"token"`
	PrincipalID       uuid.UUID     `json:"principal_id"`
	Role              string        `json:"role"`
	CreatedAt         time.Time     `json:"created_at"`
	ExpiresAt         time.Time     `json:"expires_at"`
	LastActivity      time.Time     `json:"last_activity"`
	InactivityTimeout time.Duration `json:"inactivity_timeout"`
}

// PrincipalRef is the cached current-principal shortcut kept beside a session.
type PrincipalRef struct {
	ID   uuid.UUID `json:"id"`
	Role string    `json:"role"`
}

// SessionManager issues and validates sessions. Use Scope to bind to one storage scope.
type SessionManager struct {
	kv     Storage
	policy SessionPolicy
	clk    clock.Clock
	random io.Reader
	log    *slog.Logger
}

// NewSessionManager returns a manager over kv. Zero policy fields take the defaults.
func NewSessionManager(kv Storage, policy SessionPolicy, opts ...Option) *SessionManager {
	o := buildOptions(opts)
	if policy.AbsoluteTimeout <= 0 {
		policy.AbsoluteTimeout = DefaultAbsoluteTimeout
	}
	if policy.InactivityTimeout <= 0 {
		policy.InactivityTimeout = DefaultInactivityTimeout
	}
	return &SessionManager{kv: kv, policy: policy, clk: o.clk, random: o.random, log: o.log}
}

// Policy returns the effective policy.
func (m *SessionManager) Policy() SessionPolicy {
	return m.policy
}

// NewScopeID returns a fresh storage scope identifier (UUID v7).
func NewScopeID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating scope id: %w", err)
	}
	return id.String(), nil
}

// Scope binds the manager to one storage scope.
func (m *SessionManager) Scope(scopeID string) *ScopedSessions {
	prefix := "session:" + scopeID + ":"
	return &ScopedSessions{
		m:            m,
		scopeID:      scopeID,
		recordKey:    prefix + "record",
		tokenKey:     prefix + "token",
		principalKey: prefix + "principal",
	}
}

// ScopedSessions holds at most one active session: creating a new one overwrites the old.
type ScopedSessions struct {
	m            *SessionManager
	scopeID      string
	recordKey    string
	tokenKey     string
	principalKey string
}

// ID returns the scope identifier.
func (s *ScopedSessions) ID() string {
	return s.scopeID
}

// Create issues a new session for p, replacing any session already in the scope.
// Returns an error wrapping ErrHashingUnavailable if no random token can be produced.
func (s *ScopedSessions) Create(ctx context.Context, p PrincipalRef) (Session, error) {
	raw := make([]byte, TokenLen)
	if _, err := io.ReadFull(s.m.random, raw); err != nil {
		return Session{}, fmt.Errorf("%w: generating session token: %w", ErrHashingUnavailable, err)
	}

	now := s.m.clk.Now()
	sess := Session{
		Token:             hex.EncodeToString(raw),
		PrincipalID:       p.ID,
		Role:              p.Role,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.m.policy.AbsoluteTimeout),
		LastActivity:      now,
		InactivityTimeout: s.m.policy.InactivityTimeout,
	}

	ttl := s.m.policy.AbsoluteTimeout + storageGrace
	if err := setJSON(ctx, s.m.kv, s.recordKey, sess, ttl); err != nil {
		return Session{}, err
	}
	if err := s.m.kv.Set(ctx, s.tokenKey, []byte(sess.Token), ttl); err != nil {
		return Session{}, fmt.Errorf("storing session token: %w", err)
	}
	if err := setJSON(ctx, s.m.kv, s.principalKey, p, ttl); err != nil {
		return Session{}, err
	}

	s.m.log.Info("session created", "scope", s.scopeID, "principal_id", p.ID, "expires_at", sess.ExpiresAt)
	return sess, nil
}

// Validate checks the scope's stored session. On success LastActivity is
// refreshed and persisted. On any session failure (ErrNoSession,
// ErrSessionTokenMismatch, ErrSessionExpired, ErrSessionInactive) the scope is cleared.
func (s *ScopedSessions) Validate(ctx context.Context) (Session, error) {
	return s.validate(ctx, nil)
}

// ValidateToken is Validate plus a constant-time check that presented matches
// the stored token. A mismatch clears the scope.
func (s *ScopedSessions) ValidateToken(ctx context.Context, presented string) (Session, error) {
	return s.validate(ctx, &presented)
}

func (s *ScopedSessions) validate(ctx context.Context, presented *string) (Session, error) {
	sess, err := s.check(ctx, presented)
	if err != nil {
		if IsSessionFailure(err) {
			s.m.log.Info("session rejected", "scope", s.scopeID, "reason", err.Error())
			if clearErr := s.Clear(ctx); clearErr != nil {
				return Session{}, errors.Join(err, clearErr)
			}
		}
		return Session{}, err
	}

	now := s.m.clk.Now()
	sess.LastActivity = now
	if err := setJSON(ctx, s.m.kv, s.recordKey, sess, sess.ExpiresAt.Sub(now)+storageGrace); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// check loads both stored values and applies the expiry rules in order:
// presence, token equality, absolute expiry, inactivity.
func (s *ScopedSessions) check(ctx context.Context, presented *string) (Session, error) {
	rawToken, err := s.m.kv.Get(ctx, s.tokenKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, ErrNoSession
		}
		return Session{}, fmt.Errorf("loading session token: %w", err)
	}

	var sess Session
	found, err := getJSON(ctx, s.m.kv, s.recordKey, &sess)
	if err != nil {
		// Undecodable record is treated as tampered, not as a storage fault.
		if errors.Is(err, errCorruptRecord) {
			return Session{}, ErrNoSession
		}
		return Session{}, err
	}
	if !found {
		return Session{}, ErrNoSession
	}

	if subtle.ConstantTimeCompare(rawToken, []byte(sess.Token)) != 1 {
		return Session{}, ErrSessionTokenMismatch
	}
	if presented != nil && subtle.ConstantTimeCompare([]byte(*presented), rawToken) != 1 {
		return Session{}, ErrSessionTokenMismatch
	}

	now := s.m.clk.Now()
	if !now.Before(sess.ExpiresAt) {
		return Session{}, ErrSessionExpired
	}
	idle := sess.InactivityTimeout
	if idle <= 0 {
		idle = s.m.policy.InactivityTimeout
	}
	if now.Sub(sess.LastActivity) > idle {
		return Session{}, ErrSessionInactive
	}
	return sess, nil
}

// Clear deletes the session record, its token, and the cached principal. Idempotent.
func (s *ScopedSessions) Clear(ctx context.Context) error {
	if err := s.m.kv.Delete(ctx, s.recordKey, s.tokenKey, s.principalKey); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// CurrentPrincipal returns the cached principal shortcut without validating
// or refreshing the session. ErrNoSession when absent.
func (s *ScopedSessions) CurrentPrincipal(ctx context.Context) (PrincipalRef, error) {
	var p PrincipalRef
	found, err := getJSON(ctx, s.m.kv, s.principalKey, &p)
	if err != nil {
		return PrincipalRef{}, err
	}
	if !found {
		return PrincipalRef{}, ErrNoSession
	}
	return p, nil
}
