// coordinator.go

// Authentication orchestration: lockout check, principal lookup, credential
// verification, attempt bookkeeping.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofrs/uuid/v5"
)

// Principal is what the user store hands back for an identifier.
type Principal struct {
	ID         uuid.UUID
	Email      string
	Username   string
	Role       string
	Credential Credential
	Active     bool
}

// Ref returns the id/role pair sessions carry.
func (p *Principal) Ref() PrincipalRef {
	return PrincipalRef{ID: p.ID, Role: p.Role}
}

// LookupFunc resolves a login identifier to a principal.
// Return ErrAccountNotFound (or nil, nil) when nothing matches.
type LookupFunc func(ctx context.Context, identifier string) (*Principal, error)

// CredentialUpdater persists a migrated credential for a principal.
type CredentialUpdater interface {
	UpdateCredential(ctx context.Context, principalID uuid.UUID, c HashedCredential) error
}

// Status is the externally visible outcome of Authenticate.
type Status int

const (
	StatusSuccess Status = iota
	StatusInvalidCredentials
	StatusLocked
	StatusDeactivated
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInvalidCredentials:
		return "invalid_credentials"
	case StatusLocked:
		return "locked"
	case StatusDeactivated:
		return "deactivated"
	default:
		return "unknown"
	}
}

// Err maps a non-success status onto its sentinel error; nil for StatusSuccess.
func (s Status) Err() error {
	switch s {
	case StatusSuccess:
		return nil
	case StatusLocked:
		return ErrAccountLocked
	case StatusDeactivated:
		return ErrAccountDeactivated
	default:
		return ErrInvalidCredentials
	}
}

// Reason records why Authenticate decided as it did. Internal: log it, never
// send it to a client (ReasonNotFound would reveal account existence).
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonNotFound      Reason = "not_found"
	ReasonWrongPassword Reason = "wrong_password"
	ReasonLocked        Reason = "locked"
	ReasonDeactivated   Reason = "deactivated"
)

// Result is returned by Authenticate.
type Result struct {
	Status    Status
	Reason    Reason
	Principal *Principal // set only on StatusSuccess
	Attempts  int        // failures in window after this call, when one was recorded
	Migrated  bool       // credential was upgraded and handed to the updater
}

// Coordinator answers "is this identifier/password pair acceptable right now".
// Updater and Log are optional.
type Coordinator struct {
	Hasher   *Hasher
	Attempts *AttemptTracker
	Sessions *SessionManager
	Updater  CredentialUpdater
	Log      *slog.Logger
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Log == nil {
		return slog.Default()
	}
	return c.Log
}

// Authenticate checks identifier/password. Order matters: a lock wins over a
// correct password, a deactivated account never counts as a failure, and
// unknown identifiers are counted like wrong passwords.
//
// The returned error is non-nil only for infrastructure failures (storage,
// lookup) and ErrHashingUnavailable. Every authentication outcome, good or
// bad, is reported through Result.
func (c *Coordinator) Authenticate(ctx context.Context, identifier, password string, lookup LookupFunc) (Result, error) {
	id := NormalizeIdentifier(identifier)
	log := c.logger().With("identifier", maskIdentifier(id))

	locked, err := c.Attempts.IsLocked(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("checking lock state: %w", err)
	}
	if locked {
		log.Info("authentication refused", "reason", ReasonLocked)
		return Result{Status: StatusLocked, Reason: ReasonLocked}, nil
	}

	p, err := lookup(ctx, id)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return Result{}, fmt.Errorf("looking up principal: %w", err)
	}
	if p == nil {
		// Same cost as a real verification so absence is not observable by timing.
		if err := c.Hasher.VerifyDummy(password); err != nil {
			return Result{}, fmt.Errorf("equalising verification cost: %w", err)
		}
		return c.fail(ctx, log, id, ReasonNotFound)
	}

	if !p.Active {
		log.Info("authentication refused", "reason", ReasonDeactivated, "principal_id", p.ID)
		return Result{Status: StatusDeactivated, Reason: ReasonDeactivated}, nil
	}

	if !c.Hasher.Verify(password, p.Credential) {
		return c.fail(ctx, log, id, ReasonWrongPassword)
	}

	var migrated *HashedCredential
	if c.Updater != nil && c.Hasher.NeedsRehash(p.Credential) {
		hc, err := c.Hasher.Migrate(password, p.Credential)
		if err != nil {
			return Result{}, fmt.Errorf("migrating credential: %w", err)
		}
		migrated = &hc
	}

	if err := c.Attempts.Clear(ctx, id); err != nil {
		return Result{}, fmt.Errorf("clearing attempts: %w", err)
	}

	res := Result{Status: StatusSuccess, Principal: p}
	if migrated != nil {
		// Non-fatal: the old credential still verifies, migration retries next login.
		if err := c.Updater.UpdateCredential(ctx, p.ID, *migrated); err != nil {
			log.Warn("failed to persist migrated credential", "principal_id", p.ID, "error", err)
		} else {
			p.Credential = *migrated
			res.Migrated = true
			log.Info("credential migrated", "principal_id", p.ID, "iterations", migrated.Iterations)
		}
	}

	log.Info("authentication succeeded", "principal_id", p.ID)
	return res, nil
}

// fail records the failure and reports it. The failure that trips the lock
// is reported as StatusLocked so the caller learns about the lock at once.
func (c *Coordinator) fail(ctx context.Context, log *slog.Logger, id string, reason Reason) (Result, error) {
	decision, err := c.Attempts.RecordFailure(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("recording failed attempt: %w", err)
	}
	log.Info("authentication failed", "reason", reason, "attempts", decision.Attempts)

	status := StatusInvalidCredentials
	if decision.Locked {
		status = StatusLocked
	}
	return Result{Status: status, Reason: reason, Attempts: decision.Attempts}, nil
}

// Login authenticates and, on success only, opens a session in scope.
// The session is nil for every non-success status.
func (c *Coordinator) Login(ctx context.Context, identifier, password string, lookup LookupFunc, scope *ScopedSessions) (Result, *Session, error) {
	res, err := c.Authenticate(ctx, identifier, password, lookup)
	if err != nil || res.Status != StatusSuccess {
		return res, nil, err
	}
	sess, err := scope.Create(ctx, res.Principal.Ref())
	if err != nil {
		return Result{}, nil, fmt.Errorf("creating session: %w", err)
	}
	return res, &sess, nil
}
