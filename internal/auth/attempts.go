// attempts.go

// Failed-login tracking with sliding-window lockout.
//
// Five failures inside any trailing 15-minute window lock the identifier for
// 15 minutes. Failures are pruned before counting, so old failures cannot be
// banked across windows. Locks expire lazily: only IsLocked (and the next
// RecordFailure) reaps them; nothing sweeps in the background.
//
// Read-modify-write against Storage is not transactional. Two callers failing
// the same identifier at the same moment may under- or over-count. State is
// assumed to have a single logical owner per identifier.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MGallo-Code/warden/internal/clock"
)

const (
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 15 * time.Minute
)

// LockoutPolicy configures AttemptTracker. Duration is both the counting
// window and how long a lock lasts.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// DefaultLockoutPolicy returns 5 failures / 15 minutes.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxAttempts: DefaultMaxFailedAttempts, Duration: DefaultLockoutDuration}
}

// attemptRecord is the stored failure history for one identifier, oldest first.
type attemptRecord struct {
	Failures []time.Time `json:"failures"`
}

// LockState exists only while an identifier is locked.
type LockState struct {
	LockedAt       time.Time `json:"locked_at"`
	AttemptsAtLock int       `json:"attempts_at_lock"`
}

// LockDecision is returned by RecordFailure.
type LockDecision struct {
	// Attempts is the failure count inside the window after this failure.
	Attempts int
	// Locked is true if the identifier is locked after this call.
	Locked bool
	// NewlyLocked is true only for the failure that caused the lock.
	NewlyLocked bool
}

// AttemptStatus is a read-only view for diagnostics.
type AttemptStatus struct {
	Identifier string        `json:"identifier"`
	Failures   int           `json:"failures"`
	Locked     bool          `json:"locked"`
	LockedAt   *time.Time    `json:"locked_at,omitempty"`
	Remaining  time.Duration `json:"remaining_ns"`
}

// AttemptTracker records failed authentication attempts per identifier.
type AttemptTracker struct {
	kv     Storage
	policy LockoutPolicy
	clk    clock.Clock
	log    *slog.Logger
}

// NewAttemptTracker returns a tracker over kv. Zero policy fields take the defaults.
func NewAttemptTracker(kv Storage, policy LockoutPolicy, opts ...Option) *AttemptTracker {
	o := buildOptions(opts)
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxFailedAttempts
	}
	if policy.Duration <= 0 {
		policy.Duration = DefaultLockoutDuration
	}
	return &AttemptTracker{kv: kv, policy: policy, clk: o.clk, log: o.log}
}

// Policy returns the effective policy.
func (t *AttemptTracker) Policy() LockoutPolicy {
	return t.policy
}

func attemptsKey(id string) string { return "attempts:" + id }
func lockKey(id string) string     { return "lock:" + id }

// RecordFailure appends a failure for identifier, prunes failures older than
// the window, then locks the identifier if the remaining count reaches MaxAttempts.
func (t *AttemptTracker) RecordFailure(ctx context.Context, identifier string) (LockDecision, error) {
	id := NormalizeIdentifier(identifier)
	now := t.clk.Now()

	// Reap an expired lock first so this failure starts a fresh count.
	lock, err := t.loadLock(ctx, id)
	if err != nil {
		return LockDecision{}, err
	}
	if lock != nil && t.expired(lock, now) {
		if err := t.purge(ctx, id); err != nil {
			return LockDecision{}, err
		}
		t.log.Info("lockout expired", "identifier", maskIdentifier(id))
		lock = nil
	}

	var rec attemptRecord
	if _, err := getJSON(ctx, t.kv, attemptsKey(id), &rec); err != nil {
		return LockDecision{}, err
	}
	rec.Failures = append(rec.Failures, now)
	rec.prune(now, t.policy.Duration)

	if err := setJSON(ctx, t.kv, attemptsKey(id), rec, t.policy.Duration+storageGrace); err != nil {
		return LockDecision{}, err
	}

	decision := LockDecision{Attempts: len(rec.Failures)}
	if lock != nil {
		decision.Locked = true
		return decision, nil
	}

	if decision.Attempts >= t.policy.MaxAttempts {
		state := LockState{LockedAt: now, AttemptsAtLock: decision.Attempts}
		if err := setJSON(ctx, t.kv, lockKey(id), state, t.policy.Duration+storageGrace); err != nil {
			return LockDecision{}, err
		}
		decision.Locked = true
		decision.NewlyLocked = true
		t.log.Warn("identifier locked",
			"identifier", maskIdentifier(id),
			"attempts", decision.Attempts,
			"duration", t.policy.Duration.String())
		return decision, nil
	}

	t.log.Debug("failed attempt recorded",
		"identifier", maskIdentifier(id),
		"attempts", fmt.Sprintf("%d/%d", decision.Attempts, t.policy.MaxAttempts))
	return decision, nil
}

// IsLocked reports whether identifier is locked. A lock older than the
// lockout duration is purged along with its attempt history, and false is returned.
func (t *AttemptTracker) IsLocked(ctx context.Context, identifier string) (bool, error) {
	id := NormalizeIdentifier(identifier)
	lock, err := t.loadLock(ctx, id)
	if err != nil {
		return false, err
	}
	if lock == nil {
		return false, nil
	}
	if t.expired(lock, t.clk.Now()) {
		if err := t.purge(ctx, id); err != nil {
			return false, err
		}
		t.log.Info("lockout expired", "identifier", maskIdentifier(id))
		return false, nil
	}
	return true, nil
}

// Clear deletes all attempt and lock state for identifier. Idempotent.
func (t *AttemptTracker) Clear(ctx context.Context, identifier string) error {
	return t.purge(ctx, NormalizeIdentifier(identifier))
}

// Status reports the current state without reaping anything.
func (t *AttemptTracker) Status(ctx context.Context, identifier string) (AttemptStatus, error) {
	id := NormalizeIdentifier(identifier)
	now := t.clk.Now()
	status := AttemptStatus{Identifier: id}

	var rec attemptRecord
	if _, err := getJSON(ctx, t.kv, attemptsKey(id), &rec); err != nil {
		return AttemptStatus{}, err
	}
	rec.prune(now, t.policy.Duration)
	status.Failures = len(rec.Failures)

	lock, err := t.loadLock(ctx, id)
	if err != nil {
		return AttemptStatus{}, err
	}
	if lock != nil && !t.expired(lock, now) {
		lockedAt := lock.LockedAt
		status.Locked = true
		status.LockedAt = &lockedAt
		status.Remaining = lockedAt.Add(t.policy.Duration).Sub(now)
	}
	return status, nil
}

func (t *AttemptTracker) loadLock(ctx context.Context, id string) (*LockState, error) {
	var lock LockState
	found, err := getJSON(ctx, t.kv, lockKey(id), &lock)
	if err != nil || !found {
		return nil, err
	}
	return &lock, nil
}

func (t *AttemptTracker) expired(lock *LockState, now time.Time) bool {
	return now.Sub(lock.LockedAt) >= t.policy.Duration
}

func (t *AttemptTracker) purge(ctx context.Context, id string) error {
	if err := t.kv.Delete(ctx, attemptsKey(id), lockKey(id)); err != nil {
		return fmt.Errorf("clearing attempts: %w", err)
	}
	return nil
}

// prune drops failures at least window old. Failures are kept in order.
func (r *attemptRecord) prune(now time.Time, window time.Duration) {
	kept := r.Failures[:0]
	for _, ts := range r.Failures {
		if now.Sub(ts) < window {
			kept = append(kept, ts)
		}
	}
	r.Failures = kept
}
