// errors.go -- Error taxonomy for the credential/lockout/session core.
package auth

import "errors"

// Credential and account failures. ErrAccountNotFound is internal only:
// Coordinator folds it into ErrInvalidCredentials before it reaches callers.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountDeactivated = errors.New("account deactivated")
	ErrAccountNotFound    = errors.New("account not found")
)

// Session validation failures. Any of these clears the session scope.
var (
	ErrNoSession            = errors.New("no session")
	ErrSessionExpired       = errors.New("session expired")
	ErrSessionInactive      = errors.New("session inactive")
	ErrSessionTokenMismatch = errors.New("session token mismatch")
)

// ErrHashingUnavailable means no secure random source or derivation primitive
// could be used. Fatal for the operation; never fall back to a weaker path.
var ErrHashingUnavailable = errors.New("hashing unavailable")

// IsSessionFailure reports whether err is one of the recoverable session
// validation failures (as opposed to a storage error).
func IsSessionFailure(err error) bool {
	return errors.Is(err, ErrNoSession) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrSessionInactive) ||
		errors.Is(err, ErrSessionTokenMismatch)
}
