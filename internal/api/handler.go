// handler.go -- HTTP handlers for registration, login, sessions, and passwords.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MGallo-Code/warden/internal/auth"
	"github.com/MGallo-Code/warden/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid/v5"
)

// UserStore defines user operations needed by handlers.
// Satisfied by *store.PostgresStore and *store.MemoryUsers; defined at the consumer.
type UserStore interface {
	// CreateUser inserts u; store.ErrUserExists on duplicate email/username.
	CreateUser(ctx context.Context, u *store.User) error

	// GetUserByIdentifier matches email or username; store.ErrNotFound if absent.
	GetUserByIdentifier(ctx context.Context, identifier string) (*store.User, error)

	// GetUserByID fetches a user; store.ErrNotFound if absent.
	GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error)

	// UpdateCredential replaces the encoded credential.
	UpdateCredential(ctx context.Context, id uuid.UUID, credential string) error

	// SetActive activates or deactivates a user; store.ErrNotFound if absent.
	SetActive(ctx context.Context, id uuid.UUID, active bool) error

	CheckHealth(ctx context.Context) error
}

// HealthChecker is anything /health should ping.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// Handler holds dependencies for all HTTP handlers and middleware.
type Handler struct {
	Users        UserStore
	KV           HealthChecker
	Auth         *auth.Coordinator
	CookieSecure bool
}

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

var validate = validator.New()

// decode reads a JSON body into dst and runs struct validation.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return validate.Struct(dst)
}

// Lookup adapts the user store to auth.LookupFunc.
func (h *Handler) Lookup(ctx context.Context, identifier string) (*auth.Principal, error) {
	u, err := h.Users.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, auth.ErrAccountNotFound
		}
		return nil, err
	}
	return principalFromUser(u), nil
}

func principalFromUser(u *store.User) *auth.Principal {
	p := &auth.Principal{
		ID:         u.ID,
		Email:      u.Email,
		Role:       u.Role,
		Credential: auth.ParseCredential(u.Credential),
		Active:     u.Active,
	}
	if u.Username != nil {
		p.Username = *u.Username
	}
	return p
}

// credentialUpdater persists migrated credentials in encoded form.
type credentialUpdater struct {
	users UserStore
}

// NewCredentialUpdater returns an auth.CredentialUpdater writing through users.
func NewCredentialUpdater(users UserStore) auth.CredentialUpdater {
	return credentialUpdater{users: users}
}

func (c credentialUpdater) UpdateCredential(ctx context.Context, id uuid.UUID, hc auth.HashedCredential) error {
	return c.users.UpdateCredential(ctx, id, hc.Encode())
}

// Register handles POST /register: email (+ optional username) + password signup.
// Returns 201 with user_id, 400 for validation or strength failures, 409 if taken.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email" validate:"required,email,max=254"`
		Username string `json:"username" validate:"omitempty,alphanum,min=3,max=32"`
		Password string `json:"password" validate:"required,max=1024"`
	}
	if err := decode(w, r, &in); err != nil {
		logWarn(r, "invalid register input", "error", err)
		BadRequest(w, "invalid request body")
		return
	}

	report := auth.ValidateStrength(in.Password)
	if !report.Valid {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message":    "password does not meet requirements",
			"violations": report.Violations,
		})
		return
	}

	hc, err := h.Auth.Hasher.Hash(in.Password)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	id, err := uuid.NewV7()
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	u := &store.User{
		ID:         id,
		Email:      auth.NormalizeIdentifier(in.Email),
		Role:       store.RoleUser,
		Credential: hc.Encode(),
		Active:     true,
	}
	if in.Username != "" {
		name := strings.ToLower(in.Username)
		u.Username = &name
	}

	if err := h.Users.CreateUser(r.Context(), u); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			logInfo(r, "registration attempted with existing identifier")
			Conflict(w, "registration failed")
			return
		}
		InternalServerError(w, r, err)
		return
	}

	logInfo(r, "user registered", "user_id", id)
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": id.String()})
}

// sessionView is the JSON shape of a session returned to clients. The token
// itself only travels in the cookie.
type sessionView struct {
	UserID       uuid.UUID `json:"user_id"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
}

func viewOf(s auth.Session) sessionView {
	return sessionView{
		UserID:       s.PrincipalID,
		Role:         s.Role,
		CreatedAt:    s.CreatedAt,
		ExpiresAt:    s.ExpiresAt,
		LastActivity: s.LastActivity,
	}
}

// Login handles POST /login: identifier (email or username) + password.
// Returns 200 with the session view and sets cookies, 401 for bad credentials,
// 423 while locked, 403 for deactivated accounts.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Identifier string `json:"identifier" validate:"required,max=254"`
		Password   string `json:"password" validate:"required,max=1024"`
	}
	// Malformed or missing fields get the same generic 401 as a wrong password.
	if err := decode(w, r, &in); err != nil {
		logWarn(r, "invalid login input", "error", err)
		Unauthorized(w, "invalid credentials")
		return
	}

	// Reuse the browser's scope so a fresh login replaces its previous session.
	scope, ok := h.scopeFromRequest(r)
	if !ok {
		scopeID, err := auth.NewScopeID()
		if err != nil {
			InternalServerError(w, r, err)
			return
		}
		scope = h.Auth.Sessions.Scope(scopeID)
	}

	res, sess, err := h.Auth.Login(r.Context(), in.Identifier, in.Password, h.Lookup, scope)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	if res.Status != auth.StatusSuccess {
		logDebug(r, "login refused", "status", res.Status.String(), "reason", string(res.Reason))
	}
	switch res.Status {
	case auth.StatusSuccess:
		h.setSessionCookies(w, scope.ID(), sess.Token, sess.ExpiresAt)
		logInfo(r, "user logged in", "user_id", sess.PrincipalID, "migrated", res.Migrated)
		writeJSON(w, http.StatusOK, viewOf(*sess))
	case auth.StatusLocked:
		Locked(w)
	case auth.StatusDeactivated:
		Forbidden(w, "account deactivated")
	default:
		Unauthorized(w, "invalid credentials")
	}
}

// Logout handles POST /logout: clears the session in the caller's scope.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	scope, ok := ScopeFromContext(r.Context())
	if !ok {
		InternalServerError(w, r, errors.New("missing session context"))
		return
	}
	if err := scope.Clear(r.Context()); err != nil {
		InternalServerError(w, r, err)
		return
	}
	h.clearSessionCookie(w)
	logInfo(r, "user logged out", "scope", scope.ID())
	OK(w, "logged out")
}

// Session handles GET /session: returns the validated session.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		InternalServerError(w, r, errors.New("missing session context"))
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

// PasswordStrength handles POST /password/strength: scores a candidate password.
// Always 200; the report says whether it would be accepted.
func (h *Handler) PasswordStrength(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Password string `json:"password" validate:"max=1024"`
	}
	if err := decode(w, r, &in); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, auth.ValidateStrength(in.Password))
}

// PasswordChange handles POST /password/change for the signed-in user.
// A wrong current password counts against the account's lockout; reaching the
// limit ends the session with 423.
func (h *Handler) PasswordChange(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	scope, ok2 := ScopeFromContext(r.Context())
	if !ok || !ok2 {
		InternalServerError(w, r, errors.New("missing session context"))
		return
	}

	var in struct {
		CurrentPassword string `json:"current_password" validate:"required,max=1024"`
		NewPassword     string `json:"new_password" validate:"required,max=1024"`
	}
	if err := decode(w, r, &in); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	u, err := h.Users.GetUserByID(r.Context(), sess.PrincipalID)
	if err != nil {
		// Session outlived its user.
		if errors.Is(err, store.ErrNotFound) {
			if err := scope.Clear(r.Context()); err != nil {
				logWarn(r, "failed to clear session for missing user", "error", err)
			}
			h.clearSessionCookie(w)
			Unauthorized(w, "unauthorized")
			return
		}
		InternalServerError(w, r, err)
		return
	}
	identifier := auth.NormalizeIdentifier(u.Email)

	// A locked identifier cannot be unlocked by guessing through an open session.
	locked, err := h.Auth.Attempts.IsLocked(r.Context(), identifier)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	if locked {
		logInfo(r, "password change refused", "user_id", u.ID, "reason", auth.ReasonLocked)
		if err := scope.Clear(r.Context()); err != nil {
			logWarn(r, "failed to clear session for locked account", "error", err)
		}
		h.clearSessionCookie(w)
		Locked(w)
		return
	}

	if !h.Auth.Hasher.Verify(in.CurrentPassword, auth.ParseCredential(u.Credential)) {
		decision, err := h.Auth.Attempts.RecordFailure(r.Context(), identifier)
		if err != nil {
			InternalServerError(w, r, err)
			return
		}
		logInfo(r, "password change with wrong current password", "user_id", u.ID, "attempts", decision.Attempts)
		if decision.Locked {
			if err := scope.Clear(r.Context()); err != nil {
				logWarn(r, "failed to clear session after lockout", "error", err)
			}
			h.clearSessionCookie(w)
			Locked(w)
			return
		}
		Unauthorized(w, "invalid credentials")
		return
	}

	report := auth.ValidateStrength(in.NewPassword)
	if !report.Valid {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message":    "password does not meet requirements",
			"violations": report.Violations,
		})
		return
	}

	hc, err := h.Auth.Hasher.Hash(in.NewPassword)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	if err := h.Users.UpdateCredential(r.Context(), u.ID, hc.Encode()); err != nil {
		InternalServerError(w, r, err)
		return
	}
	if err := h.Auth.Attempts.Clear(r.Context(), identifier); err != nil {
		logWarn(r, "failed to clear attempts after password change", "error", err)
	}

	logInfo(r, "password changed", "user_id", u.ID)
	OK(w, "password updated")
}
