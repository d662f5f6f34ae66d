// middleware.go

// Session authentication and role middleware.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/MGallo-Code/warden/internal/auth"
	"github.com/MGallo-Code/warden/internal/store"
	"github.com/gofrs/uuid/v5"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const sessionKey contextKey = "session"
const scopeKey contextKey = "scope"

// SessionFromContext returns the validated session. False if RequireSession hasn't run.
func SessionFromContext(ctx context.Context) (auth.Session, bool) {
	s, ok := ctx.Value(sessionKey).(auth.Session)
	return s, ok
}

// ScopeFromContext returns the session scope bound by RequireSession.
func ScopeFromContext(ctx context.Context) (*auth.ScopedSessions, bool) {
	s, ok := ctx.Value(scopeKey).(*auth.ScopedSessions)
	return s, ok
}

// scopeFromRequest returns the scope named by the scope cookie, if it holds a valid id.
func (h *Handler) scopeFromRequest(r *http.Request) (*auth.ScopedSessions, bool) {
	c, err := r.Cookie(h.ScopeCookieName())
	if err != nil || c.Value == "" {
		return nil, false
	}
	// Scope ids become storage key segments; only accept what NewScopeID produces.
	if _, err := uuid.FromString(c.Value); err != nil {
		return nil, false
	}
	return h.Auth.Sessions.Scope(c.Value), true
}

// RequireSession validates the session and scope cookies against stored state.
// Injects the session and its scope into context on success; returns 401 on any
// session failure, which has already cleared the stored session.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCookie, err := r.Cookie(h.SessionCookieName())
		if err != nil || tokenCookie.Value == "" {
			logWarn(r, "require session failed", "reason", "missing_session_cookie")
			Unauthorized(w, "unauthorized")
			return
		}
		scope, ok := h.scopeFromRequest(r)
		if !ok {
			logWarn(r, "require session failed", "reason", "missing_or_invalid_scope_cookie")
			h.clearSessionCookie(w)
			Unauthorized(w, "unauthorized")
			return
		}

		sess, err := scope.ValidateToken(r.Context(), tokenCookie.Value)
		if err != nil {
			if auth.IsSessionFailure(err) {
				logInfo(r, "require session failed", "reason", err.Error(), "scope", scope.ID())
				h.clearSessionCookie(w)
				Unauthorized(w, "unauthorized")
				return
			}
			InternalServerError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, sess)
		ctx = context.WithValue(ctx, scopeKey, scope)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects with 403 unless the session's principal still exists,
// is active, and holds role in the user store. Must run after RequireSession.
func (h *Handler) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := SessionFromContext(r.Context())
			if !ok {
				logError(r, "require role used without require session")
				Unauthorized(w, "unauthorized")
				return
			}
			if sess.Role != role {
				logWarn(r, "role check failed", "principal_id", sess.PrincipalID, "required", role, "role", sess.Role)
				Forbidden(w, "forbidden")
				return
			}

			// Sessions outlive deactivation and role changes; the store is authoritative.
			u, err := h.Users.GetUserByID(r.Context(), sess.PrincipalID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				InternalServerError(w, r, err)
				return
			}
			if u == nil || !u.Active || u.Role != role {
				logWarn(r, "role check failed", "principal_id", sess.PrincipalID, "reason", "principal_inactive_or_changed")
				Forbidden(w, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
