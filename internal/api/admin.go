// admin.go -- Lockout administration for admin sessions.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/MGallo-Code/warden/internal/auth"
	"github.com/MGallo-Code/warden/internal/store"
	"github.com/go-chi/chi/v5"
)

// lockoutView is the JSON shape of an identifier's lockout state.
type lockoutView struct {
	Identifier       string  `json:"identifier"`
	Failures         int     `json:"failures"`
	Locked           bool    `json:"locked"`
	LockedAt         *string `json:"locked_at,omitempty"`
	RemainingSeconds int64   `json:"remaining_seconds"`
}

func identifierParam(r *http.Request) string {
	return auth.NormalizeIdentifier(chi.URLParam(r, "identifier"))
}

// LockoutStatus handles GET /admin/lockouts/{identifier}.
func (h *Handler) LockoutStatus(w http.ResponseWriter, r *http.Request) {
	id := identifierParam(r)
	if id == "" {
		BadRequest(w, "invalid identifier")
		return
	}
	st, err := h.Auth.Attempts.Status(r.Context(), id)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	view := lockoutView{
		Identifier:       st.Identifier,
		Failures:         st.Failures,
		Locked:           st.Locked,
		RemainingSeconds: int64(st.Remaining.Seconds()),
	}
	if st.LockedAt != nil {
		at := st.LockedAt.UTC().Format(time.RFC3339)
		view.LockedAt = &at
	}
	writeJSON(w, http.StatusOK, view)
}

// ClearLockout handles DELETE /admin/lockouts/{identifier}. Idempotent.
func (h *Handler) ClearLockout(w http.ResponseWriter, r *http.Request) {
	id := identifierParam(r)
	if id == "" {
		BadRequest(w, "invalid identifier")
		return
	}
	if err := h.Auth.Attempts.Clear(r.Context(), id); err != nil {
		InternalServerError(w, r, err)
		return
	}
	if sess, ok := SessionFromContext(r.Context()); ok {
		logInfo(r, "lockout cleared", "admin_id", sess.PrincipalID, "identifier", id)
	}
	OK(w, "lockout cleared")
}

// SetUserActive handles PUT /admin/users/{identifier}/active with {"active": bool}.
// Deactivated users are refused at login; sessions already open run out on
// their own timeouts.
func (h *Handler) SetUserActive(w http.ResponseWriter, r *http.Request) {
	id := identifierParam(r)
	if id == "" {
		BadRequest(w, "invalid identifier")
		return
	}
	var in struct {
		Active *bool `json:"active" validate:"required"`
	}
	if err := decode(w, r, &in); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	u, err := h.Users.GetUserByIdentifier(r.Context(), id)
	if err == nil {
		err = h.Users.SetActive(r.Context(), u.ID, *in.Active)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "user not found")
			return
		}
		InternalServerError(w, r, err)
		return
	}

	sess, _ := SessionFromContext(r.Context())
	logInfo(r, "user active flag changed", "admin_id", sess.PrincipalID, "user_id", u.ID, "active", *in.Active)
	if *in.Active {
		OK(w, "user activated")
		return
	}
	OK(w, "user deactivated")
}
