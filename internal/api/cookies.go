// cookies.go -- Session and scope cookies.
//
// The session cookie carries the opaque token; the scope cookie names the
// storage scope the session lives in. Both are HttpOnly, SameSite=Strict.
// With Secure enabled the names take the __Host- prefix, which browsers only
// accept over HTTPS with Path=/ and no Domain.
package api

import (
	"net/http"
	"time"
)

const (
	sessionCookieBase = "session"
	scopeCookieBase   = "scope"
)

func (h *Handler) cookieName(base string) string {
	if h.CookieSecure {
		return "__Host-" + base
	}
	return base
}

// SessionCookieName and ScopeCookieName report the names in effect.
func (h *Handler) SessionCookieName() string { return h.cookieName(sessionCookieBase) }
func (h *Handler) ScopeCookieName() string   { return h.cookieName(scopeCookieBase) }

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// setSessionCookies writes both cookies, expiring with the session's absolute limit.
func (h *Handler) setSessionCookies(w http.ResponseWriter, scopeID, token string, expiresAt time.Time) {
	h.setCookie(w, h.SessionCookieName(), token, expiresAt)
	h.setCookie(w, h.ScopeCookieName(), scopeID, expiresAt)
}

// clearSessionCookie expires the session cookie. The scope cookie is kept so
// the next login in this browser reuses the same scope.
func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.SessionCookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}
