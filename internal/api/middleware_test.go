// middleware_test.go

// unit tests for RequireSession, RequireRole, and the admin lockout routes.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/MGallo-Code/warden/internal/store"
)

// --- RequireSession ---

func TestRequireSession(t *testing.T) {
	t.Run("missing session cookie", func(t *testing.T) {
		e := newTestEnv(t)
		w := e.do(http.MethodGet, "/session", "")
		assertMessage(t, w, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("scope cookie must be a uuid", func(t *testing.T) {
		e := newTestEnv(t)
		e.addUser(t, "a@example.com", testPassword, store.RoleUser)
		cookies := e.mustLogin(t, "a@example.com", testPassword)

		bad := &http.Cookie{Name: "scope", Value: "../other"}
		w := e.do(http.MethodGet, "/session", "", cookieNamed(cookies, "session"), bad)
		assertMessage(t, w, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("forged token is rejected and kills the real session", func(t *testing.T) {
		e := newTestEnv(t)
		e.addUser(t, "b@example.com", testPassword, store.RoleUser)
		cookies := e.mustLogin(t, "b@example.com", testPassword)
		scope := cookieNamed(cookies, "scope")

		forged := &http.Cookie{Name: "session", Value: strings.Repeat("ab", 32)}
		w := e.do(http.MethodGet, "/session", "", forged, scope)
		assertMessage(t, w, http.StatusUnauthorized, "unauthorized")

		w = e.do(http.MethodGet, "/session", "", cookies...)
		assertMessage(t, w, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("inactivity expires the session", func(t *testing.T) {
		e := newTestEnv(t)
		e.addUser(t, "c@example.com", testPassword, store.RoleUser)
		cookies := e.mustLogin(t, "c@example.com", testPassword)

		e.clk.Advance(2*time.Hour + time.Second)
		w := e.do(http.MethodGet, "/session", "", cookies...)
		assertMessage(t, w, http.StatusUnauthorized, "unauthorized")
		if c := cookieNamed(w.Result().Cookies(), "session"); c == nil || c.MaxAge >= 0 {
			t.Errorf("expected session cookie to be expired, got %+v", c)
		}
	})

	t.Run("absolute limit holds despite activity", func(t *testing.T) {
		e := newTestEnv(t)
		e.addUser(t, "d@example.com", testPassword, store.RoleUser)
		cookies := e.mustLogin(t, "d@example.com", testPassword)

		for _i := 0; _i < 7; _i++ {
			e.clk.Advance(time.Hour)
			if w := e.do(http.MethodGet, "/session", "", cookies...); w.Code != http.StatusOK {
				t.Fatalf("at %v: expected 200, got %d", e.clk.Now().Sub(t0), w.Code)
			}
		}
		e.clk.Advance(time.Hour)
		w := e.do(http.MethodGet, "/session", "", cookies...)
		assertMessage(t, w, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("storage failure is 500, not 401", func(t *testing.T) {
		e := newTestEnv(t)
		e.addUser(t, "e@example.com", testPassword, store.RoleUser)
		cookies := e.mustLogin(t, "e@example.com", testPassword)

		e.kv.GetErr = errTest
		w := e.do(http.MethodGet, "/session", "", cookies...)
		assertMessage(t, w, http.StatusInternalServerError, "internal server error")
	})
}

// --- Secure cookies ---

func TestSecureCookieNames(t *testing.T) {
	e := newTestEnv(t)
	e.h.CookieSecure = true
	e.addUser(t, "f@example.com", testPassword, store.RoleUser)

	w, cookies := e.login("f@example.com", testPassword)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", w.Code)
	}
	sc := cookieNamed(cookies, "__Host-session")
	if sc == nil || !sc.Secure {
		t.Fatalf("expected secure __Host-session cookie, got %+v", cookies)
	}
	if cookieNamed(cookies, "__Host-scope") == nil {
		t.Error("expected __Host-scope cookie")
	}
	if w := e.do(http.MethodGet, "/session", "", cookies...); w.Code != http.StatusOK {
		t.Errorf("session with secure cookies: expected 200, got %d", w.Code)
	}
}

// --- RequireRole / admin routes ---

func TestAdminLockouts(t *testing.T) {
	setup := func(t *testing.T) (*testEnv, []*http.Cookie) {
		e := newTestEnv(t)
		e.addUser(t, "admin@example.com", testPassword, store.RoleAdmin)
		e.addUser(t, "user@example.com", testPassword, store.RoleUser)
		return e, e.mustLogin(t, "admin@example.com", testPassword)
	}

	t.Run("non-admin is forbidden", func(t *testing.T) {
		e, _ := setup(t)
		cookies := e.mustLogin(t, "user@example.com", testPassword)
		w := e.do(http.MethodGet, "/admin/lockouts/user@example.com", "", cookies...)
		assertMessage(t, w, http.StatusForbidden, "forbidden")
	})

	t.Run("anonymous is unauthorized", func(t *testing.T) {
		e, _ := setup(t)
		w := e.do(http.MethodDelete, "/admin/lockouts/user@example.com", "")
		assertMessage(t, w, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("status reports a lock and clear lifts it", func(t *testing.T) {
		e, admin := setup(t)
		for _i := 0; _i < 5; _i++ {
			e.login("user@example.com", "wrong")
		}
		e.clk.Advance(5 * time.Minute)

		w := e.do(http.MethodGet, "/admin/lockouts/User@Example.com", "", admin...)
		if w.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var view lockoutView
		decodeBody(t, w, &view)
		if !view.Locked || view.Failures != 5 || view.RemainingSeconds != 600 {
			t.Errorf("unexpected lockout view: %+v", view)
		}
		if view.LockedAt == nil || *view.LockedAt != t0.Format(time.RFC3339) {
			t.Errorf("locked_at: got %v", view.LockedAt)
		}

		w = e.do(http.MethodDelete, "/admin/lockouts/user@example.com", "", admin...)
		assertMessage(t, w, http.StatusOK, "lockout cleared")

		if w, _ := e.login("user@example.com", testPassword); w.Code != http.StatusOK {
			t.Errorf("login after clear: expected 200, got %d", w.Code)
		}
	})

	t.Run("deactivated admin loses access through an open session", func(t *testing.T) {
		e := newTestEnv(t)
		a := e.addUser(t, "admin@example.com", testPassword, store.RoleAdmin)
		admin := e.mustLogin(t, "admin@example.com", testPassword)

		if err := e.users.SetActive(context.Background(), a.ID, false); err != nil {
			t.Fatalf("SetActive: %v", err)
		}
		w := e.do(http.MethodGet, "/admin/lockouts/user@example.com", "", admin...)
		assertMessage(t, w, http.StatusForbidden, "forbidden")
	})

	t.Run("demoted admin loses access through an open session", func(t *testing.T) {
		e := newTestEnv(t)
		a := e.addUser(t, "admin@example.com", testPassword, store.RoleAdmin)
		admin := e.mustLogin(t, "admin@example.com", testPassword)

		e.users.Users[a.ID].Role = store.RoleUser
		w := e.do(http.MethodGet, "/admin/lockouts/user@example.com", "", admin...)
		assertMessage(t, w, http.StatusForbidden, "forbidden")
	})

	t.Run("user store failure is a 500", func(t *testing.T) {
		e, admin := setup(t)
		e.users.GetUserErr = errors.New("db down")
		w := e.do(http.MethodGet, "/admin/lockouts/user@example.com", "", admin...)
		if w.Code != http.StatusInternalServerError {
			t.Errorf("status: expected 500, got %d", w.Code)
		}
	})

	t.Run("unknown identifier reports clean state", func(t *testing.T) {
		e, admin := setup(t)
		w := e.do(http.MethodGet, "/admin/lockouts/nobody", "", admin...)
		var view lockoutView
		decodeBody(t, w, &view)
		if view.Locked || view.Failures != 0 || view.LockedAt != nil {
			t.Errorf("unexpected lockout view: %+v", view)
		}
	})
}

// --- SetUserActive ---

func TestSetUserActive(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, "admin@example.com", testPassword, store.RoleAdmin)
	u := e.addUser(t, "kim@example.com", testPassword, store.RoleUser)
	admin := e.mustLogin(t, "admin@example.com", testPassword)

	w := e.do(http.MethodPut, "/admin/users/kim@example.com/active", `{"active":false}`, admin...)
	assertMessage(t, w, http.StatusOK, "user deactivated")
	if e.users.Users[u.ID].Active {
		t.Fatal("user still active")
	}
	w, _ = e.login("kim@example.com", testPassword)
	assertMessage(t, w, http.StatusForbidden, "account deactivated")

	w = e.do(http.MethodPut, "/admin/users/kim@example.com/active", `{"active":true}`, admin...)
	assertMessage(t, w, http.StatusOK, "user activated")
	e.mustLogin(t, "kim@example.com", testPassword)

	w = e.do(http.MethodPut, "/admin/users/ghost@example.com/active", `{"active":false}`, admin...)
	assertMessage(t, w, http.StatusNotFound, "user not found")

	w = e.do(http.MethodPut, "/admin/users/kim@example.com/active", `{}`, admin...)
	assertMessage(t, w, http.StatusBadRequest, "invalid request body")
}
