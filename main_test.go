// main_test.go
//
// Level 3 smoke tests
// chi wiring via httptest.NewServer with in-memory stores.
// Catches middleware ordering, route grouping, and real HTTP cookie/header behavior
// that httptest.NewRecorder cannot exercise.

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MGallo-Code/warden/internal/api"
	"github.com/MGallo-Code/warden/internal/auth"
	"github.com/MGallo-Code/warden/internal/store"
)

const (
	smokeEmail    = "smoke@example.com"
	smokePassword = "Smoke-Test-123!"
)

// --- Smoke helpers ---

// newSmokeServer returns a server over in-memory stores with one seeded user
// and secure (__Host-) cookie names, as in production.
func newSmokeServer(t *testing.T, limiter *api.IPLimiter) *httptest.Server {
	return newSmokeServerProxy(t, limiter, false)
}

// newSmokeServerProxy is newSmokeServer with forwarding headers trusted or not.
func newSmokeServerProxy(t *testing.T, limiter *api.IPLimiter, trustProxy bool) *httptest.Server {
	t.Helper()
	users := store.NewMemoryUsers(nil)
	kv := store.NewMemoryKV(nil)
	coord := &auth.Coordinator{
		Hasher:   auth.NewHasher(auth.MinIterations),
		Attempts: auth.NewAttemptTracker(kv, auth.DefaultLockoutPolicy()),
		Sessions: auth.NewSessionManager(kv, auth.DefaultSessionPolicy()),
		Updater:  api.NewCredentialUpdater(users),
	}
	if err := bootstrapAdmin(context.Background(), users, coord.Hasher, smokeEmail, smokePassword); err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	h := &api.Handler{Users: users, KV: kv, Auth: coord, CookieSecure: true}
	srv := httptest.NewServer(buildRouter(h, limiter, trustProxy))
	t.Cleanup(srv.Close)
	return srv
}

// doSmokeLogin posts valid credentials. Caller closes the body.
func doSmokeLogin(t *testing.T, baseURL string) *http.Response {
	t.Helper()
	resp, err := http.Post(baseURL+"/login", "application/json",
		strings.NewReader(`{"identifier":"`+smokeEmail+`","password":"`+smokePassword+`"}`))
	if err != nil {
		t.Fatalf("POST /login: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}
	return resp
}

// cookieHeader renders the __Host- cookies from resp as a Cookie header.
// The default client has no jar, and would not send Secure cookies over http anyway.
func cookieHeader(t *testing.T, resp *http.Response) string {
	t.Helper()
	var parts []string
	for _, c := range resp.Cookies() {
		if c.Name == "__Host-session" || c.Name == "__Host-scope" {
			parts = append(parts, c.Name+"="+c.Value)
		}
	}
	if len(parts) != 2 {
		t.Fatalf("expected session and scope cookies, got %v", resp.Cookies())
	}
	return strings.Join(parts, "; ")
}

// --- Smoke tests ---

// TestSmoke_Health verifies the public health route is mounted.
func TestSmoke_Health(t *testing.T) {
	srv := newSmokeServer(t, nil)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: expected 200, got %d", resp.StatusCode)
	}
}

// TestSmoke_UnknownRoute verifies unmatched paths fall through to chi's 404.
func TestSmoke_UnknownRoute(t *testing.T) {
	srv := newSmokeServer(t, nil)

	resp, err := http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: expected 404, got %d", resp.StatusCode)
	}
}

// TestSmoke_Login_ValidCredentials verifies login sets secure session cookies.
func TestSmoke_Login_ValidCredentials(t *testing.T) {
	srv := newSmokeServer(t, nil)

	resp := doSmokeLogin(t, srv.URL)
	defer resp.Body.Close()

	var sessionCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "__Host-session" {
			sessionCookie = c
			break
		}
	}
	if sessionCookie == nil {
		t.Fatal("__Host-session cookie not set")
	}
	if !sessionCookie.Secure || !sessionCookie.HttpOnly || sessionCookie.SameSite != http.SameSiteStrictMode {
		t.Errorf("cookie attributes: %+v", sessionCookie)
	}

	var body struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	if body.UserID == "" || body.Role != store.RoleAdmin {
		t.Errorf("unexpected body: %+v", body)
	}
}

// TestSmoke_Logout_WithoutSession verifies /logout rejects unauthenticated requests
// (RequireSession is wired to the protected route group).
func TestSmoke_Logout_WithoutSession(t *testing.T) {
	srv := newSmokeServer(t, nil)

	resp, err := http.Post(srv.URL+"/logout", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /logout: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status: expected 401, got %d", resp.StatusCode)
	}
}

// TestSmoke_FullRoundTrip verifies login -> session -> logout over real HTTP.
func TestSmoke_FullRoundTrip(t *testing.T) {
	srv := newSmokeServer(t, nil)

	loginResp := doSmokeLogin(t, srv.URL)
	cookies := cookieHeader(t, loginResp)
	loginResp.Body.Close()

	send := func(method, path string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(method, srv.URL+path, nil)
		if err != nil {
			t.Fatalf("building request: %v", err)
		}
		req.Header.Set("Cookie", cookies)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		return resp
	}

	resp := send(http.MethodGet, "/session")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session: expected 200, got %d", resp.StatusCode)
	}

	// Admin routes sit behind RequireSession and RequireRole.
	resp = send(http.MethodGet, "/admin/lockouts/someone@example.com")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin lockout status: expected 200, got %d", resp.StatusCode)
	}

	resp = send(http.MethodPost, "/logout")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("logout: expected 200, got %d", resp.StatusCode)
	}
	var cleared bool
	for _, c := range resp.Cookies() {
		if c.Name == "__Host-session" && c.MaxAge == -1 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("__Host-session not cleared in logout response")
	}

	resp = send(http.MethodGet, "/session")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("session after logout: expected 401, got %d", resp.StatusCode)
	}
}

// TestSmoke_Throttle verifies the limiter passed to buildRouter guards /login.
// httptest clients all share 127.0.0.1, so one bucket covers every request here.
func TestSmoke_Throttle(t *testing.T) {
	srv := newSmokeServer(t, api.NewIPLimiter(0.001, 1, nil))

	doSmokeLogin(t, srv.URL).Body.Close()

	resp, err := http.Post(srv.URL+"/login", "application/json",
		strings.NewReader(`{"identifier":"`+smokeEmail+`","password":"`+smokePassword+`"}`))
	if err != nil {
		t.Fatalf("POST /login: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status: expected 429, got %d", resp.StatusCode)
	}
}

// smokeLoginFrom posts valid credentials with X-Forwarded-For set to ip.
func smokeLoginFrom(t *testing.T, baseURL, ip string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, baseURL+"/login",
		strings.NewReader(`{"identifier":"`+smokeEmail+`","password":"`+smokePassword+`"}`))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", ip)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /login: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

// TestSmoke_ForwardedFor verifies X-Forwarded-For only picks the throttle
// bucket when the router is told to trust a proxy.
func TestSmoke_ForwardedFor(t *testing.T) {
	t.Run("ignored by default", func(t *testing.T) {
		srv := newSmokeServerProxy(t, api.NewIPLimiter(0.001, 1, nil), false)
		if code := smokeLoginFrom(t, srv.URL, "198.51.100.1"); code != http.StatusOK {
			t.Fatalf("first login: expected 200, got %d", code)
		}
		if code := smokeLoginFrom(t, srv.URL, "198.51.100.2"); code != http.StatusTooManyRequests {
			t.Errorf("spoofed header: expected 429, got %d", code)
		}
	})

	t.Run("honoured behind a trusted proxy", func(t *testing.T) {
		srv := newSmokeServerProxy(t, api.NewIPLimiter(0.001, 1, nil), true)
		if code := smokeLoginFrom(t, srv.URL, "198.51.100.1"); code != http.StatusOK {
			t.Fatalf("first login: expected 200, got %d", code)
		}
		if code := smokeLoginFrom(t, srv.URL, "198.51.100.2"); code != http.StatusOK {
			t.Errorf("second client: expected 200, got %d", code)
		}
		if code := smokeLoginFrom(t, srv.URL, "198.51.100.1"); code != http.StatusTooManyRequests {
			t.Errorf("repeat client: expected 429, got %d", code)
		}
	})
}

// --- bootstrapAdmin ---

func TestBootstrapAdmin(t *testing.T) {
	ctx := context.Background()
	hasher := auth.NewHasher(auth.MinIterations)

	t.Run("creates once and is idempotent", func(t *testing.T) {
		users := store.NewMemoryUsers(nil)
		for _i := 0; _i < 2; _i++ {
			if err := bootstrapAdmin(ctx, users, hasher, " Root@Example.com", smokePassword); err != nil {
				t.Fatalf("bootstrapAdmin: %v", err)
			}
		}
		u, err := users.GetUserByIdentifier(ctx, "root@example.com")
		if err != nil {
			t.Fatalf("admin not created: %v", err)
		}
		if u.Role != store.RoleAdmin || !u.Active {
			t.Errorf("unexpected admin: %+v", u)
		}
	})

	t.Run("weak password is refused", func(t *testing.T) {
		users := store.NewMemoryUsers(nil)
		if err := bootstrapAdmin(ctx, users, hasher, "root@example.com", "admin"); err == nil {
			t.Fatal("expected error for weak password")
		}
	})
}
