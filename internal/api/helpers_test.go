package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MGallo-Code/warden/internal/auth"
	"github.com/MGallo-Code/warden/internal/clock"
	"github.com/MGallo-Code/warden/internal/store"
	"github.com/MGallo-Code/warden/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
)

var t0 = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

const testPassword = "Secret123!"

// --- Helper Functions ---

// testEnv is a Handler over mocks, a fake clock, and a router with every route mounted.
type testEnv struct {
	h      *Handler
	users  *testutil.MockUsers
	kv     *testutil.MockKV
	clk    *clock.Fake
	router http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := clock.NewFake(t0)
	kv := testutil.NewMockKV(clk)
	users := testutil.NewMockUsers()

	coord := &auth.Coordinator{
		Hasher:   auth.NewHasher(auth.MinIterations),
		Attempts: auth.NewAttemptTracker(kv, auth.DefaultLockoutPolicy(), auth.WithClock(clk)),
		Sessions: auth.NewSessionManager(kv, auth.DefaultSessionPolicy(), auth.WithClock(clk)),
		Updater:  NewCredentialUpdater(users),
	}
	h := &Handler{Users: users, KV: kv, Auth: coord}

	r := chi.NewRouter()
	h.Mount(r, nil)
	return &testEnv{h: h, users: users, kv: kv, clk: clk, router: r}
}

// addUser seeds a user whose credential is hashed from password.
func (e *testEnv) addUser(t *testing.T, email, password, role string) *store.User {
	t.Helper()
	hc, err := e.h.Auth.Hasher.Hash(password)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	return e.addUserWithCredential(email, hc.Encode(), role)
}

func (e *testEnv) addUserWithCredential(email, credential, role string) *store.User {
	u := &store.User{ID: uuid.Must(uuid.NewV7()), Email: email, Role: role, Credential: credential, Active: true}
	e.users.CreateUser(context.Background(), u)
	return u
}

// do sends a request through the router with the given cookies.
func (e *testEnv) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// login posts credentials and returns the response plus the cookies it set.
func (e *testEnv) login(identifier, password string, cookies ...*http.Cookie) (*httptest.ResponseRecorder, []*http.Cookie) {
	body := fmt.Sprintf(`{"identifier":%q,"password":%q}`, identifier, password)
	w := e.do(http.MethodPost, "/login", body, cookies...)
	return w, w.Result().Cookies()
}

// mustLogin logs in and fails the test unless it returns 200.
func (e *testEnv) mustLogin(t *testing.T, identifier, password string) []*http.Cookie {
	t.Helper()
	w, cookies := e.login(identifier, password)
	if w.Code != http.StatusOK {
		t.Fatalf("login(%q): expected 200, got %d: %s", identifier, w.Code, w.Body.String())
	}
	return cookies
}

func cookieNamed(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// assertMessage checks status, JSON content type, and the exact {"message":...} body.
func assertMessage(t *testing.T, w *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()
	if w.Code != status {
		t.Errorf("status: expected %d, got %d", status, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
	expected := fmt.Sprintf(`{"message":"%s"}`, msg)
	if got := w.Body.String(); got != expected {
		t.Errorf("body: expected %q, got %q", expected, got)
	}
}

// decodeBody unmarshals a JSON response body into v.
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding body %q: %v", w.Body.String(), err)
	}
}
