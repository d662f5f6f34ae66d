// health.go -- Health check handler for GET /health.
package api

import (
	"net/http"
)

// CheckHealth handles GET /health: pings the KV backend and the user store.
// Returns 200 if both are healthy, 503 if either is down.
func (h *Handler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	kvStatus := "ok"
	usersStatus := "ok"

	if err := h.KV.CheckHealth(r.Context()); err != nil {
		logError(r, "kv health check failed", "error", err)
		kvStatus = "error"
	}
	if err := h.Users.CheckHealth(r.Context()); err != nil {
		logError(r, "user store health check failed", "error", err)
		usersStatus = "error"
	}

	status := http.StatusOK
	if kvStatus != "ok" || usersStatus != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, struct {
		KV    string `json:"kv"`
		Users string `json:"users"`
	}{kvStatus, usersStatus})
}
