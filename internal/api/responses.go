// responses.go -- Package-wide HTTP response helpers.
//
// Shared by handlers and middleware. Fixed messages are plain ASCII and never
// carry user input; anything dynamic goes through writeJSON.
package api

import (
	"encoding/json"
	"net/http"
)

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"message":"` + message + `"}`))
}

// InternalServerError logs the error and returns a generic 500 JSON response.
// Never exposes internal error details to prevent information leakage.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	writeMessage(w, http.StatusInternalServerError, "internal server error")
}

// BadRequest returns a 400 JSON response with the given message.
// Use for client input validation failures.
func BadRequest(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusBadRequest, message)
}

// Unauthorized returns a 401 JSON response with a generic message.
// Keep message generic to prevent user enumeration.
func Unauthorized(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusUnauthorized, message)
}

// Forbidden returns a 403 JSON response with the given message.
func Forbidden(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusForbidden, message)
}

// Conflict returns a 409 JSON response with the given message.
func Conflict(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusConflict, message)
}

// Locked returns a 423 for identifiers under lockout.
func Locked(w http.ResponseWriter) {
	writeMessage(w, http.StatusLocked, "account locked")
}

// TooManyRequests returns a 429 and asks the client to back off for a second.
func TooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	writeMessage(w, http.StatusTooManyRequests, "too many requests")
}

// OK returns a 200 JSON response with the given message.
func OK(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusOK, message)
}
