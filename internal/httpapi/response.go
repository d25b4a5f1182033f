package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/leafcart/storeauth"
)

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, APIResponse{Success: true, Data: data})
}

func writeStatus(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIResponse{Error: &APIError{Code: code, Message: message}})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	body := &APIError{Code: "INTERNAL_ERROR", Message: "Unexpected server error"}

	switch {
	case errors.Is(err, storeauth.ErrInvalidInput):
		status, body.Code, body.Message = http.StatusBadRequest, "BAD_REQUEST", "Invalid input"
		body.Details = err.Error()
	case errors.Is(err, storeauth.ErrPasswordPolicy):
		status, body.Code, body.Message = http.StatusBadRequest, "WEAK_PASSWORD", "Password does not meet requirements"
		body.Details = err.Error()
	case errors.Is(err, storeauth.ErrPasswordReuse):
		status, body.Code, body.Message = http.StatusBadRequest, "PASSWORD_REUSE", "New password must differ from the current one"
	case errors.Is(err, storeauth.ErrAccountExists):
		status, body.Code, body.Message = http.StatusConflict, "ALREADY_EXISTS", "An account with this email already exists"
	case errors.Is(err, storeauth.ErrInvalidCredentials):
		status, body.Code, body.Message = http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password"
	case errors.Is(err, storeauth.ErrLoginRateLimited):
		w.Header().Set("Retry-After", "60")
		status, body.Code, body.Message = http.StatusTooManyRequests, "LOGIN_BLOCKED", "Too many failed attempts, try again later"
	case errors.Is(err, storeauth.ErrUnauthorized):
		status, body.Code, body.Message = http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required"
	case errors.Is(err, storeauth.ErrUserNotFound):
		status, body.Code, body.Message = http.StatusNotFound, "NOT_FOUND", "User not found"
	case errors.Is(err, storeauth.ErrCSRFUnavailable):
		status, body.Code, body.Message = http.StatusServiceUnavailable, "CSRF_UNAVAILABLE", "Could not issue a CSRF token"
	default:
		slog.ErrorContext(r.Context(), "unhandled error", "error", err.Error(), "path", r.URL.Path)
	}

	writeJSON(w, status, APIResponse{Error: body})
}

// guardError renders middleware rejections in the envelope format.
func guardError(w http.ResponseWriter, _ *http.Request, status int) {
	switch status {
	case http.StatusForbidden:
		writeStatus(w, status, "FORBIDDEN", "Access denied")
	case http.StatusUnauthorized:
		writeStatus(w, status, "UNAUTHORIZED", "Authentication required")
	default:
		writeStatus(w, status, "ERROR", http.StatusText(status))
	}
}
