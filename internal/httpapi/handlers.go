package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/leafcart/storeauth"
	"github.com/leafcart/storeauth/middleware"
)

const maxBodyBytes = 1 << 20

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	*storeauth.LoginResult
	CSRFToken string `json:"csrfToken,omitempty"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type sessionView struct {
	storeauth.SessionInfo
	Current bool `json:"current"`
}

// AuthHandler serves the /api/auth and /api/admin routes.
type AuthHandler struct {
	engine       *storeauth.Engine
	cookieSecure bool
}

// NewAuthHandler returns handlers backed by engine. cookieSecure marks the
// access token cookie Secure.
func NewAuthHandler(engine *storeauth.Engine, cookieSecure bool) *AuthHandler {
	return &AuthHandler{engine: engine, cookieSecure: cookieSecure}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeStatus(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid JSON body")
		return false
	}
	return true
}

// Register handles POST /api/auth/register and answers 201 with the new account.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.engine.Register(r.Context(), storeauth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, user)
}

// Login handles POST /api/auth/login. It sets the access token cookie and
// returns the token with a fresh CSRF token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.engine.Login(r.Context(), storeauth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	// A missing CSRF token is not fatal; the client can fetch one later.
	csrfToken, _ := h.engine.IssueCSRFToken(r.Context(), res.SessionID)

	h.setTokenCookie(w, res.AccessToken, res.ExpiresAt)
	writeSuccess(w, http.StatusOK, loginResponse{LoginResult: res, CSRFToken: csrfToken})
}

// Logout revokes the caller's session and clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	id, _ := storeauth.IdentityFromContext(r.Context())
	if err := h.engine.Logout(r.Context(), id.SessionID); err != nil {
		writeError(w, r, err)
		return
	}
	h.clearTokenCookie(w)
	writeSuccess(w, http.StatusOK, map[string]bool{"loggedOut": true})
}

// LogoutAll revokes every session of the caller.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := storeauth.IdentityFromContext(r.Context())
	n, err := h.engine.LogoutAll(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.clearTokenCookie(w)
	writeSuccess(w, http.StatusOK, map[string]int{"revoked": n})
}

// Me returns the caller's account and session.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := storeauth.IdentityFromContext(r.Context())
	user, err := h.engine.User(r.Context(), id.UserID)
	if err != nil {
		if errors.Is(err, storeauth.ErrUserNotFound) {
			err = storeauth.ErrUnauthorized
		}
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"user":      user,
		"sessionId": id.SessionID,
		"expiresAt": id.ExpiresAt,
	})
}

// CSRFToken issues a CSRF token bound to the caller's session.
func (h *AuthHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	id, _ := storeauth.IdentityFromContext(r.Context())
	token, err := h.engine.IssueCSRFToken(r.Context(), id.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"csrfToken": token})
}

// Sessions lists the caller's sessions, flagging the current one.
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	id, _ := storeauth.IdentityFromContext(r.Context())
	h.writeSessions(w, r, id.UserID, id.SessionID)
}

// ChangePassword replaces the caller's password. Every session is revoked,
// so the client must log in again.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, _ := storeauth.IdentityFromContext(r.Context())
	if err := h.engine.ChangePassword(r.Context(), id.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}
	h.clearTokenCookie(w)
	writeSuccess(w, http.StatusOK, map[string]bool{"passwordChanged": true})
}

// AdminListSessions lists the sessions of the account named in the path.
func (h *AuthHandler) AdminListSessions(w http.ResponseWriter, r *http.Request) {
	id, _ := storeauth.IdentityFromContext(r.Context())
	h.writeSessions(w, r, chi.URLParam(r, "userID"), id.SessionID)
}

// AdminRevokeSessions revokes every session of the account named in the path.
func (h *AuthHandler) AdminRevokeSessions(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.LogoutAll(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]int{"revoked": n})
}

func (h *AuthHandler) writeSessions(w http.ResponseWriter, r *http.Request, userID, currentSessionID string) {
	sessions, err := h.engine.ListSessions(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionView{SessionInfo: s, Current: s.ID == currentSessionID})
	}
	writeSuccess(w, http.StatusOK, out)
}

func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessTokenCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessTokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
