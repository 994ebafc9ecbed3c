package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/felixgeelhaar/nosubvo/internal/auth"
	"github.com/felixgeelhaar/nosubvo/internal/domain"
)

// SessionCookieName is the cookie carrying the session token
const SessionCookieName = "session"

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService  *auth.Service
	cookieMaxAge int
	secureCookie bool
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.Service, secureCookie bool, maxAge time.Duration) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		cookieMaxAge: int(maxAge.Seconds()),
		secureCookie: secureCookie,
	}
}

// RegisterRequest is the request body for registration
type RegisterRequest struct {
	Username          string `json:"username" validate:"required,min=3,max=64"`
	Email             string `json:"email" validate:"required,email"`
	Password          string `json:"password" validate:"required,min=6,max=72"`
	PreferredLanguage string `json:"preferred_language" validate:"omitempty,min=2,max=16"`
}

// LoginRequest is the request body for login. Username accepts an email.
type LoginRequest struct {
	Username string `json:"username" validate:"required_without=Email"`
	Email    string `json:"email"`
	Password string `json:"password" validate:"required"`
}

// SessionResponse is returned after a successful sign-in
type SessionResponse struct {
	User      *domain.User `json:"user"`
	Token     string       `json:"session_token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Register handles user registration
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) error {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	result, err := h.authService.Register(r.Context(), auth.RegisterRequest{
		Username:          req.Username,
		Email:             req.Email,
		Password:          req.Password,
		PreferredLanguage: req.PreferredLanguage,
	})
	if err != nil {
		return err
	}

	h.setSessionCookie(w, result.Token, h.cookieMaxAge)
	return writeJSON(w, http.StatusCreated, newSessionResponse(result))
}

// Login handles user login by username or email
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) error {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	login := req.Username
	if login == "" {
		login = req.Email
	}

	result, err := h.authService.Login(r.Context(), auth.LoginRequest{
		Login:    login,
		Password: req.Password,
	})
	if err != nil {
		return err
	}

	h.setSessionCookie(w, result.Token, h.cookieMaxAge)
	return writeJSON(w, http.StatusOK, newSessionResponse(result))
}

// Logout deletes the current session
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) error {
	token := SessionToken(r)
	if token == "" {
		return domain.ErrSessionNotFound
	}

	// An already expired session still counts as logged out
	if err := h.authService.Logout(r.Context(), token); err != nil &&
		!errors.Is(err, domain.ErrSessionNotFound) && !errors.Is(err, domain.ErrSessionExpired) {
		return err
	}

	h.setSessionCookie(w, "", -1)
	return writeJSON(w, http.StatusOK, map[string]string{
		"message": "logged out",
	})
}

// Me returns the current user
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func newSessionResponse(r *auth.LoginResponse) SessionResponse {
	return SessionResponse{
		User:      r.User,
		Token:     r.Token,
		ExpiresAt: r.Session.ExpiresAt,
	}
}
