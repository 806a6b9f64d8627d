package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/utafrali/rentchain/pkg/httputil"
	"github.com/utafrali/rentchain/pkg/validator"
	"github.com/utafrali/rentchain/services/session/internal/domain"
	"github.com/utafrali/rentchain/services/session/internal/service"
)

// SessionPath scopes the refresh cookie to the rotation and logout endpoints.
const SessionPath = "/api/v1/auth/session"

const maxBodyBytes = 1 << 20

// CookieConfig controls the refresh cookie.
type CookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// AuthHandler handles HTTP requests for registration, login and the session
// endpoints.
type AuthHandler struct {
	sessions *service.SessionService
	cookie   CookieConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(sessions *service.SessionService, cookie CookieConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{sessions: sessions, cookie: cookie, logger: logger}
}

// --- Request DTOs ---

// RegisterRequest is the JSON request body for registration.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginRequest is the JSON request body for login.
type LoginRequest struct {
	EmailOrUsername string `json:"emailOrUsername" validate:"required,max=254"`
	Password        string `json:"password" validate:"required"`
}

// --- Response types ---

// SessionResponse carries the identity and its access token. The refresh
// secret travels only in the cookie.
type SessionResponse struct {
	Identity    *domain.Identity `json:"identity"`
	AccessToken string           `json:"accessToken"`
}

// TokenResponse is returned by a rotation.
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// --- Handlers ---

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req RegisterRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	session, err := h.sessions.Register(r.Context(), service.RegisterInput{
		Email:      req.Email,
		Username:   req.Username,
		Password:   req.Password,
		Provenance: provenance(r),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.setCookie(w, session.Secret)
	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{
		Data: SessionResponse{Identity: session.Identity, AccessToken: session.AccessToken},
	})
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req LoginRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	session, err := h.sessions.Login(r.Context(), service.LoginInput{
		Login:      req.EmailOrUsername,
		Password:   req.Password,
		Provenance: provenance(r),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.setCookie(w, session.Secret)
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: SessionResponse{Identity: session.Identity, AccessToken: session.AccessToken},
	})
}

// Refresh handles POST /api/v1/auth/session/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Rotate(r.Context(), h.readCookie(r), provenance(r))
	if err != nil {
		if errors.Is(err, domain.ErrNoMatchingSession) {
			h.clearCookie(w)
		}
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.setCookie(w, session.Secret)
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: TokenResponse{AccessToken: session.AccessToken},
	})
}

// Logout handles POST /api/v1/auth/session/logout. The cookie is cleared
// whether or not it matched a live session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context(), h.readCookie(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) readCookie(r *http.Request) string {
	c, err := r.Cookie(h.cookie.Name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (h *AuthHandler) setCookie(w http.ResponseWriter, secret string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    secret,
		Path:     SessionPath,
		MaxAge:   int(h.cookie.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     SessionPath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func provenance(r *http.Request) domain.Provenance {
	return domain.Provenance{
		IPAddress: httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}
