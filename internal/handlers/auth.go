package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/services"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error)
	Logout(ctx context.Context, claims *models.TokenClaims) error
	ActiveSessions(ctx context.Context, userID string) ([]models.SessionHandle, error)
}

// AuthHandler handles login, logout and session listing
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
	baseURL  string
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler. baseURL is the public origin
// placed in enrollment links.
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig, baseURL string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
		baseURL:  baseURL,
		logger:   logger,
	}
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SessionsResponse lists the caller's active sessions
type SessionsResponse struct {
	CurrentSessionID string                 `json:"current_session_id"`
	Sessions         []models.SessionHandle `json:"sessions"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Login(r.Context(), services.LoginRequest{
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Password:  req.Password,
		SourceKey: pkghttp.SourceKey(r, h.ipConfig, h.logger),
		UserAgent: r.Header.Get("User-Agent"),
		Locale:    requestLocale(r),
		BaseURL:   h.baseURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrThrottled):
			pkghttp.WriteTooManyRequests(w, "Too many failed login attempts. Please try again later.")
		case errors.Is(err, models.ErrUnusualLocation):
			pkghttp.WriteUnusualLocation(w, "Login from an unusual location. Check your email to confirm it.")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.Logout(r.Context(), claims); err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Authentication required")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to logout")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Sessions handles GET /auth/sessions
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	handles, err := h.service.ActiveSessions(r.Context(), claims.UserID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list sessions")
		return
	}
	if handles == nil {
		handles = []models.SessionHandle{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, SessionsResponse{
		CurrentSessionID: claims.SessionID(),
		Sessions:         handles,
	})
}
