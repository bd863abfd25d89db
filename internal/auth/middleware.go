package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/loginguard/internal/models"
)

type contextKey string

const (
	// UserContextKey is the key for storing user claims in context
	UserContextKey contextKey = "user"
)

// SessionChecker reports whether a session id is still registered
type SessionChecker interface {
	IsActive(ctx context.Context, sessionID string) (bool, error)
}

type SessionCheckConfig struct {
	FailClosed bool // deny access when the registry cannot be reached
}

// RequireSession validates the bearer token and rejects it once its session
// has been unregistered or displaced by a newer login.
func RequireSession(tm *TokenManager, sessions SessionChecker, cfg SessionCheckConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := tm.ValidateToken(parts[1])
			if err != nil {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			active, err := sessions.IsActive(r.Context(), claims.SessionID())
			if err != nil {
				logger.Error("session check failed",
					slog.String("user_id", claims.UserID),
					slog.Any("error", err))
				if cfg.FailClosed {
					http.Error(w, "unable to verify session", http.StatusServiceUnavailable)
					return
				}
				active = true
			}
			if !active {
				http.Error(w, "session has ended", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}
