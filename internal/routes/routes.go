package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/handlers"
	"github.com/BradenHooton/loginguard/internal/middleware"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
)

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds everything the route table needs
type Dependencies struct {
	AuthHandler   *handlers.AuthHandler
	EnrollHandler *handlers.EnrollHandler
	AdminHandler  *handlers.AdminHandler
	TokenManager  *auth.TokenManager
	Sessions      auth.SessionChecker
	Health        HealthChecker
	IPConfig      *pkghttp.IPConfig
	RateLimit     middleware.RateLimitConfig
	AdminToken    string
	Logger        *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	limit := middleware.RateLimitByIP(deps.RateLimit, deps.IPConfig, deps.Logger)

	// Public routes
	router.With(limit).Post("/auth/login", deps.AuthHandler.Login)
	router.With(limit).Get("/enroll", deps.EnrollHandler.Enroll)
	router.Get("/health", healthHandler(deps.Health))
	router.Handle("/metrics", promhttp.Handler())

	// Session routes
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireSession(deps.TokenManager, deps.Sessions, auth.SessionCheckConfig{FailClosed: true}, deps.Logger))
		r.Post("/auth/logout", deps.AuthHandler.Logout)
		r.Get("/auth/sessions", deps.AuthHandler.Sessions)
	})

	// Operator recovery, only when a token is configured
	if deps.AdminToken != "" {
		router.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdminToken(deps.AdminToken))
			r.Delete("/throttle/{key}", deps.AdminHandler.ResetThrottle)
			r.Post("/trusted-locations", deps.AdminHandler.TrustLocation)
		})
	}
}

func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.HealthCheck(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "up"})
	}
}
