package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/background"
	"github.com/BradenHooton/loginguard/internal/config"
	"github.com/BradenHooton/loginguard/internal/database"
	"github.com/BradenHooton/loginguard/internal/geo"
	"github.com/BradenHooton/loginguard/internal/handlers"
	middlewareCustom "github.com/BradenHooton/loginguard/internal/middleware"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/notification"
	"github.com/BradenHooton/loginguard/internal/repositories"
	"github.com/BradenHooton/loginguard/internal/routes"
	"github.com/BradenHooton/loginguard/internal/services"
	"github.com/BradenHooton/loginguard/internal/supervisor"
	pkgauth "github.com/BradenHooton/loginguard/pkg/auth"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
	pkglogger "github.com/BradenHooton/loginguard/pkg/logger"
)

func main() {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLogger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Apply schema migrations before the pool opens
	if err := migrate(cfg); err != nil {
		logger.Error("failed to migrate database", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	trustedRepo := repositories.NewTrustedLocationRepository(db)
	deviceRepo := repositories.NewDeviceRecordRepository(db)
	tokenRepo := repositories.NewEnrollmentTokenRepository(db)

	auditLogger := pkglogger.NewAuditLogger(logger)

	resolver, closeResolver, err := newResolver(cfg.Risk, logger)
	if err != nil {
		logger.Error("failed to initialize geolocation", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeResolver()

	throttle := services.NewAttemptThrottle(services.AttemptThrottleConfig{
		Threshold: cfg.Risk.AttemptThreshold,
		Capacity:  cfg.Risk.ThrottleCapacity,
		Retention: cfg.Risk.ThrottleRetention,
	}, logger)

	tokenService := services.NewTokenService(tokenRepo, logger)

	// Notification pipeline
	pubSub := notification.NewPubSub(logger)
	defer pubSub.Close()

	mailer, err := newMailer(cfg.Email, logger)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}
	dispatcher := notification.NewDispatcher(pubSub, mailer, notification.DefaultDispatcherConfig(), logger)
	publisher := notification.NewPublisher(pubSub, logger)

	riskService := services.NewLoginRiskService(
		resolver,
		trustedRepo,
		deviceRepo,
		tokenService,
		publisher,
		services.LoginRiskConfig{
			LocationCheckEnabled: cfg.Risk.LocationCheckEnabled,
			EnrollmentTokenTTL:   cfg.Risk.EnrollmentTokenTTL,
		},
		logger,
		auditLogger,
	)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	sessions, closeSessions, err := newSessionRegistry(cfg.Session)
	if err != nil {
		logger.Error("failed to initialize session registry", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeSessions()

	authService := services.NewAuthService(userRepo, throttle, riskService, tokenManager, sessions, logger, auditLogger)

	// Seed a first user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureSeedUser(ctx, userRepo, riskService, logger); err != nil {
		logger.Error("failed to ensure seed user", slog.Any("error", err))
	}
	cancel()

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:   handlers.NewAuthHandler(authService, ipConfig, cfg.Server.PublicBaseURL, logger),
		EnrollHandler: handlers.NewEnrollHandler(riskService),
		AdminHandler:  handlers.NewAdminHandler(authService, riskService),
		TokenManager:  tokenManager,
		Sessions:      sessions,
		Health:        db,
		IPConfig:      ipConfig,
		RateLimit:     middlewareCustom.DefaultAuthRateLimit(),
		AdminToken:    cfg.Auth.AdminToken,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tree := supervisor.NewTree(logger, supervisor.DefaultTreeConfig())
	tree.AddBackgroundService(dispatcher)
	tree.AddBackgroundService(background.NewCleanupManager(tokenService, logger, cfg.Auth.CleanupInterval))
	if sweeper, ok := sessions.(background.Purger); ok {
		// Redis expires its own keys; the in-process registry needs a sweep
		tree.AddBackgroundService(background.NewCleanupManager(sweeper, logger, cfg.Auth.CleanupInterval).WithName("session-sweep"))
	}
	done := tree.ServeBackground(rootCtx)

	// Logins publish events, so the subscriber must exist before traffic arrives
	select {
	case <-dispatcher.Ready():
	case <-rootCtx.Done():
	case <-time.After(10 * time.Second):
		logger.Error("notification dispatcher did not start")
		os.Exit(1)
	}

	logger.Info("starting server", slog.String("addr", server.Addr))
	tree.AddAPIService(supervisor.NewHTTPServerService(server, 30*time.Second))

	err = <-done
	logger.Info("shutdown signal received")
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("supervisor stopped", slog.Any("error", err))
	}
	riskService.WaitDeviceChecks()

	if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logger.Error("service did not stop", slog.String("service", svc.Name))
		}
	}

	logger.Info("server stopped gracefully")
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// migrate runs goose over a short-lived database/sql connection
func migrate(cfg *config.Config) error {
	sqlDB, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer sqlDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return database.Migrate(ctx, sqlDB)
}

func newResolver(cfg config.RiskConfig, logger *slog.Logger) (geo.Resolver, func(), error) {
	breaker := geo.BreakerConfig{MaxFailures: cfg.GeoBreakerMaxFailures, Timeout: cfg.GeoBreakerTimeout}

	switch {
	case cfg.GeoIPDatabasePath != "":
		mm, err := geo.NewMaxMindResolver(cfg.GeoIPDatabasePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("geolocation enabled", slog.String("source", "maxmind"))
		return geo.NewBreakerResolver(mm, breaker, logger), func() { _ = mm.Close() }, nil
	case cfg.GeoIPStaticCountry != "":
		logger.Warn("geolocation uses a static country", slog.String("country", cfg.GeoIPStaticCountry))
		return geo.StaticResolver{Country: cfg.GeoIPStaticCountry}, func() {}, nil
	default:
		// location checks are disabled; config validation requires a source otherwise
		return geo.StaticResolver{}, func() {}, nil
	}
}

func newMailer(cfg config.EmailConfig, logger *slog.Logger) (notification.Mailer, error) {
	if !cfg.Enabled {
		return services.NewLogEmailService(logger), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mailer, err := services.NewAWSSESEmailService(ctx, cfg.AWSRegion, cfg.FromAddress, logger)
	if err != nil {
		return nil, err
	}
	return mailer, nil
}

type sessionStore interface {
	services.SessionRegistry
	auth.SessionChecker
}

func newSessionRegistry(cfg config.SessionConfig) (sessionStore, func(), error) {
	if cfg.Store != "redis" {
		return services.NewMemorySessionRegistry(cfg.MaxSessionsPerUser), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	registry, err := repositories.NewRedisSessionRegistry(ctx, repositories.RedisSessionConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		Prefix:     cfg.RedisPrefix,
		MaxPerUser: cfg.MaxSessionsPerUser,
	})
	if err != nil {
		return nil, nil, err
	}
	return registry, func() { _ = registry.Close() }, nil
}

// ensureSeedUser creates a first user if SEED_USER_EMAIL and SEED_USER_PASSWORD
// are set, trusting SEED_USER_COUNTRY as the registration country.
func ensureSeedUser(ctx context.Context, userRepo *repositories.UserRepository, risk *services.LoginRiskService, logger *slog.Logger) error {
	email := os.Getenv("SEED_USER_EMAIL")
	password := os.Getenv("SEED_USER_PASSWORD")

	if email == "" || password == "" {
		logger.Debug("no SEED_USER_EMAIL or SEED_USER_PASSWORD set, skipping seed user")
		return nil
	}

	user, err := userRepo.GetByEmail(ctx, email)
	switch {
	case err == nil:
		logger.Info("seed user already exists")
	case errors.Is(err, models.ErrNotFound):
		hashed, err := pkgauth.HashPassword(password)
		if err != nil {
			return fmt.Errorf("failed to hash seed user password: %w", err)
		}
		user, err = userRepo.Create(ctx, email, hashed)
		if err != nil {
			return fmt.Errorf("failed to create seed user: %w", err)
		}
		logger.Info("seed user created", slog.String("user_id", user.ID))
	default:
		return fmt.Errorf("failed to check if seed user exists: %w", err)
	}

	country := strings.TrimSpace(os.Getenv("SEED_USER_COUNTRY"))
	if country == "" {
		return nil
	}
	if _, err := risk.TrustLocation(ctx, user.ID, country); err != nil {
		return fmt.Errorf("failed to trust seed user country: %w", err)
	}
	return nil
}
