package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/metrics"
	"github.com/BradenHooton/loginguard/internal/models"
	pkgauth "github.com/BradenHooton/loginguard/pkg/auth"
	pkglogger "github.com/BradenHooton/loginguard/pkg/logger"
)

// UserRepository defines the user lookups needed for the credential check
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// RiskEvaluator is the post-authentication gate
type RiskEvaluator interface {
	Evaluate(ctx context.Context, lc models.LoginContext) (*models.RiskDecision, error)
}

// LoginRequest carries credentials plus the request facts the risk pipeline needs
type LoginRequest struct {
	Email     string
	Password  string
	SourceKey string
	UserAgent string
	Locale    string
	BaseURL   string
}

// LoginResult is returned on an allowed login
type LoginResult struct {
	AccessToken         string    `json:"access_token"`
	SessionID           string    `json:"session_id"`
	ExpiresAt           time.Time `json:"expires_at"`
	InvalidatedSessions []string  `json:"invalidated_sessions"`
}

// AuthService runs the login pipeline: throttle, credential check, risk
// evaluation, then session registration.
type AuthService struct {
	users       UserRepository
	throttle    *AttemptThrottle
	risk        RiskEvaluator
	tm          *auth.TokenManager
	sessions    SessionRegistry
	comparePw   func(hash, password string) error
	dummyPw     func(password string)
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

func NewAuthService(
	users UserRepository,
	throttle *AttemptThrottle,
	risk RiskEvaluator,
	tm *auth.TokenManager,
	sessions SessionRegistry,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		users:       users,
		throttle:    throttle,
		risk:        risk,
		tm:          tm,
		sessions:    sessions,
		comparePw:   pkgauth.ComparePassword,
		dummyPw:     pkgauth.CompareDummy,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Login authenticates req. Denials are models.ErrThrottled,
// models.ErrUnauthorized and models.ErrUnusualLocation; only bad credentials
// count against the source key.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if s.throttle.IsBlocked(req.SourceKey) {
		s.logger.Info("login rejected: source throttled", slog.String("source_key", req.SourceKey))
		metrics.RiskDecisions.WithLabelValues(string(models.RiskBlock), "throttled").Inc()
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     pkglogger.EventLoginThrottled,
			SourceKey:     req.SourceKey,
			FailureReason: "too_many_attempts",
		})
		return nil, models.ErrThrottled
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		s.recordFailure(ctx, req.SourceKey, "", "missing_credentials")
		return nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.dummyPw(req.Password)
			s.recordFailure(ctx, req.SourceKey, "", "invalid_credentials")
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.comparePw(user.PasswordHash, req.Password); err != nil {
		s.recordFailure(ctx, req.SourceKey, user.ID, "invalid_credentials")
		return nil, models.ErrUnauthorized
	}

	decision, err := s.risk.Evaluate(ctx, models.LoginContext{
		UserID:    user.ID,
		Email:     user.Email,
		SourceKey: req.SourceKey,
		UserAgent: req.UserAgent,
		Locale:    req.Locale,
		BaseURL:   req.BaseURL,
	})
	if err != nil {
		s.logger.Error("login risk evaluation failed",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if decision.Outcome == models.RiskChallenge {
		s.logger.Info("login denied: unusual location",
			slog.String("user_id", user.ID),
			slog.String("country", decision.CountryCode))
		return nil, models.ErrUnusualLocation
	}

	return s.startSession(ctx, user, req.SourceKey, decision)
}

func (s *AuthService) recordFailure(ctx context.Context, sourceKey, userID, reason string) {
	count := s.throttle.RecordFailure(sourceKey)
	s.logger.Info("login failed",
		slog.String("source_key", sourceKey),
		slog.Int("failures", count))
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType:     pkglogger.EventLoginFailed,
		UserID:        userID,
		SourceKey:     sourceKey,
		FailureReason: reason,
	})
}

func (s *AuthService) startSession(ctx context.Context, user *models.User, sourceKey string, decision *models.RiskDecision) (*LoginResult, error) {
	sessionID := uuid.NewString()

	accessToken, expiresAt, err := s.tm.GenerateAccessToken(user.ID, user.Email, sessionID)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	invalidated, err := s.sessions.Register(ctx, user.ID, sessionID, expiresAt)
	if err != nil {
		s.logger.Error("failed to register session", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if len(invalidated) > 0 {
		metrics.SessionsInvalidated.Add(float64(len(invalidated)))
		s.auditLogger.LogAccountAction(ctx, pkglogger.AuditEvent{
			EventType: pkglogger.EventSessionInvalidated,
			UserID:    user.ID,
			SourceKey: sourceKey,
			Success:   true,
			Metadata: map[string]string{
				"invalidated_sessions": strings.Join(invalidated, ","),
				"new_session_id":       sessionID,
			},
		})
	}

	s.logger.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("session_id", sessionID),
		slog.Int("invalidated", len(invalidated)))
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventLoginAllowed,
		UserID:    user.ID,
		SourceKey: sourceKey,
		Country:   decision.CountryCode,
		Success:   true,
		Metadata:  map[string]string{"inconclusive_location": fmt.Sprint(decision.Inconclusive)},
	})

	if invalidated == nil {
		invalidated = []string{}
	}
	return &LoginResult{
		AccessToken:         accessToken,
		SessionID:           sessionID,
		ExpiresAt:           expiresAt,
		InvalidatedSessions: invalidated,
	}, nil
}

// Logout ends the session named by claims
func (s *AuthService) Logout(ctx context.Context, claims *models.TokenClaims) error {
	if claims == nil || claims.SessionID() == "" {
		return models.ErrUnauthorized
	}

	if err := s.sessions.Unregister(ctx, claims.SessionID()); err != nil {
		s.logger.Error("failed to unregister session",
			slog.String("session_id", claims.SessionID()),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("user logged out", slog.String("user_id", claims.UserID))
	s.auditLogger.LogAccountAction(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventLogout,
		UserID:    claims.UserID,
		Success:   true,
	})
	return nil
}

// ActiveSessions lists userID's sessions, oldest first
func (s *AuthService) ActiveSessions(ctx context.Context, userID string) ([]models.SessionHandle, error) {
	handles, err := s.sessions.ActiveSessions(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list sessions", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return handles, nil
}

// ResetThrottle clears the failure counter for sourceKey. It reports whether
// the key was tracked.
func (s *AuthService) ResetThrottle(ctx context.Context, sourceKey string) bool {
	cleared := s.throttle.Reset(sourceKey)
	s.auditLogger.LogAdminAction(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventThrottleReset,
		SourceKey: sourceKey,
		Success:   true,
		Metadata:  map[string]string{"cleared": fmt.Sprint(cleared)},
	})
	return cleared
}
