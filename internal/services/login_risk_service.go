package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/loginguard/internal/geo"
	"github.com/BradenHooton/loginguard/internal/metrics"
	"github.com/BradenHooton/loginguard/internal/models"
	pkglogger "github.com/BradenHooton/loginguard/pkg/logger"
)

// TrustedLocationRepository defines the persistence operations for trusted countries
type TrustedLocationRepository interface {
	IsTrusted(ctx context.Context, userID, countryCode string) (bool, error)
	Trust(ctx context.Context, userID, countryCode string) (bool, error)
}

// DeviceRecordRepository defines the persistence operations for device history
type DeviceRecordRepository interface {
	GetByDescriptor(ctx context.Context, userID, descriptor string) (*models.DeviceRecord, error)
	Upsert(ctx context.Context, rec *models.DeviceRecord) error
}

// EventPublisher hands login risk events to asynchronous delivery
type EventPublisher interface {
	PublishLoginRisk(ctx context.Context, event models.LoginRiskEvent) error
}

// deviceCheckTimeout bounds a detached device check
const deviceCheckTimeout = 10 * time.Second

type LoginRiskConfig struct {
	LocationCheckEnabled bool
	EnrollmentTokenTTL   time.Duration
}

// LoginRiskService runs the post-authentication location gate and the
// informational device check.
type LoginRiskService struct {
	resolver    geo.Resolver
	trusted     TrustedLocationRepository
	devices     DeviceRecordRepository
	tokens      *TokenService
	publisher   EventPublisher
	describe    func(userAgent string) string
	config      LoginRiskConfig
	now         func() time.Time
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger

	deviceChecks sync.WaitGroup
}

func NewLoginRiskService(
	resolver geo.Resolver,
	trusted TrustedLocationRepository,
	devices DeviceRecordRepository,
	tokens *TokenService,
	publisher EventPublisher,
	config LoginRiskConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *LoginRiskService {
	if config.EnrollmentTokenTTL <= 0 {
		config.EnrollmentTokenTTL = 24 * time.Hour
	}
	return &LoginRiskService{
		resolver:    resolver,
		trusted:     trusted,
		devices:     devices,
		tokens:      tokens,
		publisher:   publisher,
		describe:    geo.DescribeDevice,
		config:      config,
		now:         time.Now,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// WithClock replaces the time source, for tests
func (s *LoginRiskService) WithClock(now func() time.Time) *LoginRiskService {
	s.now = now
	return s
}

// Evaluate decides whether an authenticated login may proceed. It returns
// RiskChallenge, with a fresh enrollment token mailed to the user, when the
// source country is not trusted. Geolocation failure falls open to RiskAllow.
// The device check runs only for allowed logins, after Evaluate returns, and
// never changes the outcome.
func (s *LoginRiskService) Evaluate(ctx context.Context, lc models.LoginContext) (*models.RiskDecision, error) {
	if !s.config.LocationCheckEnabled {
		metrics.RiskDecisions.WithLabelValues(string(models.RiskAllow), "disabled").Inc()
		return &models.RiskDecision{Outcome: models.RiskAllow}, nil
	}

	country, err := s.resolver.Resolve(ctx, lc.SourceKey)
	if err != nil {
		s.logger.Warn("location check inconclusive, allowing login",
			slog.String("user_id", lc.UserID),
			slog.String("source_key", lc.SourceKey),
			slog.Any("error", err))
		metrics.RiskDecisions.WithLabelValues(string(models.RiskAllow), "inconclusive").Inc()
		s.checkDeviceDetached(ctx, lc, "")
		return &models.RiskDecision{Outcome: models.RiskAllow, Inconclusive: true}, nil
	}

	trusted, err := s.trusted.IsTrusted(ctx, lc.UserID, country)
	if err != nil {
		return nil, fmt.Errorf("failed to check trusted location: %w", err)
	}

	if trusted {
		metrics.RiskDecisions.WithLabelValues(string(models.RiskAllow), "trusted").Inc()
		s.checkDeviceDetached(ctx, lc, country)
		return &models.RiskDecision{Outcome: models.RiskAllow, CountryCode: country}, nil
	}

	plainToken, token, err := s.tokens.Issue(ctx, lc.UserID, country, s.config.EnrollmentTokenTTL)
	if err != nil {
		return nil, err
	}

	event := models.LoginRiskEvent{
		EventID:        uuid.NewString(),
		EventType:      models.EventNewLocation,
		UserID:         lc.UserID,
		UserIdentifier: lc.Email,
		SourceKey:      lc.SourceKey,
		CountryCode:    country,
		Token:          plainToken,
		Locale:         lc.Locale,
		BaseURL:        lc.BaseURL,
		Timestamp:      s.now().UTC(),
	}
	if err := s.publisher.PublishLoginRisk(ctx, event); err != nil {
		// the token is committed; the user can retry login to get a new mail
		s.logger.Error("failed to publish new location event",
			slog.String("user_id", lc.UserID),
			slog.String("token_id", token.ID),
			slog.Any("error", err))
	}

	metrics.RiskDecisions.WithLabelValues(string(models.RiskChallenge), "untrusted").Inc()
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType:     pkglogger.EventLocationChallenged,
		UserID:        lc.UserID,
		SourceKey:     lc.SourceKey,
		Country:       country,
		FailureReason: "unusual_location",
	})

	return &models.RiskDecision{Outcome: models.RiskChallenge, CountryCode: country}, nil
}

// checkDeviceDetached runs checkDevice in the background on a context that
// outlives the request
func (s *LoginRiskService) checkDeviceDetached(ctx context.Context, lc models.LoginContext, country string) {
	ctx = context.WithoutCancel(ctx)
	s.deviceChecks.Add(1)
	go func() {
		defer s.deviceChecks.Done()
		ctx, cancel := context.WithTimeout(ctx, deviceCheckTimeout)
		defer cancel()
		s.checkDevice(ctx, lc, country)
	}()
}

// WaitDeviceChecks blocks until every started device check has finished
func (s *LoginRiskService) WaitDeviceChecks() {
	s.deviceChecks.Wait()
}

// checkDevice notifies the user about an unseen device, or a known device in
// a new country, and records the sighting. Failures are logged only. An
// unresolved country never counts as a change and keeps the last known one.
func (s *LoginRiskService) checkDevice(ctx context.Context, lc models.LoginContext, country string) {
	descriptor := s.describe(lc.UserAgent)
	lastCountry := ""

	notify := false
	rec, err := s.devices.GetByDescriptor(ctx, lc.UserID, descriptor)
	switch {
	case errors.Is(err, models.ErrNotFound):
		notify = true
	case err != nil:
		s.logger.Error("device history lookup failed",
			slog.String("user_id", lc.UserID),
			slog.Any("error", err))
		return
	default:
		lastCountry = rec.LastKnownCountry
		notify = country != "" && !strings.EqualFold(rec.LastKnownCountry, country)
	}

	if country != "" {
		lastCountry = country
	}

	now := s.now().UTC()
	if err := s.devices.Upsert(ctx, &models.DeviceRecord{
		UserID:           lc.UserID,
		Descriptor:       descriptor,
		LastSeenAt:       now,
		LastKnownCountry: lastCountry,
	}); err != nil {
		s.logger.Error("failed to record device",
			slog.String("user_id", lc.UserID),
			slog.Any("error", err))
	}

	if !notify {
		return
	}

	event := models.LoginRiskEvent{
		EventID:        uuid.NewString(),
		EventType:      models.EventNewDevice,
		UserID:         lc.UserID,
		UserIdentifier: lc.Email,
		SourceKey:      lc.SourceKey,
		CountryCode:    country,
		Device:         descriptor,
		Locale:         lc.Locale,
		BaseURL:        lc.BaseURL,
		Timestamp:      now,
	}
	if err := s.publisher.PublishLoginRisk(ctx, event); err != nil {
		s.logger.Error("failed to publish new device event",
			slog.String("user_id", lc.UserID),
			slog.Any("error", err))
	}
}

// EnableLocation redeems an enrollment token and returns the country it
// trusted. Missing, expired and already used tokens all yield models.ErrTokenNotFound.
func (s *LoginRiskService) EnableLocation(ctx context.Context, plainToken string) (string, error) {
	loc, err := s.tokens.Redeem(ctx, plainToken)
	if err != nil {
		if errors.Is(err, models.ErrTokenNotFound) {
			metrics.EnrollmentRedemptions.WithLabelValues("not_found").Inc()
			s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
				EventType:     pkglogger.EventEnrollmentRejected,
				FailureReason: "token_not_found",
			})
			return "", models.ErrTokenNotFound
		}
		metrics.EnrollmentRedemptions.WithLabelValues("error").Inc()
		return "", err
	}

	metrics.EnrollmentRedemptions.WithLabelValues("success").Inc()
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventLocationEnrolled,
		UserID:    loc.UserID,
		Country:   loc.CountryCode,
		Success:   true,
	})
	return loc.CountryCode, nil
}

// TrustLocation marks countryCode as trusted for userID without a token.
// Used for registration-time defaults and operator recovery.
func (s *LoginRiskService) TrustLocation(ctx context.Context, userID, countryCode string) (bool, error) {
	countryCode = strings.ToUpper(strings.TrimSpace(countryCode))
	if len(countryCode) != 2 {
		return false, models.ErrBadRequest
	}

	added, err := s.trusted.Trust(ctx, userID, countryCode)
	if err != nil {
		return false, err
	}

	s.auditLogger.LogAccountAction(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventLocationTrusted,
		UserID:    userID,
		Country:   countryCode,
		Success:   true,
		Metadata:  map[string]string{"added": fmt.Sprint(added)},
	})
	return added, nil
}
