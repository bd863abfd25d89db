package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	gobreaker "github.com/sony/gobreaker/v2"
)

// SESClient is the subset of the SES API used for sending
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AWSSESEmailService sends login risk notifications through AWS SES. Sends
// pass through a circuit breaker so an SES outage fails fast.
type AWSSESEmailService struct {
	sesClient   SESClient
	fromAddress string
	breaker     *gobreaker.CircuitBreaker[string]
	logger      *slog.Logger
}

// NewAWSSESEmailService creates an SES-backed email service for region
func NewAWSSESEmailService(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewEmailServiceWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

// NewEmailServiceWithClient wires an explicit SES client, for tests
func NewEmailServiceWithClient(client SESClient, fromAddress string, logger *slog.Logger) *AWSSESEmailService {
	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "ses",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &AWSSESEmailService{
		sesClient:   client,
		fromAddress: fromAddress,
		breaker:     breaker,
		logger:      logger,
	}
}

// SendNewLocationEmail tells the user about a blocked login from a new country
// and carries the enrollment link that trusts it.
func (s *AWSSESEmailService) SendNewLocationEmail(ctx context.Context, event models.LoginRiskEvent) error {
	subject, body := NewLocationMessage(event)
	return s.send(ctx, event.UserIdentifier, subject, body)
}

// SendNewDeviceEmail tells the user about a successful login from a new device or country
func (s *AWSSESEmailService) SendNewDeviceEmail(ctx context.Context, event models.LoginRiskEvent) error {
	subject, body := NewDeviceMessage(event)
	return s.send(ctx, event.UserIdentifier, subject, body)
}

func (s *AWSSESEmailService) send(ctx context.Context, to, subject, body string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
	}

	messageID, err := s.breaker.Execute(func() (string, error) {
		result, err := s.sesClient.SendEmail(ctx, input)
		if err != nil {
			return "", err
		}
		return aws.ToString(result.MessageId), nil
	})
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("email", logger.SanitizedEmail(to)),
			slog.String("subject", subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("email", logger.SanitizedEmail(to)),
		slog.String("subject", subject),
		slog.String("message_id", messageID))
	return nil
}

// LogEmailService stands in for SES when email is disabled. It logs that a
// message would have been sent, never its body.
type LogEmailService struct {
	logger *slog.Logger
}

func NewLogEmailService(logger *slog.Logger) *LogEmailService {
	return &LogEmailService{logger: logger}
}

func (s *LogEmailService) SendNewLocationEmail(ctx context.Context, event models.LoginRiskEvent) error {
	s.logger.Info("email disabled, skipping new location notification",
		slog.String("user_id", event.UserID),
		slog.String("country", event.CountryCode))
	return nil
}

func (s *LogEmailService) SendNewDeviceEmail(ctx context.Context, event models.LoginRiskEvent) error {
	s.logger.Info("email disabled, skipping new device notification",
		slog.String("user_id", event.UserID),
		slog.String("device", event.Device))
	return nil
}

// EnrollmentLink builds the confirmation URL for a location enrollment token
func EnrollmentLink(baseURL, token, locale string) string {
	q := url.Values{}
	q.Set("token", token)
	if locale != "" {
		q.Set("lang", locale)
	}
	return strings.TrimRight(baseURL, "/") + "/enroll?" + q.Encode()
}

func NewLocationMessage(event models.LoginRiskEvent) (string, string) {
	country := event.CountryCode
	if country == "" {
		country = "an unknown location"
	}
	link := EnrollmentLink(event.BaseURL, event.Token, event.Locale)

	body := fmt.Sprintf(`Sign-in blocked from a new location

Someone signed in to your account with the correct password from %s (address %s) at %s.
We blocked the sign-in because you have not used this location before.

If this was you, confirm the location by opening the link below, then sign in again:

%s

If this was not you, change your password immediately. Your password is known to someone else.

This is an automated message. Please do not reply to this email.
`, country, event.SourceKey, event.Timestamp.UTC().Format(time.RFC1123), link)

	return "Sign-in blocked from a new location", body
}

func NewDeviceMessage(event models.LoginRiskEvent) (string, string) {
	country := event.CountryCode
	if country == "" {
		country = "an unknown location"
	}

	body := fmt.Sprintf(`New sign-in to your account

Your account was signed in to from %s in %s at %s.

If this was you, no action is needed.
If this was not you, change your password immediately.

This is an automated message. Please do not reply to this email.
`, event.Device, country, event.Timestamp.UTC().Format(time.RFC1123))

	return "New sign-in to your account", body
}
