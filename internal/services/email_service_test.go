package services

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/loginguard/internal/models"
)

func testLocationEvent() models.LoginRiskEvent {
	return models.LoginRiskEvent{
		EventType:      models.EventNewLocation,
		UserID:         "user-1",
		UserIdentifier: "user@example.com",
		SourceKey:      "198.51.100.4",
		CountryCode:    "DE",
		Token:          "a1b2c3",
		Locale:         "de",
		BaseURL:        "https://app.example.com/",
		Timestamp:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEnrollmentLink(t *testing.T) {
	link := EnrollmentLink("https://app.example.com/", "tok en", "fr")

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "/enroll", u.Path)
	assert.Equal(t, "tok en", u.Query().Get("token"))
	assert.Equal(t, "fr", u.Query().Get("lang"))

	assert.Equal(t, "https://app.example.com/enroll?token=abc", EnrollmentLink("https://app.example.com", "abc", ""))
}

func TestNewLocationMessage(t *testing.T) {
	subject, body := NewLocationMessage(testLocationEvent())

	assert.NotEmpty(t, subject)
	assert.Contains(t, body, "DE")
	assert.Contains(t, body, "198.51.100.4")
	assert.Contains(t, body, "https://app.example.com/enroll?lang=de&token=a1b2c3")
	assert.Contains(t, body, "change your password")
}

func TestNewDeviceMessage(t *testing.T) {
	event := testLocationEvent()
	event.EventType = models.EventNewDevice
	event.Token = ""
	event.Device = "Firefox 121.0 - Linux"

	_, body := NewDeviceMessage(event)
	assert.Contains(t, body, "Firefox 121.0 - Linux")
	assert.Contains(t, body, "DE")
	assert.NotContains(t, body, "/enroll")
}

func TestAWSSESEmailService_SendNewLocationEmail(t *testing.T) {
	var got *ses.SendEmailInput
	client := &MockSESClient{
		SendEmailFunc: func(ctx context.Context, params *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
			got = params
			return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
		},
	}
	svc := NewEmailServiceWithClient(client, "security@example.com", slog.Default())

	require.NoError(t, svc.SendNewLocationEmail(context.Background(), testLocationEvent()))

	require.NotNil(t, got)
	assert.Equal(t, "security@example.com", aws.ToString(got.Source))
	assert.Equal(t, []string{"user@example.com"}, got.Destination.ToAddresses)
	assert.True(t, strings.Contains(aws.ToString(got.Message.Body.Text.Data), "token=a1b2c3"))
}

func TestAWSSESEmailService_BreakerOpensOnRepeatedFailure(t *testing.T) {
	calls := 0
	client := &MockSESClient{
		SendEmailFunc: func(ctx context.Context, params *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
			calls++
			return nil, errors.New("throttling")
		},
	}
	svc := NewEmailServiceWithClient(client, "security@example.com", slog.Default())
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		assert.Error(t, svc.SendNewDeviceEmail(ctx, testLocationEvent()))
	}
	assert.Equal(t, 5, calls, "open breaker must short-circuit SES")
}

func TestLogEmailService(t *testing.T) {
	svc := NewLogEmailService(slog.Default())
	assert.NoError(t, svc.SendNewLocationEmail(context.Background(), testLocationEvent()))
	assert.NoError(t, svc.SendNewDeviceEmail(context.Background(), testLocationEvent()))
}
