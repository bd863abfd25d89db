// Package notification carries login risk events from the evaluator to
// out-of-band delivery. Publishing never waits on delivery.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/BradenHooton/loginguard/internal/metrics"
	"github.com/BradenHooton/loginguard/internal/models"
)

// TopicLoginRisk carries models.LoginRiskEvent payloads
const TopicLoginRisk = "auth.login-risk"

const eventTypeMetadata = "event_type"

// NewPubSub creates the in-process message bus shared by Publisher and Dispatcher
func NewPubSub(logger *slog.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, watermill.NewSlogLogger(logger))
}

// Publisher puts login risk events on the bus
type Publisher struct {
	pub    message.Publisher
	logger *slog.Logger
}

func NewPublisher(pub message.Publisher, logger *slog.Logger) *Publisher {
	return &Publisher{pub: pub, logger: logger}
}

// PublishLoginRisk enqueues event for delivery. The request context is not
// attached to the message, since delivery outlives the request.
func (p *Publisher) PublishLoginRisk(ctx context.Context, event models.LoginRiskEvent) error {
	if event.EventID == "" {
		event.EventID = watermill.NewUUID()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode login risk event: %w", err)
	}

	msg := message.NewMessage(event.EventID, payload)
	msg.Metadata.Set(eventTypeMetadata, event.EventType)

	if err := p.pub.Publish(TopicLoginRisk, msg); err != nil {
		metrics.Notifications.WithLabelValues(event.EventType, "publish_failed").Inc()
		return fmt.Errorf("failed to publish login risk event: %w", err)
	}

	metrics.Notifications.WithLabelValues(event.EventType, "published").Inc()
	p.logger.Debug("login risk event published",
		slog.String("event_id", event.EventID),
		slog.String("event_type", event.EventType),
		slog.String("user_id", event.UserID))
	return nil
}
