package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/BradenHooton/loginguard/internal/metrics"
	"github.com/BradenHooton/loginguard/internal/models"
)

// Mailer delivers the out-of-band messages for login risk events
type Mailer interface {
	SendNewLocationEmail(ctx context.Context, event models.LoginRiskEvent) error
	SendNewDeviceEmail(ctx context.Context, event models.LoginRiskEvent) error
}

type DispatcherConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	SendTimeout     time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxRetries:      3,
		InitialInterval: time.Second,
		SendTimeout:     15 * time.Second,
	}
}

// Dispatcher consumes login risk events and hands them to the Mailer. It is a
// supervised service: each Serve call builds a fresh router.
//
// A message whose delivery still fails after retries is logged and acked.
// The in-process bus redelivers nacked messages forever, and the trust state
// behind the message is already committed.
type Dispatcher struct {
	sub    message.Subscriber
	mailer Mailer
	config DispatcherConfig
	logger *slog.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

func NewDispatcher(sub message.Subscriber, mailer Mailer, config DispatcherConfig, logger *slog.Logger) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if config.MaxRetries < 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = defaults.InitialInterval
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = defaults.SendTimeout
	}
	return &Dispatcher{
		sub:    sub,
		mailer: mailer,
		config: config,
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// Serve runs the router until ctx is cancelled
func (d *Dispatcher) Serve(ctx context.Context) error {
	wmLogger := watermill.NewSlogLogger(d.logger)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, wmLogger)
	if err != nil {
		return fmt.Errorf("create notification router: %w", err)
	}

	// outermost first: a recovered panic is retried like any send error,
	// then absorbed
	router.AddMiddleware(d.absorbFailures)
	router.AddMiddleware(middleware.Retry{
		MaxRetries:      d.config.MaxRetries,
		InitialInterval: d.config.InitialInterval,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Logger:          wmLogger,
	}.Middleware)
	router.AddMiddleware(middleware.Recoverer)

	router.AddNoPublisherHandler("login-risk-mailer", TopicLoginRisk, keepOpen{d.sub}, d.handle)

	go func() {
		select {
		case <-router.Running():
			d.readyOnce.Do(func() { close(d.ready) })
		case <-ctx.Done():
		}
	}()

	if err := router.Run(ctx); err != nil {
		return fmt.Errorf("notification router stopped: %w", err)
	}
	return ctx.Err()
}

// Ready is closed once the first router has subscribed. Events published
// before then are not delivered.
func (d *Dispatcher) Ready() <-chan struct{} {
	return d.ready
}

// keepOpen stops the router from closing the shared bus when it shuts down,
// so a restarted dispatcher can subscribe again.
type keepOpen struct {
	message.Subscriber
}

func (keepOpen) Close() error { return nil }

func (d *Dispatcher) String() string {
	return "notification-dispatcher"
}

func (d *Dispatcher) handle(msg *message.Message) error {
	var event models.LoginRiskEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		// not retryable
		d.logger.Error("dropping undecodable login risk event",
			slog.String("message_id", msg.UUID),
			slog.Any("error", err))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.config.SendTimeout)
	defer cancel()

	switch event.EventType {
	case models.EventNewLocation:
		return d.mailer.SendNewLocationEmail(ctx, event)
	case models.EventNewDevice:
		return d.mailer.SendNewDeviceEmail(ctx, event)
	default:
		d.logger.Warn("dropping login risk event of unknown type",
			slog.String("message_id", msg.UUID),
			slog.String("event_type", event.EventType))
		return nil
	}
}

// absorbFailures logs a delivery that exhausted its retries and acks it
func (d *Dispatcher) absorbFailures(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		eventType := msg.Metadata.Get(eventTypeMetadata)

		produced, err := h(msg)
		if err != nil {
			metrics.Notifications.WithLabelValues(eventType, "delivery_failed").Inc()
			d.logger.Error("login risk notification not delivered",
				slog.String("message_id", msg.UUID),
				slog.String("event_type", eventType),
				slog.Any("error", err))
			return nil, nil
		}

		metrics.Notifications.WithLabelValues(eventType, "delivered").Inc()
		return produced, nil
	}
}
