package logger

import (
	"context"
	"log/slog"
	"time"
)

// Audit event types
const (
	EventLoginThrottled     = "login_throttled"
	EventLoginFailed        = "login_failed"
	EventLoginAllowed       = "login_allowed"
	EventLocationChallenged = "location_challenged"
	EventLocationEnrolled   = "location_enrolled"
	EventEnrollmentRejected = "enrollment_rejected"
	EventSessionInvalidated = "session_invalidated"
	EventLogout             = "logout"
	EventThrottleReset      = "throttle_reset"
	EventLocationTrusted    = "location_trusted"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	UserID        string
	SourceKey     string
	Country       string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes security audit records to the structured log
type AuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger, now: time.Now}
}

// LogAuthAttempt records the outcome of a login attempt or enrollment
func (al *AuditLogger) LogAuthAttempt(ctx context.Context, event AuditEvent) {
	al.log(ctx, "auth", event)
}

// LogAccountAction records session and trust changes
func (al *AuditLogger) LogAccountAction(ctx context.Context, event AuditEvent) {
	al.log(ctx, "account", event)
}

// LogAdminAction records operator recovery actions
func (al *AuditLogger) LogAdminAction(ctx context.Context, event AuditEvent) {
	al.log(ctx, "admin", event)
}

func (al *AuditLogger) log(ctx context.Context, auditType string, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.SourceKey != "" {
		attrs = append(attrs, slog.String("source_key", event.SourceKey))
	}
	if event.Country != "" {
		attrs = append(attrs, slog.String("country", event.Country))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}
