// Package metrics exposes Prometheus collectors for the login risk pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RiskDecisions counts evaluator outcomes.
	// Labels:
	//   - outcome: "allow", "block", "challenge"
	//   - reason: "trusted", "inconclusive", "disabled", "untrusted", "throttled"
	RiskDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loginguard_risk_decisions_total",
			Help: "Total number of login risk decisions",
		},
		[]string{"outcome", "reason"},
	)

	// ThrottleFailures counts failed attempts recorded against source keys.
	ThrottleFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loginguard_throttle_failures_total",
			Help: "Total number of failed login attempts recorded",
		},
	)

	// ThrottleEvictions counts tracked keys dropped by the throttle.
	// Labels:
	//   - cause: "capacity", "expired"
	ThrottleEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loginguard_throttle_evictions_total",
			Help: "Total number of throttle entries evicted",
		},
		[]string{"cause"},
	)

	ThrottleTrackedKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "loginguard_throttle_tracked_keys",
			Help: "Number of source keys currently tracked by the attempt throttle",
		},
	)

	EnrollmentTokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loginguard_enrollment_tokens_issued_total",
			Help: "Total number of location enrollment tokens issued",
		},
	)

	// EnrollmentRedemptions counts token redemptions.
	// Labels:
	//   - outcome: "success", "not_found", "error"
	EnrollmentRedemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loginguard_enrollment_redemptions_total",
			Help: "Total number of enrollment token redemption attempts",
		},
		[]string{"outcome"},
	)

	EnrollmentTokensPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loginguard_enrollment_tokens_purged_total",
			Help: "Total number of expired enrollment tokens deleted",
		},
	)

	// GeoLookups counts geolocation attempts.
	// Labels:
	//   - outcome: "resolved", "unresolved", "breaker_open"
	GeoLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loginguard_geo_lookups_total",
			Help: "Total number of source address geolocation lookups",
		},
		[]string{"outcome"},
	)

	// Notifications counts dispatched out-of-band messages.
	// Labels:
	//   - event_type: "new-location", "new-device"
	//   - outcome: "published", "publish_failed", "delivered", "delivery_failed"
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loginguard_notifications_total",
			Help: "Total number of login risk notifications",
		},
		[]string{"event_type", "outcome"},
	)

	SessionsInvalidated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loginguard_sessions_invalidated_total",
			Help: "Total number of sessions invalidated by newer concurrent logins",
		},
	)
)
