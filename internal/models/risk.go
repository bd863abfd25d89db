package models

import "time"

// RiskOutcome is the result of evaluating a login attempt.
type RiskOutcome string

const (
	RiskAllow     RiskOutcome = "allow"
	RiskBlock     RiskOutcome = "block"
	RiskChallenge RiskOutcome = "challenge"
)

// RiskDecision is returned by the login risk evaluator. Country is empty when
// the source could not be resolved or the check is disabled.
type RiskDecision struct {
	Outcome     RiskOutcome
	CountryCode string
	// Inconclusive is set when geolocation failed and the decision fell open
	Inconclusive bool
}

// LoginContext carries the request-derived facts about a successful credential check.
type LoginContext struct {
	UserID    string
	Email     string
	SourceKey string
	UserAgent string
	Locale    string
	BaseURL   string
}

// Event types published across the notification boundary
const (
	EventNewLocation = "new-location"
	EventNewDevice   = "new-device"
)

// LoginRiskEvent is the message consumed by the notification dispatcher.
type LoginRiskEvent struct {
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	UserID         string    `json:"user_id"`
	UserIdentifier string    `json:"user_identifier"`
	SourceKey      string    `json:"source_key"`
	CountryCode    string    `json:"country_code,omitempty"`
	Device         string    `json:"device,omitempty"`
	Token          string    `json:"token,omitempty"`
	Locale         string    `json:"locale"`
	BaseURL        string    `json:"base_url"`
	Timestamp      time.Time `json:"timestamp"`
}
