package models

import (
	"time"
)

// EnrollmentToken is a single-use, time-limited credential that marks a new
// country as trusted for a user once redeemed.
type EnrollmentToken struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	TokenHash   string     `json:"-"` // Never expose token hash
	CountryCode string     `json:"country_code"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// IsExpiredAt reports whether the token is expired at the given instant
func (t *EnrollmentToken) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsConsumed checks if the token has already been redeemed
func (t *EnrollmentToken) IsConsumed() bool {
	return t.ConsumedAt != nil
}

// TrustedLocation is a (user, country) pair confirmed as a legitimate login origin.
type TrustedLocation struct {
	UserID      string    `json:"user_id"`
	CountryCode string    `json:"country_code"`
	CreatedAt   time.Time `json:"created_at"`
}
