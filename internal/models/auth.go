package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the claims carried by a session bearer token. The registered
// ID claim holds the session id tracked by the session registry.
type TokenClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// SessionID returns the registry session id embedded in the token
func (c *TokenClaims) SessionID() string {
	return c.ID
}
