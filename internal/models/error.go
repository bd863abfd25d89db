package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Authentication denials surfaced to the caller
	ErrThrottled       = errors.New("too many failed login attempts")
	ErrUnusualLocation = errors.New("login from unusual location")

	// Enrollment token outcomes
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")

	// Absorbed faults
	ErrGeoUnresolved = errors.New("source address could not be resolved")
)
