package models

import (
	"time"
)

// User is the minimal account record needed to check credentials and address
// notifications.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
