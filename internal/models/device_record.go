package models

import "time"

// DeviceRecord is a device previously seen for a user, keyed by descriptor.
type DeviceRecord struct {
	UserID           string    `json:"user_id"`
	Descriptor       string    `json:"descriptor"`
	LastSeenAt       time.Time `json:"last_seen_at"`
	LastKnownCountry string    `json:"last_country"`
}
