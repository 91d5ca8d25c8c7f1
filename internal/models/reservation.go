package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Reservation lifecycle states. There is no cancelled tombstone: a
// cancelled or expired reservation is simply deleted.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
)

// Reservation is a single user's claim on one seat at one event. At most
// one row may exist per (event_id, user_id); the unique index backs the
// application-level checks in the engine.
//
// ConfirmationToken is set while the reservation is pending and cleared
// on promotion to confirmed. It is delivered only via the confirmation
// email and must never appear in API responses or logs.
type Reservation struct {
	bun.BaseModel `bun:"table:reservations"`

	ID                string    `bun:"id,pk" json:"id"`
	EventID           string    `bun:"event_id,notnull,unique:reservations_event_user" json:"event_id"`
	UserID            string    `bun:"user_id,notnull,unique:reservations_event_user" json:"user_id"`
	Status            string    `bun:"status,notnull" json:"status"`
	ConfirmationToken string    `bun:"confirmation_token,nullzero" json:"-"`
	RequestedAt       time.Time `bun:"requested_at,notnull" json:"requested_at"`
	ConfirmedAt       time.Time `bun:"confirmed_at,nullzero" json:"confirmed_at,omitempty"`
}

// RSVPRequest is the body of a reserve call.
type RSVPRequest struct {
	UserID string `json:"user_id"`
}
