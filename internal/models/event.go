package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Event is owned by the events collaborator. The capacity fields are the
// only part touched by the RSVP engine: Capacity is fixed at creation
// (nil means unlimited) and ConfirmedCount is mutated exclusively through
// the capacity ledger operations in internal/events.
type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID             string    `bun:"id,pk" json:"id"`
	Title          string    `bun:"title,notnull" json:"title"`
	Description    string    `bun:"description,nullzero" json:"description,omitempty"`
	StartDate      time.Time `bun:"start_date,notnull" json:"start_date"`
	EndDate        time.Time `bun:"end_date,notnull" json:"end_date"`
	Capacity       *int      `bun:"capacity" json:"capacity,omitempty"`
	ConfirmedCount int       `bun:"confirmed_count,notnull,default:0" json:"confirmed_count"`
	CreatedAt      time.Time `bun:"created_at,notnull" json:"created_at"`
}

// HasRoom reports whether the event can take one more confirmed attendee
// based on the values loaded into this struct. It is a read-time check
// only; the authoritative guard is the conditional increment in the
// capacity ledger.
func (e *Event) HasRoom() bool {
	return e.Capacity == nil || e.ConfirmedCount < *e.Capacity
}
