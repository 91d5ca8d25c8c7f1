package models

import (
	"time"

	"github.com/uptrace/bun"
)

// User rows are owned by the profiles collaborator. The RSVP engine only
// reads them to address notification emails.
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID        string    `bun:"id,pk" json:"id"`
	Email     string    `bun:"email,unique,notnull" json:"email"`
	FullName  string    `bun:"full_name,notnull" json:"full_name"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

// Contact is the minimal payload the notification gateway needs.
type Contact struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}
