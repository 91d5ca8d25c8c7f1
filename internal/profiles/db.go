package profiles

import (
	"context"

	"github.com/uptrace/bun"

	"ms-rsvp/internal/models"
)

// DB is the read-only view of the profiles collaborator. The RSVP engine
// only ever asks it for contact details to address notification emails;
// all profile bookkeeping lives elsewhere.
type DB struct {
	Bun *bun.DB
}

func NewDB(b *bun.DB) *DB {
	return &DB{Bun: b}
}

// GetContactInfo returns the email address and display name for a user.
func (d *DB) GetContactInfo(ctx context.Context, userID string) (*models.Contact, error) {
	var user models.User
	err := d.Bun.NewSelect().
		Model(&user).
		Column("email", "full_name").
		Where("id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &models.Contact{Email: user.Email, Name: user.FullName}, nil
}
