package events

import (
	"context"

	"github.com/uptrace/bun"

	"ms-rsvp/internal/models"
)

// DB wraps the events table. Besides plain reads it carries the capacity
// ledger: the confirmed_count column is mutated only through
// TryIncrementConfirmed and DecrementConfirmed, both of which are single
// guarded UPDATE statements so concurrent confirmations can never push
// the count past capacity.
type DB struct {
	Bun *bun.DB
}

func NewDB(b *bun.DB) *DB {
	return &DB{Bun: b}
}

// GetEventByID fetches one event outside of any transaction. Used by the
// read endpoints.
func (d *DB) GetEventByID(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// ListEvents returns all events ordered by start date.
func (d *DB) ListEvents(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	err := d.Bun.NewSelect().
		Model(&events).
		Order("start_date").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// GetEventTx fetches one event within the caller's unit of work.
func (d *DB) GetEventTx(ctx context.Context, idb bun.IDB, id string) (*models.Event, error) {
	var event models.Event
	err := idb.NewSelect().
		Model(&event).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// TryIncrementConfirmed bumps confirmed_count by one, but only while the
// event still has room. The capacity check and the increment are a single
// UPDATE so no other confirmation can slip in between them; a false
// return means the event filled up.
func (d *DB) TryIncrementConfirmed(ctx context.Context, idb bun.IDB, eventID string) (bool, error) {
	res, err := idb.NewUpdate().
		Model((*models.Event)(nil)).
		Set("confirmed_count = confirmed_count + 1").
		Where("id = ?", eventID).
		Where("capacity IS NULL OR confirmed_count < capacity").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DecrementConfirmed reverses one confirmed attendee, floored at zero.
func (d *DB) DecrementConfirmed(ctx context.Context, idb bun.IDB, eventID string) error {
	_, err := idb.NewUpdate().
		Model((*models.Event)(nil)).
		Set("confirmed_count = confirmed_count - 1").
		Where("id = ?", eventID).
		Where("confirmed_count > 0").
		Exec(ctx)
	return err
}
