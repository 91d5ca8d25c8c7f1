package db

import (
	"context"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"ms-rsvp/internal/models"
)

// DB is the reservation store. Methods with a Tx suffix take a bun.IDB
// so the engine can run them inside its own unit of work; passing the
// embedded *bun.DB runs them standalone.
//
// Uniqueness of (event_id, user_id) is enforced by the unique index on
// the reservations table, not by an application-level check-then-insert.
type DB struct {
	Bun *bun.DB

	// rowLock is true when the dialect supports SELECT ... FOR UPDATE.
	// SQLite (used by the tests) serializes writers anyway.
	rowLock bool
}

func NewDB(b *bun.DB) *DB {
	return &DB{
		Bun:     b,
		rowLock: b.Dialect().Name() == dialect.PG,
	}
}

// SweepExpiredTx deletes every pending reservation older than the
// confirmation window. It never touches the capacity ledger: a pending
// reservation was never counted against capacity. Returns the number of
// rows removed.
func (d *DB) SweepExpiredTx(ctx context.Context, idb bun.IDB, window time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-window)
	res, err := idb.NewDelete().
		Model((*models.Reservation)(nil)).
		Where("status = ?", models.StatusPending).
		Where("requested_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetByEventAndUserTx looks up the single reservation for an
// (event, user) pair. With forUpdate the matched row is locked for the
// remainder of the transaction on dialects that support it.
func (d *DB) GetByEventAndUserTx(ctx context.Context, idb bun.IDB, eventID, userID string, forUpdate bool) (*models.Reservation, error) {
	var reservation models.Reservation
	q := idb.NewSelect().
		Model(&reservation).
		Where("event_id = ?", eventID).
		Where("user_id = ?", userID).
		Limit(1)
	if forUpdate && d.rowLock {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return &reservation, nil
}

// GetPendingByTokenTx resolves a confirmation token to its pending
// reservation, locking the row so two concurrent confirms of the same
// token cannot both succeed.
func (d *DB) GetPendingByTokenTx(ctx context.Context, idb bun.IDB, token string) (*models.Reservation, error) {
	var reservation models.Reservation
	q := idb.NewSelect().
		Model(&reservation).
		Where("confirmation_token = ?", token).
		Where("status = ?", models.StatusPending).
		Limit(1)
	if d.rowLock {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return &reservation, nil
}

// CreateTx inserts a new pending reservation. A unique-constraint error
// from the store means a concurrent reserve for the same pair won the
// race; the engine maps that to ErrAlreadyPending.
func (d *DB) CreateTx(ctx context.Context, idb bun.IDB, reservation *models.Reservation) error {
	_, err := idb.NewInsert().Model(reservation).Exec(ctx)
	return err
}

// PromoteTx transitions a reservation to confirmed, clearing the token
// so it can never be replayed.
func (d *DB) PromoteTx(ctx context.Context, idb bun.IDB, id string, confirmedAt time.Time) error {
	_, err := idb.NewUpdate().
		Model((*models.Reservation)(nil)).
		Set("status = ?", models.StatusConfirmed).
		Set("confirmation_token = NULL").
		Set("confirmed_at = ?", confirmedAt).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// DeleteTx removes a reservation row.
func (d *DB) DeleteTx(ctx context.Context, idb bun.IDB, id string) error {
	_, err := idb.NewDelete().
		Model((*models.Reservation)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// CountConfirmedTx counts reservations confirmed for an event. Used by
// tests and consistency checks to cross-validate the stored counter.
func (d *DB) CountConfirmedTx(ctx context.Context, idb bun.IDB, eventID string) (int, error) {
	return idb.NewSelect().
		Model((*models.Reservation)(nil)).
		Where("event_id = ?", eventID).
		Where("status = ?", models.StatusConfirmed).
		Count(ctx)
}
