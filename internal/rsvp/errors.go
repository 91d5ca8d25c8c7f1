// Package rsvp implements the reservation and confirmation engine: it
// reserves a seat at a capacity-limited event, emails a confirmation
// link, atomically promotes a pending reservation to confirmed while
// enforcing the event's capacity ceiling, expires stale reservations and
// reverses attendee counts on cancellation.
package rsvp

import "errors"

// Sentinel errors for the user-facing failure modes of the engine. All
// are recoverable conditions; the API layer translates them into HTTP
// statuses with errors.Is.
var (
	// ErrAlreadyConfirmed is returned by Reserve when the requester
	// already holds a confirmed reservation for the event.
	ErrAlreadyConfirmed = errors.New("reservation already confirmed")

	// ErrAlreadyPending is returned by Reserve when the requester has an
	// unexpired pending reservation for the event.
	ErrAlreadyPending = errors.New("reservation already pending confirmation")

	// ErrCapacityExceeded is returned when the event has no seats left,
	// either at reserve time or when a confirmation loses the race for
	// the last seat. In the latter case the reservation stays pending.
	ErrCapacityExceeded = errors.New("event capacity exceeded")

	// ErrInvalidOrExpiredToken is returned by Confirm when no pending
	// reservation matches the presented token.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired confirmation token")

	// ErrConfirmationWindowExpired is returned by Confirm when the
	// matched reservation sat pending longer than the confirmation
	// window; the stale row is deleted as part of the failure.
	ErrConfirmationWindowExpired = errors.New("confirmation window expired")

	// ErrNotFound is returned when no reservation (or event) exists for
	// the given identifiers.
	ErrNotFound = errors.New("reservation not found")
)
